// Package slot implements the lifecycle of a single stored credential and the
// derivation of one-time codes from it.
//
// A slot is in one of two phases. In the Init phase no secret is usable, and
// SubmitSecret is the only way to make one usable. In the Done phase the
// stored secret is used to derive codes, and further submissions are refused
// until the slot is Reset:
//
//	     SubmitSecret        Reset
//	Init ───────────▶ Done ───────▶ Init
//
// Reset is valid in either phase and always lands in Init.
package slot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/totp"
)

var (
	// ErrAlreadyHasSecret is reported by SubmitSecret when the slot already
	// holds a secret. Reset the slot before submitting another.
	ErrAlreadyHasSecret = errors.New("cannot add more than one secret")

	// ErrSecretNotReady is reported when a code is requested before a secret
	// has been submitted.
	ErrSecretNotReady = errors.New("cannot compute a token until the secret is loaded")

	// ErrEmptySecret is reported by SubmitSecret for an empty secret.
	ErrEmptySecret = errors.New("secret must not be empty")
)

// A Store persists the single record of a slot. Implementations must make
// Save all-or-nothing: a failed Save leaves the previous record intact.
// Load reports record.ErrNotFound if no record has been saved.
type Store interface {
	Load(ctx context.Context) (record.Record, error)
	Save(ctx context.Context, r record.Record) error
}

// StoreError reports a failure of the underlying Store. The error from the
// store is preserved unchanged and is available via errors.Unwrap.
type StoreError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *StoreError) Error() string { return e.Op + " record: " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// Options are optional settings for a Machine. A nil *Options provides
// default values.
type Options struct {
	// Now, if set, is used in place of time.Now to read the clock.
	Now func() time.Time

	// ScrubOnReset, if true, causes Reset to clear the stored credential as
	// well as returning to the Init phase. By default only the phase changes
	// and the stale credential remains in storage until the next submit.
	ScrubOnReset bool
}

func (o *Options) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Options) scrubOnReset() bool { return o != nil && o.ScrubOnReset }

// A Machine enforces the slot lifecycle over a Store. Operations on a single
// Machine are serialized; to get the same guarantee across processes, the
// Store must provide its own exclusion (see the slotstore packages).
type Machine struct {
	store Store
	opts  *Options

	μ sync.Mutex
}

// New constructs a Machine that persists its record in s.
func New(s Store, opts *Options) *Machine { return &Machine{store: s, opts: opts} }

// Instantiate writes a fresh record in the Init phase, replacing any record
// already in the store.
func (m *Machine) Instantiate(ctx context.Context) error {
	m.μ.Lock()
	defer m.μ.Unlock()

	// Load first so that stores tracking a generation observe the current one.
	// A missing record is the expected case here.
	if _, err := m.store.Load(ctx); err != nil && !errors.Is(err, record.ErrNotFound) {
		return &StoreError{Op: "load", Err: err}
	}
	return m.save(ctx, record.New())
}

// SubmitSecret stores the named secret and moves the slot to the Done phase.
// If the slot already holds a secret, it reports ErrAlreadyHasSecret and the
// stored record is not modified.
func (m *Machine) SubmitSecret(ctx context.Context, name, secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}
	m.μ.Lock()
	defer m.μ.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return err
	}
	switch r.Phase {
	case record.Init:
		r.Credential = record.Credential{Name: name, Secret: secret}
		r.Phase = record.Done
	case record.Done:
		return ErrAlreadyHasSecret
	default:
		panic(fmt.Sprintf("unhandled phase %q", r.Phase))
	}
	return m.save(ctx, r)
}

// Reset returns the slot to the Init phase. It is valid in either phase.
// Codes issued from the previous secret should be considered void.
func (m *Machine) Reset(ctx context.Context) error {
	m.μ.Lock()
	defer m.μ.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return err
	}
	r.Phase = record.Init
	if m.opts.scrubOnReset() {
		r.Credential = record.Credential{}
	}
	return m.save(ctx, r)
}

// Phase reports the current phase of the slot.
func (m *Machine) Phase(ctx context.Context) (record.Phase, error) {
	m.μ.Lock()
	defer m.μ.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	return r.Phase, nil
}

// Status describes the visible state of a slot. It never includes the secret.
type Status struct {
	Phase record.Phase `json:"phase"`
	Name  string       `json:"name,omitempty"` // set only in the Done phase
}

// Status reports the phase of the slot and, if a secret is stored, the name
// of its credential.
func (m *Machine) Status(ctx context.Context) (Status, error) {
	m.μ.Lock()
	defer m.μ.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Phase: r.Phase}
	if r.HasSecret() {
		st.Name = r.Credential.Name
	}
	return st, nil
}

// Credential returns the stored credential. It reports ErrSecretNotReady if
// the slot is in the Init phase.
func (m *Machine) Credential(ctx context.Context) (record.Credential, error) {
	m.μ.Lock()
	defer m.μ.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return record.Credential{}, err
	} else if !r.HasSecret() {
		return record.Credential{}, ErrSecretNotReady
	}
	return r.Credential, nil
}

// A Token is a one-time code together with the end of its validity window.
type Token struct {
	Code       string    `json:"token"`
	ValidUntil time.Time `json:"valid_until"`
}

// Token derives the code for the current time step from the stored secret.
// It reports ErrSecretNotReady if the slot is in the Init phase.
func (m *Machine) Token(ctx context.Context) (Token, error) {
	m.μ.Lock()
	defer m.μ.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return Token{}, err
	}
	switch r.Phase {
	case record.Init:
		return Token{}, ErrSecretNotReady
	case record.Done:
		now := m.opts.now()
		code, err := totp.Derive([]byte(r.Credential.Secret), now)
		if err != nil {
			return Token{}, fmt.Errorf("derive code: %w", err)
		}
		return Token{Code: code, ValidUntil: totp.WindowEnd(now)}, nil
	default:
		panic(fmt.Sprintf("unhandled phase %q", r.Phase))
	}
}

// load fetches the current record and checks its invariants. A record with
// an empty phase is treated as Init.
func (m *Machine) load(ctx context.Context) (record.Record, error) {
	r, err := m.store.Load(ctx)
	if err != nil {
		return r, &StoreError{Op: "load", Err: err}
	}
	if r.Phase == "" {
		r.Phase = record.Init
	}
	if err := r.Check(); err != nil {
		return r, &StoreError{Op: "load", Err: err}
	}
	return r, nil
}

func (m *Machine) save(ctx context.Context, r record.Record) error {
	if err := m.store.Save(ctx, r); err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	return nil
}
