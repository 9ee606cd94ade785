// Package record defines the single persisted record managed by otpslot.
//
// A Record pairs a lifecycle Phase with a Credential. While the phase is
// Init the credential is logically unset, even if stale values are still
// physically present; once the phase is Done the credential secret is
// non-empty and does not change until the record is reset.
package record

import (
	"errors"
	"fmt"
)

// ErrNotFound is reported by a store when no record has been written yet,
// meaning the slot was never instantiated.
var ErrNotFound = errors.New("record not found")

// Phase is the lifecycle tag of a record.
type Phase string

const (
	// Init means no usable secret is present.
	Init Phase = "init"

	// Done means a secret is stored and may be used to derive codes.
	Done Phase = "done"
)

// String returns the label for p.
func (p Phase) String() string { return string(p) }

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	switch p {
	case Init, Done:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler. The zero Phase encodes as
// Init.
func (p Phase) MarshalText() ([]byte, error) {
	switch p {
	case "", Init:
		return []byte(Init), nil
	case Done:
		return []byte(Done), nil
	}
	return nil, fmt.Errorf("invalid phase %q", string(p))
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown labels are
// rejected rather than mapped to a default.
func (p *Phase) UnmarshalText(text []byte) error {
	switch v := Phase(text); v {
	case Init, Done:
		*p = v
		return nil
	}
	return fmt.Errorf("invalid phase %q", text)
}

// A Credential is the named secret held by a record.
type Credential struct {
	// Name is a human-readable label, such as an account identifier.
	Name string `json:"name"`

	// Secret is the raw shared-secret material used to derive codes.
	Secret string `json:"secret"`
}

// A Record is the persisted unit of state.
type Record struct {
	Phase      Phase      `json:"phase"`
	Credential Credential `json:"credential"`
}

// New returns a freshly-instantiated record in the Init phase.
func New() Record { return Record{Phase: Init} }

// HasSecret reports whether r holds a usable secret.
func (r Record) HasSecret() bool { return r.Phase == Done }

// Check reports an error if r violates the record invariants.
func (r Record) Check() error {
	switch r.Phase {
	case "", Init:
		return nil // the credential is ignored
	case Done:
		if r.Credential.Secret == "" {
			return errors.New("record is done but has an empty secret")
		}
		return nil
	}
	return fmt.Errorf("invalid phase %q", string(r.Phase))
}
