// Package slotlib is a support library for the otpslot tools.
package slotlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/creachadair/getpass"
	"github.com/creachadair/otp/otpauth"
	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/slot"
	"github.com/creachadair/otpslot/slotstore"
	"github.com/creachadair/otpslot/slotstore/redistore"
	"github.com/creachadair/otpslot/slotstore/sqlstore"
	"github.com/creachadair/otpslot/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"
)

// StoreConfig describes where and how the slot record is stored.
type StoreConfig struct {
	// Kind selects the backend: "file" (the default), "sqlite", or "redis".
	Kind string `yaml:"kind,omitempty"`

	// Path is the file path of a file or sqlite store.
	Path string `yaml:"path,omitempty"`

	// Addr is the host:port of a redis server.
	Addr string `yaml:"addr,omitempty"`

	// Password is the redis server password, if any.
	Password string `yaml:"password,omitempty"`

	// DB is the redis database number.
	DB int `yaml:"db,omitempty"`

	// Key is the redis key holding the record. If empty, a default is used.
	Key string `yaml:"key,omitempty"`

	// Plaintext, if true, stores the record without encryption and no
	// passphrase is required.
	Plaintext bool `yaml:"plaintext,omitempty"`
}

// Check reports an error if c is not a usable configuration.
func (c StoreConfig) Check() error {
	switch c.Kind {
	case "", "file", "sqlite":
		if c.Path == "" {
			return errors.New("no store path specified")
		}
	case "redis":
		if c.Addr == "" {
			return errors.New("no redis address specified")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Kind)
	}
	return nil
}

// Location returns a human-readable description of where c stores data.
func (c StoreConfig) Location() string {
	if c.Kind == "redis" {
		return fmt.Sprintf("redis://%s/%d/%s", c.Addr, c.DB, c.Key)
	}
	return c.Path
}

// A Backend is an open record store.
type Backend struct {
	slot.Store

	// File is the underlying store for a file backend, otherwise nil.
	File *slotstore.File

	close func() error
}

// Close releases the resources held by b.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenStore opens the store described by cfg. The passphrase is used to
// encrypt the record unless cfg.Plaintext is set.
func OpenStore(ctx context.Context, cfg StoreConfig, passphrase string) (*Backend, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	var codec slotstore.Codec = slotstore.NewSealed(passphrase)
	if cfg.Plaintext {
		codec = slotstore.JSON{}
	}
	switch cfg.Kind {
	case "", "file":
		f := slotstore.NewFile(cfg.Path, codec)
		return &Backend{Store: f, File: f}, nil

	case "sqlite":
		s, err := sqlstore.Open(ctx, sqlstore.FileDSN(cfg.Path), codec)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &Backend{Store: s, close: s.Close}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s := redistore.New(rdb, cfg.Key, codec)
		return &Backend{Store: s, close: s.Close}, nil
	}
	panic("unreachable")
}

// GetPassphrase prompts the user at the terminal for a passphrase with echo
// disabled. An empty passphrase is permitted; the caller must check for that
// case if an empty passphrase is not wanted.
func GetPassphrase(prompt string) (string, error) {
	passphrase, err := getpass.Prompt(prompt)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return passphrase, nil
}

// ConfirmPassphrase prompts the user at the terminal for a passphrase with
// echo disabled, then prompts again for confirmation and reports an error if
// the two copies are not equal.
func ConfirmPassphrase(prompt string) (string, error) {
	passphrase, err := getpass.Prompt(prompt)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	confirm, err := getpass.Prompt("Confirm " + strings.ToLower(prompt))
	if err != nil {
		return "", fmt.Errorf("read confirmation: %w", err)
	}
	if confirm != passphrase {
		return "", errors.New("passphrases do not match")
	}
	return passphrase, nil
}

// ReadSecret reads a secret. If stdin is a terminal, the user is prompted
// with echo disabled; otherwise the secret is read from stdin up to the first
// line break. An empty secret is reported as an error.
func ReadSecret(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		s, err := getpass.Prompt(prompt)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		} else if s == "" {
			return "", slot.ErrEmptySecret
		}
		return s, nil
	}
	return readSecret(os.Stdin)
}

func readSecret(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return "", slot.ErrEmptySecret
	}
	return line, nil
}

// ProvisionURL returns an otpauth URL describing cred, for enrolling an
// authenticator app that will produce the same codes as the slot. The issuer
// is optional.
func ProvisionURL(cred record.Credential, issuer string) string {
	u := &otpauth.URL{
		Type:      "totp",
		Issuer:    issuer,
		Account:   cred.Name,
		Algorithm: "SHA1",
		Digits:    totp.Digits,
		Period:    int(totp.Period.Seconds()),
	}
	u.SetSecret([]byte(cred.Secret))
	return u.String()
}
