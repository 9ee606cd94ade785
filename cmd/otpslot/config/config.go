// Package config contains shared configuration settings for otpslot subcommands.
package config

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/creachadair/command"
	"github.com/creachadair/otpslot/slot"
	"github.com/creachadair/otpslot/slotlib"
	"gopkg.in/yaml.v3"
)

// PassphraseEnv is the name of an environment variable that, if set, supplies
// the store passphrase instead of prompting for it.
const PassphraseEnv = "OTPSLOT_PASSPHRASE"

// Settings are shared settings used by otpslot subcommands.
type Settings struct {
	// ConfigPath is the path of the settings file, if any.
	ConfigPath string

	// StorePath, if set, overrides the store path from the settings file.
	StorePath string

	// File is the content of the settings file.
	File File
}

// File is the format of the YAML settings file.
type File struct {
	// Store describes where the slot record lives.
	Store slotlib.StoreConfig `yaml:"store"`

	// Issuer is the issuer label included in provisioning URLs.
	Issuer string `yaml:"issuer,omitempty"`

	// ScrubOnReset, if true, clears the stored credential on reset.
	ScrubOnReset bool `yaml:"scrubOnReset,omitempty"`

	// Server holds settings for the "server" subcommand.
	Server Server `yaml:"server,omitempty"`
}

// Server holds settings for the slot server.
type Server struct {
	// Addr is the service address (host:port).
	Addr string `yaml:"addr,omitempty"`

	// Allow lists CIDR masks of hosts allowed to call the server. If empty,
	// all callers are allowed.
	Allow []string `yaml:"allow,omitempty"`
}

// ParseFile parses a settings file from r. Unknown fields are reported as
// errors. An empty input yields zero settings.
func ParseFile(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse settings: %w", err)
	}
	return f, nil
}

// Load populates s.File from the file at s.ConfigPath, if one is set, and
// applies the StorePath override. A relative store path in the settings file
// is resolved against the directory containing the file.
func (s *Settings) Load() error {
	if s.ConfigPath != "" {
		data, err := os.ReadFile(s.ConfigPath)
		if err != nil {
			return fmt.Errorf("read settings: %w", err)
		}
		f, err := ParseFile(bytes.NewReader(data))
		if err != nil {
			return err
		}
		if p := f.Store.Path; p != "" && !filepath.IsAbs(p) {
			f.Store.Path = filepath.Join(filepath.Dir(s.ConfigPath), p)
		}
		s.File = f
	}
	if s.StorePath != "" {
		s.File.Store.Path = expandPath(s.StorePath)
	}
	return nil
}

// Encode writes the settings file to w in YAML format.
func (f File) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return err
	}
	return enc.Close()
}

// expandPath replaces a leading "$0" with the directory of the executable.
func expandPath(path string) string {
	if tail, ok := strings.CutPrefix(path, "$0"); ok {
		ep, err := os.Executable()
		if err == nil {
			return filepath.Join(filepath.Dir(ep), tail)
		}
	}
	return path
}

// Get returns the settings associated with env.
func Get(env *command.Env) *Settings { return env.Config.(*Settings) }

// Passphrase returns the passphrase for the configured store. It is empty for
// a plaintext store; otherwise it comes from $OTPSLOT_PASSPHRASE if that is
// set, or else the user is prompted for it.
func Passphrase(env *command.Env) (string, error) {
	set := Get(env)
	if set.File.Store.Plaintext {
		return "", nil
	}
	if pp, ok := os.LookupEnv(PassphraseEnv); ok {
		return pp, nil
	}
	return slotlib.GetPassphrase("Passphrase: ")
}

// OpenStore opens the configured store.
func OpenStore(env *command.Env) (*slotlib.Backend, error) {
	set := Get(env)
	if err := set.File.Store.Check(); err != nil {
		return nil, fmt.Errorf("%w (provide --store, --config, or set OTPSLOT_CONFIG)", err)
	}
	pp, err := Passphrase(env)
	if err != nil {
		return nil, err
	}
	return slotlib.OpenStore(env.Context(), set.File.Store, pp)
}

// Machine opens the configured store and returns a slot machine using it.
// The caller must close the backend when it is no longer needed.
func Machine(env *command.Env) (*slot.Machine, *slotlib.Backend, error) {
	b, err := OpenStore(env)
	if err != nil {
		return nil, nil, err
	}
	m := slot.New(b, &slot.Options{ScrubOnReset: Get(env).File.ScrubOnReset})
	return m, b, nil
}

// Issuer returns override if it is non-empty, otherwise the configured
// issuer label.
func Issuer(env *command.Env, override string) string {
	return cmp.Or(override, Get(env).File.Issuer)
}
