package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creachadair/command"
	"github.com/creachadair/otpslot/cmd/otpslot/config"
	"github.com/creachadair/otpslot/slotlib"
	gocmp "github.com/google/go-cmp/cmp"
)

const testSettings = `
store:
  kind: sqlite
  path: slot.db
issuer: Example
scrubOnReset: true
server:
  addr: localhost:8080
  allow:
    - 127.0.0.0/8
`

func TestParseFile(t *testing.T) {
	got, err := config.ParseFile(strings.NewReader(testSettings))
	if err != nil {
		t.Fatalf("ParseFile: unexpected error: %v", err)
	}
	want := config.File{
		Store:        slotlib.StoreConfig{Kind: "sqlite", Path: "slot.db"},
		Issuer:       "Example",
		ScrubOnReset: true,
		Server:       config.Server{Addr: "localhost:8080", Allow: []string{"127.0.0.0/8"}},
	}
	if diff := gocmp.Diff(got, want); diff != "" {
		t.Errorf("Settings (-got, +want):\n%s", diff)
	}

	var buf bytes.Buffer
	if err := got.Encode(&buf); err != nil {
		t.Fatalf("Encode: unexpected error: %v", err)
	}
	back, err := config.ParseFile(&buf)
	if err != nil {
		t.Fatalf("ParseFile encoded: unexpected error: %v", err)
	}
	if diff := gocmp.Diff(back, want); diff != "" {
		t.Errorf("Re-parsed settings (-got, +want):\n%s", diff)
	}
}

func TestParseFileErrors(t *testing.T) {
	if got, err := config.ParseFile(strings.NewReader("")); err != nil {
		t.Errorf("ParseFile empty: unexpected error: %v", err)
	} else if diff := gocmp.Diff(got, config.File{}); diff != "" {
		t.Errorf("ParseFile empty (-got, +want):\n%s", diff)
	}
	if _, err := config.ParseFile(strings.NewReader("stor:\n  path: x\n")); err == nil {
		t.Error("ParseFile unknown field: got nil, want error")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otpslot.yaml")
	if err := os.WriteFile(path, []byte(testSettings), 0600); err != nil {
		t.Fatal(err)
	}

	s := &config.Settings{ConfigPath: path}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if want := filepath.Join(dir, "slot.db"); s.File.Store.Path != want {
		t.Errorf("Store path: got %q, want %q", s.File.Store.Path, want)
	}

	s = &config.Settings{ConfigPath: path, StorePath: "/tmp/other.db"}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if s.File.Store.Path != "/tmp/other.db" || s.File.Store.Kind != "sqlite" {
		t.Errorf("Store override: got %+v", s.File.Store)
	}

	s = &config.Settings{ConfigPath: filepath.Join(dir, "nonesuch.yaml")}
	if err := s.Load(); err == nil {
		t.Error("Load missing file: got nil, want error")
	}
}

func TestPassphrase(t *testing.T) {
	root := &command.C{Name: "test"}

	env := root.NewEnv(&config.Settings{File: config.File{
		Store: slotlib.StoreConfig{Path: "x", Plaintext: true},
	}})
	if pp, err := config.Passphrase(env); err != nil || pp != "" {
		t.Errorf("Passphrase plaintext: got (%q, %v), want empty", pp, err)
	}

	t.Setenv(config.PassphraseEnv, "open sesame")
	env = root.NewEnv(&config.Settings{File: config.File{
		Store: slotlib.StoreConfig{Path: "x"},
	}})
	if pp, err := config.Passphrase(env); err != nil || pp != "open sesame" {
		t.Errorf("Passphrase from environment: got (%q, %v), want open sesame", pp, err)
	}
}

func TestIssuer(t *testing.T) {
	env := (&command.C{Name: "test"}).NewEnv(&config.Settings{File: config.File{Issuer: "Example"}})
	if got := config.Issuer(env, ""); got != "Example" {
		t.Errorf("Issuer default: got %q, want Example", got)
	}
	if got := config.Issuer(env, "Other"); got != "Other" {
		t.Errorf("Issuer override: got %q, want Other", got)
	}
}
