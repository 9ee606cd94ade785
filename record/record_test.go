package record_test

import (
	"encoding/json"
	"testing"

	"github.com/creachadair/otpslot/record"
	gocmp "github.com/google/go-cmp/cmp"
)

func TestPhaseText(t *testing.T) {
	tests := []struct {
		input string
		want  record.Phase
		ok    bool
	}{
		{"init", record.Init, true},
		{"done", record.Done, true},
		{"", "", false},
		{"Done", "", false},
		{"1", "", false},
	}
	for _, tc := range tests {
		var got record.Phase
		err := got.UnmarshalText([]byte(tc.input))
		if ok := err == nil; ok != tc.ok {
			t.Errorf("Unmarshal %q: got err=%v, want ok=%v", tc.input, err, tc.ok)
			continue
		}
		if got != tc.want {
			t.Errorf("Unmarshal %q: got %q, want %q", tc.input, got, tc.want)
		}
	}

	// The zero phase encodes as init.
	var zero record.Phase
	if got, err := zero.MarshalText(); err != nil || string(got) != "init" {
		t.Errorf("Marshal zero: got %q, %v; want init", got, err)
	}
	if _, err := record.Phase("bogus").MarshalText(); err == nil {
		t.Error("Marshal bogus phase: got nil, want error")
	}
}

func TestRecordJSON(t *testing.T) {
	in := record.Record{
		Phase:      record.Done,
		Credential: record.Credential{Name: "Gmail", Secret: "TestSecretSuperSecret"},
	}
	bits, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: unexpected error: %v", err)
	}
	const want = `{"phase":"done","credential":{"name":"Gmail","secret":"TestSecretSuperSecret"}}`
	if got := string(bits); got != want {
		t.Errorf("Marshal: got %s, want %s", got, want)
	}

	var out record.Record
	if err := json.Unmarshal(bits, &out); err != nil {
		t.Fatalf("Unmarshal: unexpected error: %v", err)
	}
	if diff := gocmp.Diff(out, in); diff != "" {
		t.Errorf("Decoded record (-got, +want):\n%s", diff)
	}

	if err := json.Unmarshal([]byte(`{"phase":"weird"}`), &out); err == nil {
		t.Error("Unmarshal invalid phase: got nil, want error")
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		rec  record.Record
		ok   bool
	}{
		{"New", record.New(), true},
		{"InitStale", record.Record{Phase: record.Init, Credential: record.Credential{Secret: "old"}}, true},
		{"DoneOK", record.Record{Phase: record.Done, Credential: record.Credential{Secret: "s"}}, true},
		{"DoneEmpty", record.Record{Phase: record.Done}, false},
		{"Bogus", record.Record{Phase: "bogus"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Check()
			if ok := err == nil; ok != tc.ok {
				t.Errorf("Check: got %v, want ok=%v", err, tc.ok)
			}
		})
	}
	if record.New().HasSecret() {
		t.Error("New record reports a secret")
	}
}
