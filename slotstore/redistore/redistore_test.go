package redistore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/slotstore"
	"github.com/creachadair/otpslot/slotstore/redistore"
	gocmp "github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, mr *miniredis.Miniredis) *redistore.Store {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := redistore.New(rdb, "", slotstore.JSON{})
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := newTestStore(t, mr)

	if _, err := s.Load(ctx); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("Load empty: got %v, want %v", err, record.ErrNotFound)
	}
	if err := s.Save(ctx, record.New()); err != nil {
		t.Fatalf("Save initial: unexpected error: %v", err)
	}
	want := record.Record{Phase: record.Done, Credential: record.Credential{Name: "Gmail", Secret: "S1"}}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save update: unexpected error: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if diff := gocmp.Diff(got, want); diff != "" {
		t.Errorf("Loaded record (-got, +want):\n%s", diff)
	}
	if gen := mr.HGet(redistore.DefaultKey, "gen"); gen != "2" {
		t.Errorf("Stored generation: got %q, want 2", gen)
	}
}

func TestConflict(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newTestStore(t, mr)
	b := newTestStore(t, mr)

	if err := a.Save(ctx, record.New()); err != nil {
		t.Fatalf("Save a: unexpected error: %v", err)
	}
	// b never loaded the record a wrote.
	if err := b.Save(ctx, record.New()); !errors.Is(err, slotstore.ErrConflict) {
		t.Fatalf("Save b: got %v, want %v", err, slotstore.ErrConflict)
	}

	if _, err := b.Load(ctx); err != nil {
		t.Fatalf("Load b: unexpected error: %v", err)
	}
	done := record.Record{Phase: record.Done, Credential: record.Credential{Name: "Outlook", Secret: "S2"}}
	if err := b.Save(ctx, done); err != nil {
		t.Fatalf("Save b: unexpected error: %v", err)
	}
	if err := a.Save(ctx, record.New()); !errors.Is(err, slotstore.ErrConflict) {
		t.Errorf("Save a (stale): got %v, want %v", err, slotstore.ErrConflict)
	}

	got, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load a: unexpected error: %v", err)
	}
	if diff := gocmp.Diff(got, done); diff != "" {
		t.Errorf("Loaded record (-got, +want):\n%s", diff)
	}
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	s := newTestStore(t, mr)
	mr.Close()

	if _, err := s.Load(ctx); err == nil || errors.Is(err, record.ErrNotFound) {
		t.Errorf("Load with server down: got %v, want connection error", err)
	}
	if err := s.Save(ctx, record.New()); err == nil {
		t.Error("Save with server down: got nil, want error")
	}
}
