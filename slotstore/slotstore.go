// Package slotstore provides durable storage for the single record of an
// otpslot, and the codecs used to encode that record at rest.
//
// Every store in this package and its sub-packages has a Load method that
// reports record.ErrNotFound before the first Save, and a Save method that
// either replaces the stored record completely or leaves it unchanged.
package slotstore

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/otpslot/record"
)

// ErrConflict is reported by Save when another writer has replaced the record
// since this store last loaded it. The caller should reload and retry the
// whole operation.
var ErrConflict = errors.New("record was modified concurrently")

// A Codec encodes and decodes a record for storage.
type Codec interface {
	Encode(record.Record) ([]byte, error)
	Decode([]byte) (record.Record, error)
}

// Memory is an in-memory store. A zero Memory is empty and ready for use.
type Memory struct {
	μ   sync.Mutex
	rec *record.Record
}

// NewMemory returns a Memory store holding r.
func NewMemory(r record.Record) *Memory { return &Memory{rec: &r} }

// Load implements part of slot.Store.
func (m *Memory) Load(_ context.Context) (record.Record, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.rec == nil {
		return record.Record{}, record.ErrNotFound
	}
	return *m.rec, nil
}

// Save implements part of slot.Store.
func (m *Memory) Save(_ context.Context, r record.Record) error {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.rec = &r
	return nil
}
