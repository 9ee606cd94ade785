package slotstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/creachadair/atomicfile"
	"github.com/creachadair/otpslot/record"
)

// File is a store that keeps the record in a single file. Writes replace the
// file atomically, so a reader never observes a partial record.
//
// Each Save is conditional on the file still holding what the most recent
// Load or Save of this File observed. If another writer replaced the file in
// the meantime, Save reports ErrConflict and leaves the file alone; Load
// again to pick up the new contents. A File that has never been loaded
// expects the file to be absent.
type File struct {
	path  string
	codec Codec

	μ    sync.Mutex
	seen snapshot // file contents at the last Load or Save
}

// snapshot records the observed state of the store file.
type snapshot struct {
	exists bool
	data   []byte
}

func (s snapshot) equal(o snapshot) bool {
	return s.exists == o.exists && bytes.Equal(s.data, o.data)
}

// NewFile returns a store for the file at path, encoded with c.
func NewFile(path string, c Codec) *File { return &File{path: path, codec: c} }

// Path reports the file path of f.
func (f *File) Path() string { return f.path }

// Exists reports whether the store file exists.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Load implements part of slot.Store.
func (f *File) Load(_ context.Context) (record.Record, error) {
	f.μ.Lock()
	defer f.μ.Unlock()

	cur, err := f.read()
	if err != nil {
		return record.Record{}, err
	}
	f.seen = cur
	if !cur.exists {
		return record.Record{}, record.ErrNotFound
	}
	r, err := f.codec.Decode(cur.data)
	if err != nil {
		return record.Record{}, fmt.Errorf("load %q: %w", f.path, err)
	}
	return r, nil
}

// Save implements part of slot.Store. It reports ErrConflict if the file
// changed since the last Load or Save.
func (f *File) Save(_ context.Context, r record.Record) error {
	f.μ.Lock()
	defer f.μ.Unlock()
	return f.saveLocked(f.codec, r)
}

// Rekey re-encodes the record stored in f with c, and replaces the codec of
// f with c. If the rewrite fails, f is not modified.
func (f *File) Rekey(ctx context.Context, c Codec) error {
	r, err := f.Load(ctx)
	if err != nil {
		return err
	}
	f.μ.Lock()
	defer f.μ.Unlock()
	if err := f.saveLocked(c, r); err != nil {
		return err
	}
	f.codec = c
	return nil
}

func (f *File) read() (snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot{}, nil
	} else if err != nil {
		return snapshot{}, fmt.Errorf("read store: %w", err)
	}
	return snapshot{exists: true, data: data}, nil
}

func (f *File) saveLocked(c Codec, r record.Record) error {
	data, err := c.Encode(r)
	if err != nil {
		return err
	}
	cur, err := f.read()
	if err != nil {
		return err
	} else if !cur.equal(f.seen) {
		return ErrConflict
	}
	if err := atomicfile.Tx(f.path, 0600, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return err
	}
	f.seen = snapshot{exists: true, data: data}
	return nil
}
