package slotstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/creachadair/otpslot/record"
	"github.com/fsnotify/fsnotify"
)

// Watcher is a read cache over a File. The cached record is discarded when
// the underlying file changes on disk, so that writes by other processes are
// observed without decoding the file on every Load.
//
// The Run method must be active for changes to be noticed.
type Watcher struct {
	file *File
	fw   *fsnotify.Watcher

	μ      sync.Mutex
	cached *record.Record
	stale  bool
}

// NewWatcher creates a Watcher for f. The directory containing the file is
// watched rather than the file itself, because saves replace the file.
func NewWatcher(f *File) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(f.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %q: %w", f.path, err)
	}
	return &Watcher{file: f, fw: fw}, nil
}

// Load implements part of slot.Store. If the file has changed since the last
// load, Load reloads it, and reports an error if the new contents cannot be
// read. The cache stays stale until a reload succeeds.
func (w *Watcher) Load(ctx context.Context) (record.Record, error) {
	w.μ.Lock()
	defer w.μ.Unlock()

	if w.cached != nil && !w.stale {
		return *w.cached, nil
	}
	r, err := w.file.Load(ctx)
	if errors.Is(err, record.ErrNotFound) {
		w.cached, w.stale = nil, false
		return r, err
	} else if err != nil {
		w.cached = nil
		return r, fmt.Errorf("reload: %w", err)
	}
	w.cached, w.stale = &r, false
	return r, nil
}

// Save implements part of slot.Store. It writes through to the file, and
// reports ErrConflict if the file was changed by another writer since it was
// last read, even if the change has not yet been observed by Run.
func (w *Watcher) Save(ctx context.Context, r record.Record) error {
	w.μ.Lock()
	defer w.μ.Unlock()

	if err := w.file.Save(ctx, r); err != nil {
		w.cached = nil // reload on the next Load
		return err
	}
	w.cached, w.stale = &r, false
	return nil
}

// Run monitors the file for changes and marks the cache stale when it is
// modified. Run should be called in a separate goroutine. It exits when the
// watcher fails or ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()

	base := filepath.Base(w.file.path)
	for {
		select {
		case evt, ok := <-w.fw.Events:
			if !ok {
				return
			} else if filepath.Base(evt.Name) != base {
				continue // some other file in the directory
			}
			w.μ.Lock()
			w.stale = true // read by Load
			w.μ.Unlock()
		case e, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("WARNING: Error watching %q: %v", w.file.path, e)
		case <-ctx.Done():
			return
		}
	}
}
