// Package redistore implements a slot record store in Redis.
//
// The record is kept in a hash with two fields: "data", the encoded record,
// and "gen", a generation number incremented by every save. Save runs as a
// WATCH/MULTI transaction that checks the generation seen by the most recent
// Load, and reports slotstore.ErrConflict if another writer got there first.
package redistore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/slotstore"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash key used when none is specified.
const DefaultKey = "otpslot:record"

const (
	fieldData = "data"
	fieldGen  = "gen"
)

// Store is a Redis-backed slot store.
type Store struct {
	client *redis.Client
	key    string
	codec  slotstore.Codec

	μ   sync.Mutex
	gen int64 // generation seen by the last Load or Save; 0 if none
}

// New returns a store that keeps the record under key using client. If key
// is empty, DefaultKey is used.
func New(client *redis.Client, key string, c slotstore.Codec) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key, codec: c}
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Load implements part of slot.Store.
func (s *Store) Load(ctx context.Context) (record.Record, error) {
	s.μ.Lock()
	defer s.μ.Unlock()

	vals, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return record.Record{}, fmt.Errorf("read %q: %w", s.key, err)
	} else if len(vals) == 0 {
		s.gen = 0
		return record.Record{}, record.ErrNotFound
	}
	gen, err := strconv.ParseInt(vals[fieldGen], 10, 64)
	if err != nil {
		return record.Record{}, fmt.Errorf("invalid generation in %q: %w", s.key, err)
	}
	r, err := s.codec.Decode([]byte(vals[fieldData]))
	if err != nil {
		return record.Record{}, err
	}
	s.gen = gen
	return r, nil
}

// Save implements part of slot.Store. It reports slotstore.ErrConflict if the
// stored generation differs from the one seen by the last Load.
func (s *Store) Save(ctx context.Context, r record.Record) error {
	s.μ.Lock()
	defer s.μ.Unlock()

	data, err := s.codec.Encode(r)
	if err != nil {
		return err
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, s.key, fieldGen).Int64()
		if errors.Is(err, redis.Nil) {
			cur = 0
		} else if err != nil {
			return err
		}
		if cur != s.gen {
			return slotstore.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, fieldData, data, fieldGen, cur+1)
			return nil
		})
		return err
	}, s.key)

	if errors.Is(err, redis.TxFailedErr) {
		return slotstore.ErrConflict
	} else if err != nil {
		if errors.Is(err, slotstore.ErrConflict) {
			return err
		}
		return fmt.Errorf("write %q: %w", s.key, err)
	}
	s.gen++
	return nil
}
