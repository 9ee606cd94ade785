// Package sqlstore implements a slot record store in a SQLite database.
//
// The record lives in a single-row table alongside a generation number.
// Each Save is conditional on the generation observed by the most recent
// Load, so two processes sharing a database cannot silently overwrite each
// other: the loser of a race gets slotstore.ErrConflict.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/slotstore"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// FileDSN returns a data source name for the database file at path, with WAL
// journaling and a busy timeout.
func FileDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
}

// Store is a SQLite-backed slot store.
type Store struct {
	db    *sql.DB
	codec slotstore.Codec

	μ   sync.Mutex
	gen int64 // generation seen by the last Load or Save; 0 if none
}

// Open opens the database named by dsn, applies any pending migrations, and
// returns a store using c to encode the record.
func Open(ctx context.Context, dsn string, c slotstore.Codec) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, codec: c}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Load implements part of slot.Store.
func (s *Store) Load(ctx context.Context) (record.Record, error) {
	s.μ.Lock()
	defer s.μ.Unlock()

	const query = `SELECT data, gen FROM slot WHERE id = 1`
	var data []byte
	var gen int64
	err := s.db.QueryRowContext(ctx, query).Scan(&data, &gen)
	if errors.Is(err, sql.ErrNoRows) {
		s.gen = 0
		return record.Record{}, record.ErrNotFound
	} else if err != nil {
		return record.Record{}, fmt.Errorf("query record: %w", err)
	}
	r, err := s.codec.Decode(data)
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

	var res sql.Result
	if s.gen == 0 {
		const insert = `INSERT INTO slot (id, data, gen) VALUES (1, ?, 1) ON CONFLICT (id) DO NOTHING`
		res, err = s.db.ExecContext(ctx, insert, data)
	} else {
		const update = `UPDATE slot SET data = ?, gen = gen + 1, updated_at = CURRENT_TIMESTAMP
WHERE id = 1 AND gen = ?`
		res, err = s.db.ExecContext(ctx, update, data, s.gen)
	}
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	} else if n == 0 {
		return slotstore.ErrConflict
	}
	s.gen++
	return nil
}

// runMigrations applies all pending schema migrations embedded in the binary.
// Already-applied migrations are skipped.
func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
