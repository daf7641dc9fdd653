// Package store implements C2: a schema-versioned embedded database
// holding every table in spec §3, with one serialized writer connection
// and many concurrent readers (spec §4.2, §5).
//
// Storage is a single modernc.org/sqlite file per project identity.
// modernc.org/sqlite is a pure-Go CGo-free driver, so the store never
// needs a C toolchain beyond the one the parse workers already require
// for libclang.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	cerrors "github.com/standardbeagle/cindex/internal/errors"
)

// Store is a single project's embedded database. write is the sole
// connection used for mutations (§5: "Write connection: exclusively
// owned by the coordinator; never shared with workers"); read is a
// separate pool of read-only connections the query layer and other
// readers use concurrently.
type Store struct {
	path  string
	write *sql.DB
	read  *sql.DB

	writeMu sync.Mutex // serializes transactions on write

	dirtyRows int64 // rows deleted/updated since last vacuum, for §4.2
}

// VacuumThreshold is the number of dirtied rows after which the next
// write transaction opportunistically triggers a vacuum (§4.2).
const VacuumThreshold = 5000

// Open opens (creating if necessary) the sqlite file at path, applies
// forward migrations, and returns a ready Store. Schema version
// greater than CurrentSchemaVersion is a fatal SchemaTooNew error.
func Open(ctx context.Context, path string) (*Store, error) {
	writeDSN := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	readDSN := fmt.Sprintf("file:%s?mode=ro&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	writeDB, err := sql.Open("sqlite", writeDSN)
	if err != nil {
		return nil, cerrors.New(cerrors.StorageCorruption, "open", err).WithFile(path)
	}
	writeDB.SetMaxOpenConns(1) // single serialized writer (§4.2, §5)

	readDB, err := sql.Open("sqlite", readDSN)
	if err != nil {
		writeDB.Close()
		return nil, cerrors.New(cerrors.StorageCorruption, "open", err).WithFile(path)
	}
	readDB.SetMaxOpenConns(4) // readers run concurrently with the writer

	s := &Store{path: path, write: writeDB, read: readDB}

	if err := s.migrate(ctx); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}
	return s, nil
}

// Close releases both connections.
func (s *Store) Close() error {
	err1 := s.write.Close()
	err2 := s.read.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) migrate(ctx context.Context) error {
	var stored int
	err := s.write.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&stored)
	if err != nil {
		// First open: schema_version table does not exist yet. Not an
		// error — we're about to create it as part of migration 1.
		stored = 0
	}

	if stored > CurrentSchemaVersion {
		return cerrors.New(cerrors.SchemaTooNew, "migrate",
			fmt.Errorf("stored schema version %d exceeds code version %d", stored, CurrentSchemaVersion))
	}

	for _, m := range migrations {
		if m.version <= stored {
			continue
		}
		tx, err := s.write.BeginTx(ctx, nil)
		if err != nil {
			return cerrors.New(cerrors.StorageCorruption, "migrate", err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return cerrors.New(cerrors.StorageCorruption, "migrate", err)
			}
		}
		if stored == 0 {
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
				tx.Rollback()
				return cerrors.New(cerrors.StorageCorruption, "migrate", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, m.version); err != nil {
				tx.Rollback()
				return cerrors.New(cerrors.StorageCorruption, "migrate", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return cerrors.New(cerrors.StorageCorruption, "migrate", err)
		}
		stored = m.version
	}
	return nil
}

// WriteConn exposes the single writer connection for package-internal
// helpers in sibling packages (headertracker, depgraph) that need to
// participate in the coordinator's write transactions.
func (s *Store) WriteConn() *sql.DB { return s.write }

// ReadConn exposes the read-only connection pool.
func (s *Store) ReadConn() *sql.DB { return s.read }

// WithWriteTx runs fn inside a single write transaction, serialized
// against all other writers via writeMu (§4.2: "writes are
// transactional... must never block writers for more than a single
// transaction boundary").
func (s *Store) WithWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return cerrors.New(cerrors.StorageCorruption, "begin_tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return cerrors.New(cerrors.StorageCorruption, "commit_tx", err)
	}
	return nil
}

// NoteDirty records rows deleted/updated by a write, for the
// opportunistic vacuum policy (§4.2).
func (s *Store) NoteDirty(n int64) {
	if atomic.AddInt64(&s.dirtyRows, n) >= VacuumThreshold {
		atomic.StoreInt64(&s.dirtyRows, 0)
		go s.vacuumBestEffort()
	}
}

func (s *Store) vacuumBestEffort() {
	_ = s.Vacuum(context.Background())
}

// Vacuum compacts the database. Safe to call concurrently with readers;
// blocks writers for its duration, so it is only triggered
// opportunistically (§4.2) or via the explicit vacuum_cache operation.
func (s *Store) Vacuum(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.write.ExecContext(ctx, `VACUUM`); err != nil {
		return cerrors.New(cerrors.StorageCorruption, "vacuum", err)
	}
	return s.setMetadata(ctx, s.write, "last_vacuum", time.Now().Format(time.RFC3339))
}

func (s *Store) setMetadata(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, key, value string) error {
	_, err := execer.ExecContext(ctx,
		`INSERT INTO cache_metadata(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
