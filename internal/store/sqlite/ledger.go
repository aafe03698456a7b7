// Package sqlite is the embedded ledger backend: a single-file database
// through the pure-Go modernc driver, for deployments without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

const scanPageSize = 256

const schema = `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		version    INTEGER NOT NULL CHECK (version > 0),
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`

// Ledger implements domain.Ledger on a SQLite database.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Ledger, error) {
	dsn := path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: resolve path %s: %w", path, err)
		}
		dsn = abs
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection serialises writers and keeps :memory: a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Ping reports whether the database is usable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *Ledger) Get(ctx context.Context, key string) (domain.Entry, error) {
	e := domain.Entry{Key: key}
	err := l.db.QueryRowContext(ctx,
		`SELECT value, version FROM ledger_entries WHERE key = ?`, key,
	).Scan(&e.Value, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, fmt.Errorf("sqlite: get %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Entry{}, unavailable("get "+key, err)
	}
	return e, nil
}

func (l *Ledger) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if err := l.Commit(ctx, domain.Write{Key: key, Value: value, ExpectedVersion: expectedVersion}); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// Commit runs every conditional write inside one transaction.
func (l *Ledger) Commit(ctx context.Context, writes ...domain.Write) error {
	if len(writes) == 0 {
		return nil
	}
	if err := ledger.CheckDistinct(writes); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		var res sql.Result
		if w.ExpectedVersion == 0 {
			res, err = tx.ExecContext(ctx,
				`INSERT INTO ledger_entries (key, value, version) VALUES (?, ?, 1)
				 ON CONFLICT (key) DO NOTHING`, w.Key, w.Value)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE ledger_entries SET value = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
				 WHERE key = ? AND version = ?`, w.Value, w.Key, w.ExpectedVersion)
		}
		if err != nil {
			return unavailable("write "+w.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable("write "+w.Key, err)
		}
		if n != 1 {
			return fmt.Errorf("sqlite: commit %s (want v%d): %w", w.Key, w.ExpectedVersion, domain.ErrVersionConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Scan reads one page at a time and releases the connection before
// yielding, so callers may issue other queries inside the loop.
func (l *Ledger) Scan(ctx context.Context, prefix string) iter.Seq2[domain.Entry, error] {
	end := ledger.PrefixEnd(prefix)
	return func(yield func(domain.Entry, error) bool) {
		after := prefix
		inclusive := true
		for {
			page, err := l.page(ctx, after, inclusive, end)
			if err != nil {
				yield(domain.Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < scanPageSize {
				return
			}
			after, inclusive = page[len(page)-1].Key, false
		}
	}
}

func (l *Ledger) page(ctx context.Context, from string, inclusive bool, end string) ([]domain.Entry, error) {
	query := `SELECT key, value, version FROM ledger_entries WHERE key > ?`
	if inclusive {
		query = `SELECT key, value, version FROM ledger_entries WHERE key >= ?`
	}
	args := []any{from}
	if end != "" {
		query += ` AND key < ?`
		args = append(args, end)
	}
	query += ` ORDER BY key LIMIT ?`
	args = append(args, scanPageSize)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("scan", err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, unavailable("scan row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan rows", err)
	}
	return out, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return fmt.Errorf("sqlite: %s: %w: %w", op, domain.ErrUnavailable, err)
}

var _ domain.Ledger = (*Ledger)(nil)
