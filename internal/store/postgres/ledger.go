package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// scanPageSize bounds how many rows a single Scan round trip fetches.
const scanPageSize = 256

// Ledger implements domain.Ledger on the ledger_entries table.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Get returns the entry stored at key.
func (l *Ledger) Get(ctx context.Context, key string) (domain.Entry, error) {
	const query = `SELECT value, version FROM ledger_entries WHERE key = $1`

	e := domain.Entry{Key: key}
	err := l.pool.QueryRow(ctx, query, key).Scan(&e.Value, &e.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, fmt.Errorf("postgres: get %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Entry{}, unavailable("get "+key, err)
	}
	return e, nil
}

// Put writes a single key conditionally and returns the new version.
func (l *Ledger) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if err := l.Commit(ctx, domain.Write{Key: key, Value: value, ExpectedVersion: expectedVersion}); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// Commit applies all writes in one transaction. Each write is a conditional
// INSERT or UPDATE; a write that touches no row rolls the whole batch back.
func (l *Ledger) Commit(ctx context.Context, writes ...domain.Write) error {
	if len(writes) == 0 {
		return nil
	}
	if err := ledger.CheckDistinct(writes); err != nil {
		return err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin commit", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
		INSERT INTO ledger_entries (key, value, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (key) DO NOTHING`
	const update = `
		UPDATE ledger_entries
		SET value = $2, version = version + 1, updated_at = NOW()
		WHERE key = $1 AND version = $3`

	for _, w := range writes {
		var tag interface{ RowsAffected() int64 }
		if w.ExpectedVersion == 0 {
			tag, err = tx.Exec(ctx, insert, w.Key, w.Value)
		} else {
			tag, err = tx.Exec(ctx, update, w.Key, w.Value, w.ExpectedVersion)
		}
		if err != nil {
			return unavailable("write "+w.Key, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("postgres: commit %s (want v%d): %w", w.Key, w.ExpectedVersion, domain.ErrVersionConflict)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Scan pages through keys under prefix with keyset pagination, so each
// page is a separate short query.
func (l *Ledger) Scan(ctx context.Context, prefix string) iter.Seq2[domain.Entry, error] {
	const query = `
		SELECT key, value, version FROM ledger_entries
		WHERE key LIKE $1 ESCAPE '\' AND key > $2
		ORDER BY key
		LIMIT $3`

	pattern := escapeLike(prefix) + "%"
	return func(yield func(domain.Entry, error) bool) {
		after := ""
		for {
			rows, err := l.pool.Query(ctx, query, pattern, after, scanPageSize)
			if err != nil {
				yield(domain.Entry{}, unavailable("scan "+prefix, err))
				return
			}
			page, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Entry, error) {
				var e domain.Entry
				err := row.Scan(&e.Key, &e.Value, &e.Version)
				return e, err
			})
			if err != nil {
				yield(domain.Entry{}, unavailable("scan "+prefix, err))
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
			after = page[len(page)-1].Key
		}
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// unavailable tags driver failures so callers can map them to a retryable
// response without seeing pgx types.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrUnavailable, err)
}

var _ domain.Ledger = (*Ledger)(nil)
