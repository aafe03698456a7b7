package domain

import (
	"context"
	"iter"
)

// Entry is a versioned value read from the ledger.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

// Write is one conditional write inside a Commit. ExpectedVersion 0 means
// the key must not exist yet.
type Write struct {
	Key             string
	Value           []byte
	ExpectedVersion int64
}

// Ledger is durable keyed storage with optimistic versioning. It is the only
// concurrency primitive the services rely on.
type Ledger interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (Entry, error)
	// Put writes value if the stored version equals expectedVersion and
	// returns the new version, or ErrVersionConflict.
	Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error)
	// Commit applies all writes atomically or none of them.
	Commit(ctx context.Context, writes ...Write) error
	// Scan yields entries whose key starts with prefix in key order. The
	// sequence is lazy and may be iterated more than once.
	Scan(ctx context.Context, prefix string) iter.Seq2[Entry, error]
}
