// Package ledger provides the process-local ledger backend and the helpers
// every service uses on top of domain.Ledger: JSON codec and bounded
// optimistic retry.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// Memory implements domain.Ledger in process memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.Entry
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]domain.Entry)}
}

// Get returns a copy of the entry stored at key.
func (m *Memory) Get(ctx context.Context, key string) (domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return domain.Entry{}, fmt.Errorf("ledger: get %s: %w", key, domain.ErrNotFound)
	}
	e.Value = bytes.Clone(e.Value)
	return e, nil
}

// Put writes a single key conditionally.
func (m *Memory) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if err := m.Commit(ctx, domain.Write{Key: key, Value: value, ExpectedVersion: expectedVersion}); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// Commit validates every expected version under the write lock before
// applying any of the writes.
func (m *Memory) Commit(ctx context.Context, writes ...domain.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	if err := CheckDistinct(writes); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		if current := m.entries[w.Key].Version; current != w.ExpectedVersion {
			return fmt.Errorf("ledger: commit %s (have v%d, want v%d): %w",
				w.Key, current, w.ExpectedVersion, domain.ErrVersionConflict)
		}
	}
	for _, w := range writes {
		m.entries[w.Key] = domain.Entry{
			Key:     w.Key,
			Value:   bytes.Clone(w.Value),
			Version: w.ExpectedVersion + 1,
		}
	}
	return nil
}

// Scan yields a snapshot of the matching keys taken when iteration starts.
func (m *Memory) Scan(ctx context.Context, prefix string) iter.Seq2[domain.Entry, error] {
	return func(yield func(domain.Entry, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(domain.Entry{}, err)
			return
		}

		m.mu.RLock()
		snapshot := make([]domain.Entry, 0)
		for k, e := range m.entries {
			if strings.HasPrefix(k, prefix) {
				e.Value = bytes.Clone(e.Value)
				snapshot = append(snapshot, e)
			}
		}
		m.mu.RUnlock()

		sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Key < snapshot[j].Key })
		for _, e := range snapshot {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// CheckDistinct rejects commits that touch the same key twice. Every
// backend calls it before opening a transaction.
func CheckDistinct(writes []domain.Write) error {
	seen := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		if _, dup := seen[w.Key]; dup {
			return fmt.Errorf("ledger: duplicate key %s in commit: %w", w.Key, domain.ErrInvalidInput)
		}
		seen[w.Key] = struct{}{}
	}
	return nil
}

// Compile-time interface check.
var _ domain.Ledger = (*Memory)(nil)
