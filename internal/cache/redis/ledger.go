package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

//go:embed scripts/ledger_commit.lua
var ledgerCommitLua string

const (
	ledgerIndexKey = "ledger:index"
	scanPageSize   = 256
)

func entryKey(key string) string { return "ledger:entry:" + key }

// Ledger implements domain.Ledger with one hash per entry and a
// lexicographic sorted set indexing every key. Commits run as a Lua script,
// so a batch of conditional writes is applied atomically.
type Ledger struct {
	rdb    *redis.Client
	commit *redis.Script
}

// NewLedger creates a Ledger backed by the given Client.
func NewLedger(c *Client) *Ledger {
	return &Ledger{rdb: c.Underlying(), commit: redis.NewScript(ledgerCommitLua)}
}

func (l *Ledger) Get(ctx context.Context, key string) (domain.Entry, error) {
	vals, err := l.rdb.HMGet(ctx, entryKey(key), "value", "version").Result()
	if err != nil {
		return domain.Entry{}, unavailable("get "+key, err)
	}
	e, ok, err := decodeEntry(key, vals)
	if err != nil {
		return domain.Entry{}, err
	}
	if !ok {
		return domain.Entry{}, fmt.Errorf("redis: get %s: %w", key, domain.ErrNotFound)
	}
	return e, nil
}

func (l *Ledger) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if err := l.Commit(ctx, domain.Write{Key: key, Value: value, ExpectedVersion: expectedVersion}); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

func (l *Ledger) Commit(ctx context.Context, writes ...domain.Write) error {
	if len(writes) == 0 {
		return nil
	}
	if err := ledger.CheckDistinct(writes); err != nil {
		return err
	}

	n := len(writes)
	keys := make([]string, 0, n+1)
	keys = append(keys, ledgerIndexKey)
	args := make([]any, 0, 3*n+1)
	args = append(args, n)
	for _, w := range writes {
		keys = append(keys, entryKey(w.Key))
		args = append(args, w.Key)
	}
	for _, w := range writes {
		args = append(args, w.ExpectedVersion)
	}
	for _, w := range writes {
		args = append(args, w.Value)
	}

	res, err := l.commit.Run(ctx, l.rdb, keys, args...).Int64Slice()
	if err != nil {
		return unavailable("commit", err)
	}
	if len(res) == 0 {
		return unavailable("commit", errors.New("empty script result"))
	}
	if res[0] != 1 {
		idx := 0
		if len(res) > 1 {
			idx = int(res[1]) - 1
		}
		if idx < 0 || idx >= n {
			idx = 0
		}
		w := writes[idx]
		return fmt.Errorf("redis: commit %s (want v%d): %w", w.Key, w.ExpectedVersion, domain.ErrVersionConflict)
	}
	return nil
}

// Scan walks the lexicographic index a page at a time and loads each page
// of hashes in one pipeline. Keys deleted between the two reads are skipped.
func (l *Ledger) Scan(ctx context.Context, prefix string) iter.Seq2[domain.Entry, error] {
	hi := "+"
	if end := ledger.PrefixEnd(prefix); end != "" {
		hi = "(" + end
	}
	return func(yield func(domain.Entry, error) bool) {
		lo := "[" + prefix
		for {
			keys, err := l.rdb.ZRangeByLex(ctx, ledgerIndexKey, &redis.ZRangeBy{
				Min: lo, Max: hi, Count: scanPageSize,
			}).Result()
			if err != nil {
				yield(domain.Entry{}, unavailable("scan "+prefix, err))
				return
			}
			if len(keys) == 0 {
				return
			}

			page, err := l.loadPage(ctx, keys)
			if err != nil {
				yield(domain.Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(keys) < scanPageSize {
				return
			}
			lo = "(" + keys[len(keys)-1]
		}
	}
}

func (l *Ledger) loadPage(ctx context.Context, keys []string) ([]domain.Entry, error) {
	cmds := make([]*redis.SliceCmd, len(keys))
	_, err := l.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HMGet(ctx, entryKey(k), "value", "version")
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("scan load", err)
	}

	out := make([]domain.Entry, 0, len(keys))
	for i, k := range keys {
		e, ok, err := decodeEntry(k, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func decodeEntry(key string, vals []any) (domain.Entry, bool, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return domain.Entry{}, false, nil
	}
	value, _ := vals[0].(string)
	rawVersion, _ := vals[1].(string)
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("redis: decode version of %s: %w", key, err)
	}
	return domain.Entry{Key: key, Value: []byte(value), Version: version}, true, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis: %s: %w", op, err)
	}
	return fmt.Errorf("redis: %s: %w: %w", op, domain.ErrUnavailable, err)
}

var _ domain.Ledger = (*Ledger)(nil)
