// Package ledgertest holds the behavioural contract every domain.Ledger
// backend must satisfy. Backend packages call Run from their own tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// Run exercises l against the ledger contract. newLedger must return an
// empty ledger for every call.
func Run(t *testing.T, newLedger func(t *testing.T) domain.Ledger) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newLedger(t)) })
	t.Run("PutVersions", func(t *testing.T) { testPutVersions(t, newLedger(t)) })
	t.Run("CommitAtomic", func(t *testing.T) { testCommitAtomic(t, newLedger(t)) })
	t.Run("ScanPrefix", func(t *testing.T) { testScanPrefix(t, newLedger(t)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, newLedger(t)) })
}

func testGetMissing(t *testing.T, l domain.Ledger) {
	_, err := l.Get(context.Background(), "missing/key")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func testPutVersions(t *testing.T, l domain.Ledger) {
	ctx := context.Background()

	v, err := l.Put(ctx, "k/1", []byte(`"a"`), 0)
	if err != nil {
		t.Fatalf("Put create failed: %v", err)
	}
	if v != 1 {
		t.Errorf("version after create = %d, want 1", v)
	}

	if _, err := l.Put(ctx, "k/1", []byte(`"b"`), 0); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("Put create-again error = %v, want ErrVersionConflict", err)
	}

	v, err = l.Put(ctx, "k/1", []byte(`"b"`), 1)
	if err != nil {
		t.Fatalf("Put update failed: %v", err)
	}
	if v != 2 {
		t.Errorf("version after update = %d, want 2", v)
	}

	if _, err := l.Put(ctx, "k/1", []byte(`"stale"`), 1); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("Put stale error = %v, want ErrVersionConflict", err)
	}

	e, err := l.Get(ctx, "k/1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(e.Value) != `"b"` || e.Version != 2 {
		t.Errorf("Get = (%s, v%d), want (\"b\", v2)", e.Value, e.Version)
	}
}

func testCommitAtomic(t *testing.T, l domain.Ledger) {
	ctx := context.Background()

	if _, err := l.Put(ctx, "acct/a", []byte(`1`), 0); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err := l.Commit(ctx,
		domain.Write{Key: "acct/b", Value: []byte(`2`), ExpectedVersion: 0},
		domain.Write{Key: "acct/a", Value: []byte(`3`), ExpectedVersion: 7},
	)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("Commit with stale write error = %v, want ErrVersionConflict", err)
	}
	if _, err := l.Get(ctx, "acct/b"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("acct/b written by failed commit (err=%v)", err)
	}

	err = l.Commit(ctx,
		domain.Write{Key: "acct/b", Value: []byte(`2`), ExpectedVersion: 0},
		domain.Write{Key: "acct/a", Value: []byte(`3`), ExpectedVersion: 1},
	)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	a, _ := l.Get(ctx, "acct/a")
	b, _ := l.Get(ctx, "acct/b")
	if string(a.Value) != "3" || a.Version != 2 {
		t.Errorf("acct/a = (%s, v%d), want (3, v2)", a.Value, a.Version)
	}
	if string(b.Value) != "2" || b.Version != 1 {
		t.Errorf("acct/b = (%s, v%d), want (2, v1)", b.Value, b.Version)
	}
}

func testScanPrefix(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	for _, k := range []string{"inv/m1/c", "inv/m1/a", "inv/m2/a", "inv/m1/b", "pool/m1"} {
		if _, err := l.Put(ctx, k, []byte(`{}`), 0); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	scan := l.Scan(ctx, "inv/m1/")
	want := []string{"inv/m1/a", "inv/m1/b", "inv/m1/c"}
	for pass := 0; pass < 2; pass++ {
		var got []string
		for e, err := range scan {
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			got = append(got, e.Key)
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("pass %d: Scan keys = %v, want %v", pass, got, want)
		}
	}

	count := 0
	for range l.Scan(ctx, "inv/") {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("early break yielded %d entries, want 2", count)
	}
}

func testConcurrentIncrement(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	const workers = 8
	const perWorker = 5

	if _, err := l.Put(ctx, "counter", []byte("0"), 0); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	policy := ledger.RetryPolicy{MaxAttempts: 200, BaseDelay: 0}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				err := ledger.Retry(gctx, policy, func(ctx context.Context) error {
					e, err := l.Get(ctx, "counter")
					if err != nil {
						return err
					}
					n, _ := strconv.Atoi(string(e.Value))
					_, err = l.Put(ctx, "counter", []byte(strconv.Itoa(n+1)), e.Version)
					return err
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	e, err := l.Get(ctx, "counter")
	if err != nil {
		t.Fatalf("Get counter failed: %v", err)
	}
	if string(e.Value) != strconv.Itoa(workers*perWorker) {
		t.Errorf("counter = %s, want %d", e.Value, workers*perWorker)
	}
}
