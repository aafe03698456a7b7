package local

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNonceStore_Claim(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewNonceStore()
	s.now = func() time.Time { return now }

	steps := []struct {
		name    string
		advance time.Duration
		key     string
		want    bool
	}{
		{"first claim", 0, "a", true},
		{"repeat", 0, "a", false},
		{"other key", 0, "b", true},
		{"before expiry", 59 * time.Second, "a", false},
		{"after expiry", time.Second, "a", true},
	}
	for _, st := range steps {
		now = now.Add(st.advance)
		got, err := s.Claim(ctx, st.key, time.Minute)
		if err != nil {
			t.Fatalf("%s: Claim failed: %v", st.name, err)
		}
		if got != st.want {
			t.Errorf("%s: Claim(%q) = %v, want %v", st.name, st.key, got, st.want)
		}
	}
}

func TestNonceStore_PrunesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewNonceStore()
	s.now = func() time.Time { return now }

	for i := range pruneEvery - 1 {
		if _, err := s.Claim(ctx, fmt.Sprintf("k%d", i), time.Second); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
	}
	now = now.Add(time.Minute)
	if _, err := s.Claim(ctx, "fresh", time.Second); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if n := len(s.expires); n != 1 {
		t.Errorf("entries after prune = %d, want 1", n)
	}
}
