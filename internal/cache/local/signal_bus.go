// Package local provides an in-process domain.SignalBus for single-node
// deployments and tests, where no Redis is configured.
package local

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

const (
	defaultStreamMaxLen = 10000
	subscriberBuffer    = 128
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus fans published payloads out to matching subscribers and keeps
// capped in-memory streams. Slow subscribers drop messages rather than
// blocking publishers, matching Redis Pub/Sub delivery.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string]*stream
	maxLen  int
}

type stream struct {
	nextSeq  uint64
	messages []domain.StreamMessage
	seqs     []uint64
}

// NewSignalBus returns an empty bus. maxLen caps each stream; zero uses the
// default.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string]*stream),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every subscriber whose pattern matches.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe accepts exact channel names or glob patterns.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("local: subscribe %s: %w", channel, err)
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload, dropping the oldest entry past the cap.
func (b *SignalBus) StreamAppend(ctx context.Context, name string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[name]
	if !ok {
		st = &stream{nextSeq: 1}
		b.streams[name] = st
	}
	seq := st.nextSeq
	st.nextSeq++
	st.messages = append(st.messages, domain.StreamMessage{
		ID:      strconv.FormatUint(seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	st.seqs = append(st.seqs, seq)
	if over := len(st.messages) - b.maxLen; over > 0 {
		st.messages = st.messages[over:]
		st.seqs = st.seqs[over:]
	}
	return nil
}

// StreamRead returns up to count messages with an ID greater than lastID.
func (b *SignalBus) StreamRead(ctx context.Context, name string, lastID string, count int) ([]domain.StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	after, err := parseID(lastID)
	if err != nil {
		return nil, fmt.Errorf("local: stream read %s: %w", name, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.streams[name]
	if !ok {
		return nil, nil
	}

	var out []domain.StreamMessage
	for i, seq := range st.seqs {
		if seq <= after {
			continue
		}
		out = append(out, st.messages[i])
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// parseID accepts "0", "0-0" and the "{seq}-0" IDs produced by StreamAppend.
func parseID(id string) (uint64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, nil
	}
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed stream id %q: %w", id, domain.ErrInvalidInput)
	}
	return seq, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
