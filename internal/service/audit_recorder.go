package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

const auditBatchSize = 100

// AuditRecorder copies the durable event stream into the audit log. It
// reads from the start of the stream on every boot and relies on the audit
// store ignoring event IDs it has already recorded.
type AuditRecorder struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	interval time.Duration
	logger   *slog.Logger
	lastID   string
}

// NewAuditRecorder creates an AuditRecorder polling every interval.
func NewAuditRecorder(bus domain.SignalBus, audit domain.AuditStore, interval time.Duration, logger *slog.Logger) *AuditRecorder {
	if interval <= 0 {
		interval = time.Second
	}
	return &AuditRecorder{
		bus:      bus,
		audit:    audit,
		interval: interval,
		logger:   logger.With(slog.String("component", "audit_recorder")),
		lastID:   "0",
	}
}

// Run drains the stream, then polls for new entries until ctx is cancelled.
func (r *AuditRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.Drain(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "audit drain failed", slog.String("error", err.Error()))
				break
			}
			if n < auditBatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain records one batch of stream entries and returns how many it read.
// The read position only advances past entries that were stored, or that
// could not be decoded at all.
func (r *AuditRecorder) Drain(ctx context.Context) (int, error) {
	msgs, err := r.bus.StreamRead(ctx, domain.EventStream, r.lastID, auditBatchSize)
	if err != nil {
		return 0, fmt.Errorf("audit_recorder: read stream: %w", err)
	}
	for _, msg := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			r.logger.WarnContext(ctx, "audit_recorder: skipping undecodable entry",
				slog.String("stream_id", msg.ID),
				slog.String("error", err.Error()),
			)
			r.lastID = msg.ID
			continue
		}
		if err := r.audit.Log(ctx, string(ev.Type), ev.MarketID, auditDetail(ev)); err != nil {
			return 0, fmt.Errorf("audit_recorder: log %s: %w", ev.ID, err)
		}
		r.lastID = msg.ID
	}
	return len(msgs), nil
}

func auditDetail(ev domain.Event) map[string]any {
	d := map[string]any{
		"event_id": ev.ID,
		"at":       ev.At,
	}
	if ev.Actor != "" {
		d["actor"] = ev.Actor
	}
	if len(ev.Recipients) > 0 {
		d["recipients"] = ev.Recipients
	}
	if len(ev.Payload) > 0 {
		d["payload"] = ev.Payload
	}
	return d
}
