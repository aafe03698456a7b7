package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// EventPublisher announces committed state changes. Publishing happens
// after the ledger write, so failures are logged and never undo the write.
type EventPublisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewEventPublisher creates an EventPublisher. A nil bus disables
// publishing.
func NewEventPublisher(bus domain.SignalBus, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "events")),
		now:    time.Now,
	}
}

// Publish sends ev on its type channel and appends it to the event stream.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.Event) {
	if p == nil || p.bus == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.WarnContext(ctx, "events: marshal failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.bus.Publish(ctx, domain.EventChannel(ev.Type), payload); err != nil {
		p.logger.WarnContext(ctx, "events: publish failed",
			slog.String("type", string(ev.Type)),
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
		p.logger.WarnContext(ctx, "events: stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
