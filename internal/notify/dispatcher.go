package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// DefaultEvents are forwarded when no event list is configured.
var DefaultEvents = []string{
	string(domain.EventInvitationCreated),
	string(domain.EventMarketDisputed),
	string(domain.EventSubmissionResolved),
	string(domain.EventMarketSettled),
}

// Dispatcher turns bus events into notifications.
type Dispatcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

func NewDispatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_dispatcher")),
	}
}

// Run subscribes to every event channel and forwards until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ch, err := d.bus.Subscribe(ctx, domain.EventChannel("*"))
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	d.logger.InfoContext(ctx, "notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			d.Handle(ctx, payload)
		}
	}
}

// Handle decodes one event and notifies if it is worth telling anyone.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.logger.WarnContext(ctx, "notify: undecodable event", slog.String("error", err.Error()))
		return
	}
	title, msg, ok := Format(ev)
	if !ok {
		return
	}
	if err := d.notifier.Notify(ctx, string(ev.Type), title, msg); err != nil {
		d.logger.WarnContext(ctx, "notify: delivery failed",
			slog.String("event", string(ev.Type)),
			slog.String("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// Format renders an event as a notification. Resolutions are only
// reported when disputed; other event types are rendered generically.
func Format(ev domain.Event) (title, message string, ok bool) {
	var b strings.Builder
	switch ev.Type {
	case domain.EventInvitationCreated:
		title = "New market invitation"
		fmt.Fprintf(&b, "%q\nmarket %s", payloadString(ev, "title"), ev.MarketID)
		writeRecipients(&b, ev.Recipients)
	case domain.EventMarketDisputed:
		title = "Market disputed"
		fmt.Fprintf(&b, "market %s: %s", ev.MarketID, payloadString(ev, "reason"))
	case domain.EventSubmissionResolved:
		if disputed, _ := ev.Payload["disputed"].(bool); !disputed {
			return "", "", false
		}
		title = "Submission disputed"
		fmt.Fprintf(&b, "submission %s could not be resolved by peer votes", payloadString(ev, "submission_id"))
	case domain.EventMarketSettled:
		title = "Market settled"
		fmt.Fprintf(&b, "market %s\npool %v, winning stake %v (%s)",
			ev.MarketID, ev.Payload["total_stake"], ev.Payload["winning_stake"], payloadString(ev, "policy"))
		writeRecipients(&b, ev.Recipients)
	default:
		title = string(ev.Type)
		fmt.Fprintf(&b, "market %s", ev.MarketID)
		if ev.Actor != "" {
			fmt.Fprintf(&b, " by %s", ev.Actor)
		}
	}
	return title, b.String(), true
}

func payloadString(ev domain.Event, key string) string {
	if v, ok := ev.Payload[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func writeRecipients(b *strings.Builder, ids []domain.Identity) {
	if len(ids) == 0 {
		return
	}
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	fmt.Fprintf(b, "\nfor %s", strings.Join(s, ", "))
}
