package domain

import "time"

// EventType names a state change published on the signal bus.
type EventType string

const (
	EventMarketCreated       EventType = "market.created"
	EventInvitationCreated   EventType = "invitation.created"
	EventInvitationResponded EventType = "invitation.responded"
	EventTicketBought        EventType = "ticket.bought"
	EventMarketClosed        EventType = "market.closed"
	EventMarketResolving     EventType = "market.resolving"
	EventSubmissionCreated   EventType = "submission.created"
	EventVoteCast            EventType = "vote.cast"
	EventSubmissionResolved  EventType = "submission.resolved"
	EventMarketSettled       EventType = "market.settled"
	EventMarketDisputed      EventType = "market.disputed"
	EventDeposit             EventType = "account.deposit"
)

// EventStream is the durable stream every event is appended to.
const EventStream = "events"

// EventChannel returns the pub/sub channel for an event type.
func EventChannel(t EventType) string { return "events:" + string(t) }

// Event is the envelope published for every committed state change.
// Recipients lists identities that should be notified personally.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	MarketID   string         `json:"market_id,omitempty"`
	Actor      Identity       `json:"actor,omitempty"`
	Recipients []Identity     `json:"recipients,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	At         time.Time      `json:"at"`
}
