package domain

import (
	"slices"
	"time"
)

// MarketState represents the lifecycle state of a market.
type MarketState string

const (
	MarketStateCreated   MarketState = "created"
	MarketStateOpen      MarketState = "open"
	MarketStateClosed    MarketState = "closed"
	MarketStateResolving MarketState = "resolving"
	MarketStateSettled   MarketState = "settled"
	MarketStateDisputed  MarketState = "disputed"
)

// Terminal reports whether no further transitions are possible.
func (s MarketState) Terminal() bool {
	return s == MarketStateSettled || s == MarketStateDisputed
}

// AcceptsResults reports whether submissions and votes may be recorded.
func (s MarketState) AcceptsResults() bool {
	return s == MarketStateClosed || s == MarketStateResolving
}

// Outcome is one selectable result of a market.
type Outcome struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Market is a single competition among a fixed participant set.
type Market struct {
	ID             string      `json:"id"`
	Owner          Identity    `json:"owner"`
	Title          string      `json:"title"`
	Participants   []Identity  `json:"participants"`
	Outcomes       []Outcome   `json:"outcomes"`
	EndDate        time.Time   `json:"end_date"`
	State          MarketState `json:"state"`
	CreatedAt      time.Time   `json:"created_at"`
	ClosedAt       *time.Time  `json:"closed_at,omitempty"`
	ClosedEarly    bool        `json:"closed_early,omitempty"`
	ResolvingSince *time.Time  `json:"resolving_since,omitempty"`
	SettledAt      *time.Time  `json:"settled_at,omitempty"`
	DisputedAt     *time.Time  `json:"disputed_at,omitempty"`
}

// HasParticipant reports whether id was invited at creation.
func (m Market) HasParticipant(id Identity) bool {
	return slices.Contains(m.Participants, id)
}

// ValidOutcome reports whether idx addresses one of the market's outcomes.
func (m Market) ValidOutcome(idx int) bool {
	return idx >= 0 && idx < len(m.Outcomes)
}
