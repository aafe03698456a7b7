package domain

import "time"

// InvitationStatus tracks a participant's answer to a market invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// Invitation is unique per (market, participant) and answered exactly once.
type Invitation struct {
	MarketID    string           `json:"market_id"`
	Participant Identity         `json:"participant"`
	Status      InvitationStatus `json:"status"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
}

// ID returns the composite invitation identifier.
func (i Invitation) ID() string {
	return i.MarketID + "/" + string(i.Participant)
}
