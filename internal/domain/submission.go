package domain

import "time"

// Verdict is a validator's judgement on a submission.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
)

// ReasonKind qualifies an invalid verdict.
type ReasonKind string

const (
	ReasonDifferentScore ReasonKind = "different_score"
	ReasonOther          ReasonKind = "other"
)

// Reason explains an invalid verdict. CorrectedOutcome is only meaningful
// for ReasonDifferentScore.
type Reason struct {
	Kind             ReasonKind `json:"kind"`
	CorrectedOutcome int        `json:"corrected_outcome,omitempty"`
	Text             string     `json:"text,omitempty"`
}

// Vote is one validator's verdict on a submission.
type Vote struct {
	Validator Identity  `json:"validator"`
	Verdict   Verdict   `json:"verdict"`
	Reason    *Reason   `json:"reason,omitempty"`
	CastAt    time.Time `json:"cast_at"`
}

// Resolution is the consensus derived from a submission's votes.
type Resolution struct {
	SubmissionID string    `json:"submission_id"`
	Outcome      int       `json:"outcome"`
	Disputed     bool      `json:"disputed"`
	ValidVotes   int       `json:"valid_votes"`
	InvalidVotes int       `json:"invalid_votes"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// Submission is a participant's claimed result. Votes are keyed by
// validator so each validator holds at most one vote.
type Submission struct {
	MarketID       string            `json:"market_id"`
	Participant    Identity          `json:"participant"`
	ClaimedOutcome int               `json:"claimed_outcome"`
	EvidenceRef    string            `json:"evidence_ref"`
	SubmittedAt    time.Time         `json:"submitted_at"`
	Votes          map[Identity]Vote `json:"votes"`
	Resolution     *Resolution       `json:"resolution,omitempty"`
}

// SubmissionID builds the identifier of a participant's submission.
func SubmissionID(marketID string, participant Identity) string {
	return marketID + "/" + string(participant)
}

// ID returns the submission identifier.
func (s Submission) ID() string {
	return SubmissionID(s.MarketID, s.Participant)
}

// Frozen reports whether the submission can no longer be replaced.
func (s Submission) Frozen() bool {
	return len(s.Votes) > 0 || s.Resolution != nil
}
