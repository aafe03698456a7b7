package service

import (
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// DisputedOutcome is the Resolution.Outcome of a disputed submission.
const DisputedOutcome = -1

// Quorum is the number of votes needed before a submission with eligible
// validators can resolve: ceil(n/2)+1, capped at n. It is zero for n < 1,
// meaning such a submission can never resolve.
func Quorum(eligible int) int {
	if eligible < 1 {
		return 0
	}
	return min((eligible+1)/2+1, eligible)
}

// Resolve derives a submission's resolution from its complete vote set, or
// returns nil while quorum is not reached. The result depends only on the
// set of votes, never on their arrival order.
func Resolve(sub domain.Submission, eligible int, now time.Time) *domain.Resolution {
	q := Quorum(eligible)
	if q == 0 || len(sub.Votes) < q {
		return nil
	}

	var valid, invalid int
	corrected := DisputedOutcome
	agree := true
	for _, v := range sub.Votes {
		if v.Verdict == domain.VerdictValid {
			valid++
			continue
		}
		invalid++
		if v.Reason == nil || v.Reason.Kind != domain.ReasonDifferentScore {
			agree = false
			continue
		}
		switch {
		case corrected == DisputedOutcome:
			corrected = v.Reason.CorrectedOutcome
		case corrected != v.Reason.CorrectedOutcome:
			agree = false
		}
	}

	res := &domain.Resolution{
		SubmissionID: sub.ID(),
		Outcome:      DisputedOutcome,
		Disputed:     true,
		ValidVotes:   valid,
		InvalidVotes: invalid,
		ResolvedAt:   now,
	}
	switch {
	case valid > invalid:
		res.Outcome, res.Disputed = sub.ClaimedOutcome, false
	case invalid > valid && agree && corrected != DisputedOutcome:
		res.Outcome, res.Disputed = corrected, false
	}
	return res
}
