package service

import (
	"fmt"
	"testing"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

func TestQuorum(t *testing.T) {
	tests := map[int]int{-1: 0, 0: 0, 1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 6: 4, 7: 5, 10: 6}
	for n, want := range tests {
		if got := Quorum(n); got != want {
			t.Errorf("Quorum(%d) = %d, want %d", n, got, want)
		}
	}
}

func votesOf(vs ...domain.Vote) map[domain.Identity]domain.Vote {
	out := make(map[domain.Identity]domain.Vote, len(vs))
	for i, v := range vs {
		v.Validator = ident(10 + i)
		out[v.Validator] = v
	}
	return out
}

func valid() domain.Vote { return domain.Vote{Verdict: domain.VerdictValid} }

func invalid(r domain.Reason) domain.Vote {
	return domain.Vote{Verdict: domain.VerdictInvalid, Reason: &r}
}

func TestResolve(t *testing.T) {
	score := func(o int) domain.Reason {
		return domain.Reason{Kind: domain.ReasonDifferentScore, CorrectedOutcome: o}
	}
	other := domain.Reason{Kind: domain.ReasonOther, Text: "wrong photo"}

	tests := []struct {
		name         string
		eligible     int
		votes        map[domain.Identity]domain.Vote
		wantResolved bool
		wantOutcome  int
	}{
		{"below quorum", 3, votesOf(valid(), valid()), false, 0},
		{"no eligible validators", 0, votesOf(), false, 0},
		{"valid majority", 3, votesOf(valid(), valid(), invalid(other)), true, 2},
		{"agreed correction", 2, votesOf(invalid(score(0)), invalid(score(0))), true, 0},
		{"disagreeing corrections", 3, votesOf(invalid(score(0)), invalid(score(1)), valid()), true, DisputedOutcome},
		{"mixed invalid reasons", 3, votesOf(invalid(score(0)), invalid(other), invalid(score(0))), true, DisputedOutcome},
		{"tie", 4, votesOf(valid(), invalid(score(0)), valid(), invalid(score(0))), true, DisputedOutcome},
		{"single validator", 1, votesOf(valid()), true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := domain.Submission{MarketID: "m", Participant: p1, ClaimedOutcome: 2, Votes: tt.votes}
			r := Resolve(sub, tt.eligible, t0)
			if (r != nil) != tt.wantResolved {
				t.Fatalf("resolved = %v, want %v", r != nil, tt.wantResolved)
			}
			if r == nil {
				return
			}
			if r.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %d, want %d", r.Outcome, tt.wantOutcome)
			}
			if r.Disputed != (tt.wantOutcome == DisputedOutcome) {
				t.Errorf("disputed = %v for outcome %d", r.Disputed, r.Outcome)
			}
		})
	}
}

// Votes arrive one at a time through CastValidation; the resolution must
// not depend on which validator voted first.
func TestCastValidation_OrderIndependent(t *testing.T) {
	validators := []domain.Identity{p2, p3, ident(4), ident(5)}
	verdicts := map[domain.Identity]struct {
		verdict domain.Verdict
		reason  *domain.Reason
	}{
		p2:       {domain.VerdictInvalid, differentScore(1)},
		p3:       {domain.VerdictInvalid, differentScore(1)},
		ident(4): {domain.VerdictInvalid, differentScore(1)},
		ident(5): {domain.VerdictValid, nil},
	}

	var want *domain.Resolution
	for i, order := range permutations(validators) {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			f := newFixture(t, domain.PayoutWinnersTakePool)
			all := append([]domain.Identity{p1}, validators...)
			m := f.createMarket(all...)
			f.acceptAll(m.ID, all...)
			f.close(m.ID)
			sub := f.submit(m.ID, p1, 0)

			var final domain.Submission
			for _, v := range order {
				if sub.Resolution != nil {
					break
				}
				vv := verdicts[v]
				sub = f.vote(sub, v, vv.verdict, vv.reason)
				final = sub
			}
			r := final.Resolution
			if r == nil {
				t.Fatalf("order %v never resolved", order)
			}
			if want == nil {
				want = r
				return
			}
			if r.Disputed != want.Disputed || (!r.Disputed && r.Outcome != want.Outcome) {
				t.Errorf("order %v resolved %+v, first order resolved %+v", order, r, want)
			}
		})
	}
}

func permutations(ids []domain.Identity) [][]domain.Identity {
	if len(ids) <= 1 {
		return [][]domain.Identity{append([]domain.Identity(nil), ids...)}
	}
	var out [][]domain.Identity
	for i := range ids {
		rest := make([]domain.Identity, 0, len(ids)-1)
		rest = append(rest, ids[:i]...)
		rest = append(rest, ids[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]domain.Identity{ids[i]}, p...))
		}
	}
	return out
}
