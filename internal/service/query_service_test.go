package service

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

func TestQueryService_Lifecycle(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	older := f.createMarket(p1, p2)
	f.clock.Advance(time.Minute)
	m := f.createMarket(p1, p2, p3)

	list, err := f.queries.ListMarkets(f.ctx)
	if err != nil {
		t.Fatalf("ListMarkets failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != m.ID || list[1].ID != older.ID {
		t.Fatalf("ListMarkets order wrong: %v", list)
	}

	invs, err := f.queries.PendingInvitations(f.ctx, p3)
	if err != nil {
		t.Fatalf("PendingInvitations failed: %v", err)
	}
	if len(invs) != 1 || invs[0].MarketID != m.ID || invs[0].Title == "" {
		t.Fatalf("pending invitations = %+v, want one for %s", invs, m.ID)
	}

	f.acceptAll(m.ID, p1, p2, p3)
	f.buy(m.ID, p1, 0, 10)
	f.buy(m.ID, p1, 1, 5)
	f.buy(m.ID, p2, 1, 25)

	detail, err := f.queries.MarketDetail(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("MarketDetail failed: %v", err)
	}
	if detail.Total != 40 || detail.Stakes[1] != 30 || detail.Chances[0] != "0.2500" {
		t.Errorf("detail = %+v, want total 40 stakes[1] 30 chance 0.2500", detail)
	}

	pos, err := f.queries.Position(f.ctx, m.ID, p1)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if len(pos.Tickets) != 2 || pos.StakeByOutcome[0] != 10 || pos.StakeByOutcome[1] != 5 || pos.Total != 15 {
		t.Errorf("position = %+v", pos)
	}
	empty, err := f.queries.Position(f.ctx, m.ID, p3)
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if empty.Tickets == nil || len(empty.Tickets) != 0 {
		t.Errorf("empty position tickets = %v, want empty slice", empty.Tickets)
	}

	own, err := f.queries.OwnerStatus(f.ctx, m.ID, owner)
	if err != nil || !own.IsOwner {
		t.Errorf("OwnerStatus(owner) = %+v, %v", own, err)
	}
	notOwn, err := f.queries.OwnerStatus(f.ctx, m.ID, p1)
	if err != nil || notOwn.IsOwner {
		t.Errorf("OwnerStatus(p1) = %+v, %v", notOwn, err)
	}

	f.close(m.ID)
	due, err := f.queries.SubmissionsDue(f.ctx, p1)
	if err != nil {
		t.Fatalf("SubmissionsDue failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != m.ID {
		t.Fatalf("submissions due = %v, want %s", due, m.ID)
	}

	sub := f.submit(m.ID, p1, 0)
	if due, _ = f.queries.SubmissionsDue(f.ctx, p1); len(due) != 0 {
		t.Errorf("submissions due after submit = %v, want none", due)
	}

	vd, err := f.queries.ValidationsDue(f.ctx, p2)
	if err != nil {
		t.Fatalf("ValidationsDue failed: %v", err)
	}
	if len(vd) != 1 || vd[0].Submission.ID() != sub.ID() {
		t.Fatalf("validations due = %+v, want %s", vd, sub.ID())
	}
	if vd, _ = f.queries.ValidationsDue(f.ctx, p1); len(vd) != 0 {
		t.Errorf("submitter has validations due: %+v", vd)
	}
	f.vote(sub, p2, domain.VerdictValid, nil)
	if vd, _ = f.queries.ValidationsDue(f.ctx, p2); len(vd) != 0 {
		t.Errorf("validations due after voting = %+v, want none", vd)
	}

	subs, err := f.queries.Submissions(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("Submissions failed: %v", err)
	}
	if len(subs) != 1 || len(subs[0].Votes) != 1 {
		t.Errorf("submissions = %+v", subs)
	}

	acct, err := f.queries.Account(f.ctx, ident(77))
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if acct.Balance != 0 || acct.Identity != ident(77) {
		t.Errorf("unknown account = %+v, want zero balance", acct)
	}
}

func TestQueryService_NotFound(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	if _, err := f.queries.MarketDetail(f.ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarketDetail err = %v, want ErrNotFound", err)
	}
	if _, err := f.queries.Submissions(f.ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Submissions err = %v, want ErrNotFound", err)
	}
	m := f.createMarket(p1)
	if _, err := f.queries.Settlement(f.ctx, m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Settlement err = %v, want ErrNotFound", err)
	}
}
