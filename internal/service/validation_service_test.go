package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

type stubEvidence map[string]bool

func (s stubEvidence) EvidenceExists(_ context.Context, ref string) (bool, error) {
	return s[ref], nil
}

func TestSubmitResult_Errors(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	m := f.createMarket(p1, p2, p3)
	f.acceptAll(m.ID, p1, p2)

	if _, err := f.validation.SubmitResult(f.ctx, m.ID, p1, 0, "x"); !errors.Is(err, domain.ErrMarketNotClosed) {
		t.Errorf("open market err = %v, want ErrMarketNotClosed", err)
	}
	f.close(m.ID)

	tests := []struct {
		name     string
		who      domain.Identity
		outcome  int
		evidence string
		want     error
	}{
		{"pending invitation", p3, 0, "x", domain.ErrNotAParticipant},
		{"outsider", ident(9), 0, "x", domain.ErrNotAParticipant},
		{"bad outcome", p1, 5, "x", domain.ErrInvalidOutcome},
		{"no evidence", p1, 0, "  ", domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.validation.SubmitResult(f.ctx, m.ID, tt.who, tt.outcome, tt.evidence)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmitResult_EvidenceChecked(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	f.validation.evidence = stubEvidence{"evidence/ok.jpg": true}
	m := f.createMarket(p1, p2)
	f.acceptAll(m.ID, p1, p2)
	f.close(m.ID)

	if _, err := f.validation.SubmitResult(f.ctx, m.ID, p1, 0, "evidence/missing.jpg"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("missing evidence err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.validation.SubmitResult(f.ctx, m.ID, p1, 0, "evidence/ok.jpg"); err != nil {
		t.Errorf("SubmitResult with uploaded evidence failed: %v", err)
	}
}

func TestSubmitResult_ReplaceUntilFirstVote(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	m := f.createMarket(p1, p2, p3)
	f.acceptAll(m.ID, p1, p2, p3)
	f.close(m.ID)

	f.submit(m.ID, p1, 0)
	sub := f.submit(m.ID, p1, 1)
	if sub.ClaimedOutcome != 1 {
		t.Fatalf("claimed = %d, want replaced 1", sub.ClaimedOutcome)
	}
	f.vote(sub, p2, domain.VerdictValid, nil)

	if _, err := f.validation.SubmitResult(f.ctx, m.ID, p1, 0, "x"); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Errorf("replace after vote err = %v, want ErrAlreadySubmitted", err)
	}
}

func TestCastValidation_Errors(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	m := f.createMarket(p1, p2, p3)
	f.acceptAll(m.ID, p1, p2)
	f.close(m.ID)
	sub := f.submit(m.ID, p1, 0)

	cast := func(validator domain.Identity, id string, verdict domain.Verdict, reason *domain.Reason) error {
		_, err := f.validation.CastValidation(f.ctx, CastValidationInput{
			Validator: validator, SubmissionID: id, Verdict: verdict, Reason: reason,
		})
		return err
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"malformed id", cast(p2, "nope", domain.VerdictValid, nil), domain.ErrInvalidInput},
		{"no submission", cast(p1, domain.SubmissionID(m.ID, p2), domain.VerdictValid, nil), domain.ErrNoSubmission},
		{"self", cast(p1, sub.ID(), domain.VerdictValid, nil), domain.ErrSelfValidation},
		{"not accepted", cast(p3, sub.ID(), domain.VerdictValid, nil), domain.ErrNotAParticipant},
		{"unknown verdict", cast(p2, sub.ID(), "maybe", nil), domain.ErrInvalidInput},
		{"invalid without reason", cast(p2, sub.ID(), domain.VerdictInvalid, nil), domain.ErrInvalidInput},
		{"other without text", cast(p2, sub.ID(), domain.VerdictInvalid, &domain.Reason{Kind: domain.ReasonOther}), domain.ErrInvalidInput},
		{"correction out of range", cast(p2, sub.ID(), domain.VerdictInvalid, differentScore(7)), domain.ErrInvalidOutcome},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, tt.err, tt.want)
		}
	}

	// p2 is the only eligible validator, so one vote resolves.
	f.vote(sub, p2, domain.VerdictValid, nil)
	if err := cast(p2, sub.ID(), domain.VerdictInvalid, differentScore(1)); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("vote after resolution err = %v, want ErrAlreadyResolved", err)
	}
}

func TestCastValidation_OverwriteBeforeResolution(t *testing.T) {
	f := newFixture(t, domain.PayoutWinnersTakePool)
	m := f.createMarket(p1, p2, p3)
	f.acceptAll(m.ID, p1, p2, p3)
	f.close(m.ID)
	sub := f.submit(m.ID, p1, 0)

	f.vote(sub, p2, domain.VerdictInvalid, differentScore(1))
	sub = f.vote(sub, p2, domain.VerdictValid, nil)
	if len(sub.Votes) != 1 {
		t.Fatalf("votes = %d, want 1 after overwrite", len(sub.Votes))
	}
	if sub.Votes[p2].Verdict != domain.VerdictValid || sub.Votes[p2].Reason != nil {
		t.Errorf("vote = %+v, want overwritten valid", sub.Votes[p2])
	}
	sub = f.vote(sub, p3, domain.VerdictValid, nil)
	if sub.Resolution == nil || sub.Resolution.Outcome != 0 {
		t.Errorf("resolution = %+v, want outcome 0", sub.Resolution)
	}
}

func TestParseSubmissionID(t *testing.T) {
	marketID, p, err := ParseSubmissionID("m-1/" + "0x0000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("ParseSubmissionID failed: %v", err)
	}
	if marketID != "m-1" || p != p1 {
		t.Errorf("got %s %s, want m-1 %s", marketID, p, p1)
	}
	for _, bad := range []string{"", "m-1", "/0x0000000000000000000000000000000000000001", "m-1/bob"} {
		if _, _, err := ParseSubmissionID(bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("ParseSubmissionID(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}
