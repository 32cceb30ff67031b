package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gavel/api/internal/decision"
	"gavel/api/internal/events"
	"gavel/api/internal/export"
	"gavel/api/internal/rbac"
	"gavel/api/internal/store"
)

type CastBallotInput struct {
	Choice   string `json:"choice"`
	Password string `json:"password"`
}

type BallotReceipt struct {
	ProposalID string    `json:"proposalId"`
	VoterID    string    `json:"voterId"`
	CastAt     time.Time `json:"castAt"`
}

// CastBallot records the caller's ballot. Eligibility and the one-ballot rule
// are checked while the proposal row is locked, so two concurrent casts by
// the same voter cannot both succeed.
func (s *Service) CastBallot(ctx context.Context, session Session, proposalID string, input CastBallotInput) (BallotReceipt, error) {
	if !s.Can(session.Role, rbac.ActionVote) {
		return BallotReceipt{}, forbidden("Your role cannot vote")
	}
	if s.cfg.RequirePasswordOnCast {
		if err := s.passwords.Verify(ctx, session.UserID, input.Password); err != nil {
			return BallotReceipt{}, err
		}
	}

	now := s.now()
	ballot := decision.Ballot{ProposalID: proposalID, VoterID: session.UserID, Choice: input.Choice, CastAt: now}
	var p decision.Proposal
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		p, err = q.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		verdict, err := s.verdict(ctx, q, p, session.UserID, now)
		if err != nil {
			return err
		}
		if err := verdict.Err(); err != nil {
			return err
		}
		if err := decision.ValidateChoice(p, input.Choice); err != nil {
			return err
		}
		return q.InsertBallot(ctx, ballot)
	})
	if err != nil {
		var ineligible *decision.IneligibleError
		if errors.As(err, &ineligible) {
			s.metrics.castRejected(string(ineligible.Reason))
		}
		return BallotReceipt{}, err
	}

	s.metrics.ballotCast(p.Scope.Label())
	data := map[string]any{"anonymous": p.Anonymous}
	if !p.Anonymous {
		data["choice"] = ballot.Choice
	}
	s.emit(ctx, events.BallotCast, p.ID, session.UserID, data)
	return BallotReceipt{ProposalID: p.ID, VoterID: session.UserID, CastAt: now}, nil
}

// Eligibility reports whether the caller could cast a ballot right now.
func (s *Service) Eligibility(ctx context.Context, session Session, proposalID string) (decision.Verdict, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return decision.Verdict{}, err
	}
	return s.verdict(ctx, s.store, p, session.UserID, s.now())
}

// verdict runs the eligibility gate. Committee proposals first require
// membership in the committee.
func (s *Service) verdict(ctx context.Context, q store.Queries, p decision.Proposal, voterID string, now time.Time) (decision.Verdict, error) {
	if p.Scope.IsCommittee() {
		if _, err := q.GetMembership(ctx, p.Scope.CommitteeID, voterID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return decision.Verdict{Allowed: false, Reason: decision.ReasonNotMember}, nil
			}
			return decision.Verdict{}, err
		}
	}
	attendance, err := q.LatestAttendance(ctx, voterID)
	if err != nil {
		return decision.Verdict{}, err
	}
	voted, err := q.HasBallot(ctx, p.ID, voterID)
	if err != nil {
		return decision.Verdict{}, err
	}
	return s.gate.Check(p, attendance, voted, now), nil
}

// RenderResult returns the proposal's result under its disclosure policy.
// Closed proposals show the outcome recorded at close. While voting is open
// only the proposer, or a chair of the proposal's committee, sees the running
// counts, and never the voters behind them.
func (s *Service) RenderResult(ctx context.Context, session Session, proposalID string) (decision.View, error) {
	view, p, err := s.result(ctx, proposalID)
	if err != nil {
		return decision.View{}, err
	}
	if p.VotingClosed {
		return view, nil
	}
	actor, err := actorFor(ctx, s.store, session, p)
	if err != nil {
		return decision.View{}, err
	}
	if actor.ID == "" || (actor.ID != p.ProposerID && !(p.Scope.IsCommittee() && actor.Chair)) {
		return decision.View{}, errVotingOpen("Results are available once voting has closed")
	}
	for i := range view.Choices {
		view.Choices[i].Voters = nil
	}
	return view, nil
}

func errVotingOpen(message string) *DomainError {
	return domainError(http.StatusConflict, "VOTING_OPEN", message, nil)
}

func (s *Service) result(ctx context.Context, proposalID string) (decision.View, decision.Proposal, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return decision.View{}, decision.Proposal{}, err
	}
	ballots, err := s.store.ListBallots(ctx, p.ID)
	if err != nil {
		return decision.View{}, decision.Proposal{}, err
	}
	outcome := decision.Tally(p, ballots)
	if p.VotingClosed {
		outcome, ballots, err = recordedOutcome(ctx, s.store, p, ballots)
		if err != nil {
			return decision.View{}, decision.Proposal{}, err
		}
	}
	return decision.Render(outcome, p, ballots), p, nil
}

// ExportResult renders a closed proposal's result as an HTML or PDF report.
func (s *Service) ExportResult(ctx context.Context, proposalID string, format export.Format) (*export.Result, error) {
	view, p, err := s.result(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !p.VotingClosed {
		return nil, errVotingOpen("Results can be exported once voting has closed")
	}
	report := export.Report{
		View:        view,
		Description: p.Description,
		ScopeLabel:  p.Scope.Label(),
		ModeSummary: export.ModeSummary(p.Mode),
	}
	if closed, err := s.store.GetOutcome(ctx, p.ID); err == nil {
		report.ClosedAt = closed.ClosedAt
	}
	return s.exporter.Export(ctx, report, format)
}
