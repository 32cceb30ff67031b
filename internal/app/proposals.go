package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gavel/api/internal/archive"
	"gavel/api/internal/decision"
	"gavel/api/internal/email"
	"gavel/api/internal/events"
	"gavel/api/internal/rbac"
	"gavel/api/internal/search"
	"gavel/api/internal/store"
	"gavel/api/internal/util"
)

// ProposalView is the wire form of a proposal.
type ProposalView struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	DocumentRef     string            `json:"documentRef,omitempty"`
	ProposerID      string            `json:"proposerId"`
	AvailableAt     time.Time         `json:"availableAt"`
	VotingClosed    bool              `json:"votingClosed"`
	Status          decision.Status   `json:"status"`
	Anonymous       bool              `json:"anonymous"`
	AllowAbstain    bool              `json:"allowAbstain"`
	Mode            decision.ModeSpec `json:"mode"`
	Scope           string            `json:"scope"`
	CommitteeID     string            `json:"committeeId,omitempty"`
	PropagatedFrom  string            `json:"propagatedFrom,omitempty"`
	PropagatedTo    string            `json:"propagatedTo,omitempty"`
	PreviousVersion string            `json:"previousVersion,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

func viewOf(p decision.Proposal) ProposalView {
	return ProposalView{
		ID:              p.ID,
		Title:           p.Title,
		Description:     p.Description,
		DocumentRef:     p.DocumentRef,
		ProposerID:      p.ProposerID,
		AvailableAt:     p.AvailableAt,
		VotingClosed:    p.VotingClosed,
		Status:          p.Status,
		Anonymous:       p.Anonymous,
		AllowAbstain:    p.AllowAbstain,
		Mode:            decision.SpecOf(p.Mode),
		Scope:           p.Scope.Label(),
		CommitteeID:     p.Scope.CommitteeID,
		PropagatedFrom:  p.PropagatedFrom,
		PropagatedTo:    p.PropagatedTo,
		PreviousVersion: p.PreviousVersion,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func viewsOf(proposals []decision.Proposal) []ProposalView {
	out := make([]ProposalView, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, viewOf(p))
	}
	return out
}

type OpenProposalInput struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	DocumentRef  string            `json:"documentRef"`
	AvailableAt  *time.Time        `json:"availableAt"`
	Anonymous    bool              `json:"anonymous"`
	AllowAbstain bool              `json:"allowAbstain"`
	Mode         decision.ModeSpec `json:"mode"`
	CommitteeID  string            `json:"committeeId"`
}

// OpenProposal creates a draft proposal owned by the caller. Committee
// proposals can only be opened by members of that committee.
func (s *Service) OpenProposal(ctx context.Context, session Session, input OpenProposalInput) (ProposalView, error) {
	if !s.Can(session.Role, rbac.ActionPropose) {
		return ProposalView{}, forbidden("Your role cannot open proposals")
	}
	mode, err := input.Mode.Mode()
	if err != nil {
		return ProposalView{}, err
	}

	draft := decision.Proposal{
		Title:        input.Title,
		Description:  input.Description,
		DocumentRef:  input.DocumentRef,
		ProposerID:   session.UserID,
		Anonymous:    input.Anonymous,
		AllowAbstain: input.AllowAbstain,
		Mode:         mode,
		Scope:        decision.ChapterScope(),
	}
	if input.AvailableAt != nil {
		draft.AvailableAt = *input.AvailableAt
	}
	if committeeID := strings.TrimSpace(input.CommitteeID); committeeID != "" {
		if _, err := s.store.GetCommittee(ctx, committeeID); err != nil {
			return ProposalView{}, err
		}
		if _, err := s.store.GetMembership(ctx, committeeID, session.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ProposalView{}, fmt.Errorf("%w: only committee members may open committee proposals", decision.ErrUnauthorized)
			}
			return ProposalView{}, err
		}
		draft.Scope = decision.CommitteeScope(committeeID)
	}

	p, err := decision.Open(draft, util.NewID("prp"), s.now())
	if err != nil {
		return ProposalView{}, err
	}
	if err := s.store.CreateProposal(ctx, p); err != nil {
		return ProposalView{}, err
	}

	s.emit(ctx, events.ProposalOpened, p.ID, session.UserID, map[string]any{
		"scope":       p.Scope.Label(),
		"committeeId": p.Scope.CommitteeID,
		"mode":        string(p.Mode.Kind()),
	})
	s.search.IndexProposal(p)
	s.notifyOpened(ctx, p)
	return viewOf(p), nil
}

func (s *Service) GetProposal(ctx context.Context, proposalID string) (ProposalView, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return ProposalView{}, err
	}
	return viewOf(p), nil
}

type ListProposalsInput struct {
	Scope       string
	CommitteeID string
	Status      string
	Limit       int
	Offset      int
}

func (s *Service) ListProposals(ctx context.Context, input ListProposalsInput) ([]ProposalView, error) {
	filter := store.ProposalFilter{
		CommitteeID: strings.TrimSpace(input.CommitteeID),
		ChapterOnly: input.Scope == "chapter",
		Status:      decision.Status(input.Status),
		Limit:       clampLimit(input.Limit),
		Offset:      max(input.Offset, 0),
	}
	proposals, err := s.store.ListProposals(ctx, filter)
	if err != nil {
		return nil, err
	}
	return viewsOf(proposals), nil
}

func (s *Service) SearchProposals(ctx context.Context, query search.Query) search.Response {
	return s.search.Search(ctx, query)
}

// Decisions lists passed proposals, newest first, optionally narrowed by a
// full-text query.
func (s *Service) Decisions(ctx context.Context, text string, limit, offset int) (any, error) {
	if strings.TrimSpace(text) != "" {
		return s.search.Search(ctx, search.Query{
			Text:   text,
			Status: string(decision.StatusPassed),
			Limit:  limit,
			Offset: offset,
		}), nil
	}
	return s.ListProposals(ctx, ListProposalsInput{Status: string(decision.StatusPassed), Limit: limit, Offset: offset})
}

type EditProposalInput struct {
	Title        *string            `json:"title"`
	Description  *string            `json:"description"`
	DocumentRef  *string            `json:"documentRef"`
	Anonymous    *bool              `json:"anonymous"`
	AllowAbstain *bool              `json:"allowAbstain"`
	AvailableAt  *time.Time         `json:"availableAt"`
	Mode         *decision.ModeSpec `json:"mode"`
}

func (in EditProposalInput) edit() (decision.Edit, error) {
	e := decision.Edit{
		Title:        in.Title,
		Description:  in.Description,
		DocumentRef:  in.DocumentRef,
		Anonymous:    in.Anonymous,
		AllowAbstain: in.AllowAbstain,
		AvailableAt:  in.AvailableAt,
	}
	if in.Mode != nil {
		mode, err := in.Mode.Mode()
		if err != nil {
			return decision.Edit{}, err
		}
		e.Mode = mode
	}
	return e, nil
}

// EditProposal applies the proposer's changes. Passed proposals are final.
func (s *Service) EditProposal(ctx context.Context, session Session, proposalID string, input EditProposalInput) (ProposalView, error) {
	e, err := input.edit()
	if err != nil {
		return ProposalView{}, err
	}
	var p decision.Proposal
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		p, err = q.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if err := decision.CheckEdit(p, decision.Actor{ID: session.UserID}); err != nil {
			return err
		}
		if err := p.Apply(e, s.now()); err != nil {
			return err
		}
		return q.UpdateProposal(ctx, p)
	})
	if err != nil {
		return ProposalView{}, err
	}

	s.emit(ctx, events.ProposalEdited, p.ID, session.UserID, nil)
	s.search.IndexProposal(p)
	return viewOf(p), nil
}

// SubmitNewVersion opens a fresh draft derived from the proposal. The source
// proposal and its ballots are left as they are.
func (s *Service) SubmitNewVersion(ctx context.Context, session Session, proposalID string, input EditProposalInput) (ProposalView, error) {
	e, err := input.edit()
	if err != nil {
		return ProposalView{}, err
	}
	var next decision.Proposal
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		src, err := q.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if err := decision.CheckNewVersion(src, decision.Actor{ID: session.UserID}); err != nil {
			return err
		}
		next, err = decision.NewVersion(src, util.NewID("prp"), e, s.now())
		if err != nil {
			return err
		}
		return q.CreateProposal(ctx, next)
	})
	if err != nil {
		return ProposalView{}, err
	}

	s.emit(ctx, events.ProposalVersioned, next.ID, session.UserID, map[string]any{"previousVersion": proposalID})
	s.search.IndexProposal(next)
	s.notifyOpened(ctx, next)
	return viewOf(next), nil
}

// Versions walks the previous-version chain from the proposal back to the
// first draft, newest first.
func (s *Service) Versions(ctx context.Context, proposalID string) ([]ProposalView, error) {
	var chain []ProposalView
	seen := make(map[string]struct{})
	for id := proposalID; id != ""; {
		if _, ok := seen[id]; ok {
			break
		}
		seen[id] = struct{}{}
		p, err := s.store.GetProposal(ctx, id)
		if err != nil {
			if len(chain) > 0 && errors.Is(err, store.ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, viewOf(p))
		id = p.PreviousVersion
	}
	return chain, nil
}

type CloseResult struct {
	Proposal      ProposalView  `json:"proposal"`
	Result        decision.View `json:"result"`
	AlreadyClosed bool          `json:"alreadyClosed"`
}

// CloseVoting ends voting and records the tally. Closing an already closed
// proposal returns the recorded outcome and has no side effects.
func (s *Service) CloseVoting(ctx context.Context, session Session, proposalID string) (CloseResult, error) {
	now := s.now()
	var (
		p       decision.Proposal
		outcome decision.Outcome
		ballots []decision.Ballot
		already bool
	)
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		p, err = q.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		actor, err := actorFor(ctx, q, session, p)
		if err != nil {
			return err
		}
		if err := decision.CheckClose(p, actor, now); err != nil {
			return err
		}
		ballots, err = q.ListBallots(ctx, p.ID)
		if err != nil {
			return err
		}

		if p.VotingClosed {
			already = true
			outcome, ballots, err = recordedOutcome(ctx, q, p, ballots)
			return err
		}

		outcome, _ = p.Close(ballots, now)
		if err := q.UpdateProposal(ctx, p); err != nil {
			return err
		}
		return q.SaveOutcome(ctx, store.ClosedOutcome{
			ProposalID: p.ID,
			Outcome:    outcome,
			Ballots:    ballots,
			ClosedBy:   session.UserID,
			ClosedAt:   now,
		})
	})
	if err != nil {
		return CloseResult{}, err
	}

	view := decision.Render(outcome, p, ballots)
	result := CloseResult{Proposal: viewOf(p), Result: view, AlreadyClosed: already}
	if already {
		return result, nil
	}

	s.metrics.proposalClosed(outcome.Passed)
	s.emit(ctx, events.ProposalClosed, p.ID, session.UserID, map[string]any{
		"passed": outcome.Passed,
		"total":  outcome.Total,
		"status": string(p.Status),
	})
	s.search.IndexProposal(p)
	s.archive(ctx, p, "closed", session.UserID, &view)
	s.notifyOutcome(ctx, p, view)
	return result, nil
}

// Reopen resumes voting on a closed, not passed proposal. Ballots already
// cast stay and count again at the next close.
func (s *Service) Reopen(ctx context.Context, session Session, proposalID string) (ProposalView, error) {
	var (
		p       decision.Proposal
		changed bool
	)
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		p, err = q.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if err := decision.CheckReopen(p, decision.Actor{ID: session.UserID}); err != nil {
			return err
		}
		if !p.VotingClosed {
			return nil
		}
		changed = true
		p.Reopen(s.now())
		if err := q.UpdateProposal(ctx, p); err != nil {
			return err
		}
		return q.ClearOutcome(ctx, p.ID)
	})
	if err != nil {
		return ProposalView{}, err
	}
	if changed {
		s.emit(ctx, events.ProposalReopened, p.ID, session.UserID, nil)
		s.search.IndexProposal(p)
		s.archive(ctx, p, "reopened", session.UserID, nil)
	}
	return viewOf(p), nil
}

// recordedOutcome returns the outcome and ballot set saved when p closed.
// Without a saved outcome it tallies the current ballots.
func recordedOutcome(ctx context.Context, q store.Queries, p decision.Proposal, ballots []decision.Ballot) (decision.Outcome, []decision.Ballot, error) {
	closed, err := q.GetOutcome(ctx, p.ID)
	if err == nil {
		return closed.Outcome, closed.Ballots, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return decision.Tally(p, ballots), ballots, nil
	}
	return decision.Outcome{}, nil, err
}

func (s *Service) archive(ctx context.Context, p decision.Proposal, event, actorID string, view *decision.View) {
	if s.ledger == nil {
		return
	}
	entry := archive.Entry{
		ProposalID: p.ID,
		Event:      event,
		Title:      p.Title,
		Status:     string(p.Status),
		Scope:      p.Scope.Label(),
		Result:     view,
		ActorID:    actorID,
		RecordedAt: s.now().UTC(),
	}
	message := fmt.Sprintf("%s: %s", event, p.Title)
	if _, err := s.ledger.Record(entry, actorID, message); err != nil {
		slog.WarnContext(ctx, "archive outcome", "proposal_id", p.ID, "event", event, "err", err)
	}
}

func (s *Service) notifyOutcome(ctx context.Context, p decision.Proposal, view decision.View) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	proposer, err := s.store.GetUser(ctx, p.ProposerID)
	if err != nil || proposer.Email == "" {
		return
	}
	data := email.OutcomeData{
		RecipientName: proposer.DisplayName,
		Title:         p.Title,
		Passed:        view.Passed,
		Summary:       outcomeSummary(view),
		ResultURL:     s.resultURL(p.ID),
	}
	go func() {
		if err := s.mailer.SendOutcomeNotice(proposer.Email, data); err != nil {
			slog.Warn("send outcome notice", "proposal_id", p.ID, "err", err)
		}
	}()
}

func (s *Service) notifyOpened(ctx context.Context, p decision.Proposal) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	recipients, err := s.store.ListVoterEmails(ctx, p.Scope)
	if err != nil {
		slog.WarnContext(ctx, "list voter emails", "proposal_id", p.ID, "err", err)
		return
	}
	if len(recipients) == 0 {
		return
	}
	data := email.OpenedData{
		Title:       p.Title,
		Scope:       p.Scope.Label(),
		AvailableAt: p.AvailableAt.UTC().Format(time.RFC1123),
		ProposalURL: strings.TrimSuffix(s.resultURL(p.ID), "/result"),
	}
	go func() {
		if err := s.mailer.SendOpenedNotice(recipients, data); err != nil {
			slog.Warn("send opened notice", "proposal_id", p.ID, "err", err)
		}
	}()
}

func outcomeSummary(view decision.View) string {
	switch {
	case view.Winner != "":
		return fmt.Sprintf("Winning option: %s (%d ballots).", view.Winner, view.Total)
	case view.Percentage != nil:
		return fmt.Sprintf("%.1f%% in favour over %d ballots.", *view.Percentage, view.Total)
	default:
		return fmt.Sprintf("%d ballots cast.", view.Total)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	default:
		return limit
	}
}
