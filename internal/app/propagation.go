package app

import (
	"context"

	"gavel/api/internal/decision"
	"gavel/api/internal/events"
	"gavel/api/internal/store"
	"gavel/api/internal/util"
)

type PushResult struct {
	Committee ProposalView `json:"committee"`
	Chapter   ProposalView `json:"chapter"`
}

// PushToChapter clones a passed committee proposal into a chapter draft. The
// clone and the link back to it are written in one transaction.
func (s *Service) PushToChapter(ctx context.Context, session Session, proposalID string) (PushResult, error) {
	now := s.now()
	var src, clone decision.Proposal
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		src, err = q.LockProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		actor, err := actorFor(ctx, q, session, src)
		if err != nil {
			return err
		}
		if err := decision.CheckPropagate(src, actor); err != nil {
			return err
		}
		committee, err := q.GetCommittee(ctx, src.Scope.CommitteeID)
		if err != nil {
			return err
		}

		clone = decision.Propagate(src, committee.Code, actor, util.NewID("prp"), now)
		if err := q.CreateProposal(ctx, clone); err != nil {
			return err
		}
		src.PropagatedTo = clone.ID
		src.UpdatedAt = now
		return q.UpdateProposal(ctx, src)
	})
	if err != nil {
		return PushResult{}, err
	}

	s.emit(ctx, events.ProposalPropagated, src.ID, session.UserID, map[string]any{"chapterProposalId": clone.ID})
	s.emit(ctx, events.ProposalOpened, clone.ID, session.UserID, map[string]any{
		"scope":          clone.Scope.Label(),
		"propagatedFrom": src.ID,
		"mode":           string(clone.Mode.Kind()),
	})
	s.search.IndexProposal(src)
	s.search.IndexProposal(clone)
	s.archive(ctx, src, "propagated", session.UserID, nil)
	s.notifyOpened(ctx, clone)
	return PushResult{Committee: viewOf(src), Chapter: viewOf(clone)}, nil
}
