package app

import (
	"context"
	"errors"

	"gavel/api/internal/archive"
)

// Ledger returns the archived history of a proposal, newest first.
func (s *Service) Ledger(ctx context.Context, proposalID string, limit int) ([]archive.Commit, error) {
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return []archive.Commit{}, nil
	}
	commits, err := s.ledger.History(proposalID, limit)
	if errors.Is(err, archive.ErrNoLedger) {
		return []archive.Commit{}, nil
	}
	return commits, err
}
