// Package search indexes proposals in Meilisearch and falls back to the
// primary store when Meilisearch is unavailable.
package search

import (
	"context"
	"log/slog"

	"gavel/api/internal/decision"
)

// Service is the facade that tries Meilisearch first and falls back otherwise.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.WarnContext(ctx, "meilisearch error, falling back", "err", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.ErrorContext(ctx, "fallback search failed", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProposal indexes a proposal (fire-and-forget to Meilisearch).
func (s *Service) IndexProposal(p decision.Proposal) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordOf(p)
	go func() {
		if err := s.meili.IndexProposal(record); err != nil {
			slog.Warn("index proposal", "id", record.ID, "err", err)
		}
	}()
}

// ReindexFrom loads every proposal and pushes them to Meilisearch.
// Called during bootstrap when Meilisearch is healthy.
func (s *Service) ReindexFrom(ctx context.Context, load func(context.Context) ([]ProposalRecord, error)) {
	if s.meili == nil || !s.meili.Healthy() || load == nil {
		return
	}
	records, err := load(ctx)
	if err != nil {
		slog.WarnContext(ctx, "reindex load failed", "err", err)
		return
	}
	if err := s.meili.IndexProposals(records); err != nil {
		slog.WarnContext(ctx, "reindex proposals", "err", err)
	}
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func RecordOf(p decision.Proposal) ProposalRecord {
	var mode string
	if p.Mode != nil {
		mode = string(p.Mode.Kind())
	}
	return ProposalRecord{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Status:      string(p.Status),
		CommitteeID: p.Scope.CommitteeID,
		Scope:       p.Scope.Label(),
		Mode:        mode,
		UpdatedAt:   p.UpdatedAt.Unix(),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
