package search

import (
	"context"
	"fmt"
	"strings"

	"gavel/api/internal/decision"
	"gavel/api/internal/store"
)

// ProposalLister is satisfied by every store backend.
type ProposalLister interface {
	ListProposals(ctx context.Context, filter store.ProposalFilter) ([]decision.Proposal, error)
}

// Scan searches by listing proposals and matching every query term against
// title and description. It backs the in-memory store.
type Scan struct {
	store ProposalLister
}

func NewScan(s ProposalLister) *Scan {
	return &Scan{store: s}
}

func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	filter := store.ProposalFilter{
		CommitteeID: q.CommitteeID,
		ChapterOnly: q.ChapterOnly && q.CommitteeID == "",
		Status:      decision.Status(q.Status),
		Limit:       200,
	}
	var matched []Result
	for {
		page, err := s.store.ListProposals(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("scan proposals: %w", err)
		}
		for _, p := range page {
			if matchesAll(p, terms) {
				matched = append(matched, Result{
					ID:          p.ID,
					Title:       p.Title,
					Snippet:     snippet(p.Description, 160),
					Status:      string(p.Status),
					CommitteeID: p.Scope.CommitteeID,
				})
			}
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	total := len(matched)
	start := min(q.offset(), total)
	end := min(start+q.limit(), total)
	return matched[start:end], total, nil
}

func matchesAll(p decision.Proposal, terms []string) bool {
	haystack := strings.ToLower(p.Title + " " + p.Description)
	for _, t := range terms {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
