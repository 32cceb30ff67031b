package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Status      string `json:"status"`
	CommitteeID string `json:"committeeId,omitempty"`
}

// Query describes a search request. Empty filters match everything.
type Query struct {
	Text        string
	Status      string
	CommitteeID string
	ChapterOnly bool
	Limit       int
	Offset      int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CommitteeID string `json:"committeeId"`
	Scope       string `json:"scope"`
	Mode        string `json:"mode"`
	UpdatedAt   int64  `json:"updatedAt"`
}
