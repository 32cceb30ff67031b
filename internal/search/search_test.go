package search

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gavel/api/internal/decision"
	"gavel/api/internal/store"
)

func seed(t *testing.T, s *store.MemoryStore, id, title, desc string, status decision.Status, committee string) {
	t.Helper()
	now := time.Now().UTC()
	p := decision.Proposal{
		ID:          id,
		Title:       title,
		Description: desc,
		DocumentRef: "doc",
		ProposerID:  "usr_1",
		AvailableAt: now,
		Status:      status,
		Mode:        decision.Percentage{Threshold: 51},
		Scope:       decision.CommitteeScope(committee),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateProposal(context.Background(), p))
}

func TestScanMatchesAllTerms(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, "p1", "Annual budget", "Allocate funds for the spring gala", decision.StatusPassed, "")
	seed(t, mem, "p2", "Gala venue", "Pick the venue", decision.StatusDraft, "")
	seed(t, mem, "p3", "Budget amendment", "Committee budget for outreach", decision.StatusDraft, "cmt_out")

	scan := NewScan(mem)
	ctx := context.Background()

	results, total, err := scan.Search(ctx, Query{Text: "budget"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)

	results, total, err = scan.Search(ctx, Query{Text: "BUDGET gala"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "p1", results[0].ID)

	results, _, err = scan.Search(ctx, Query{Text: "budget", ChapterOnly: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)

	results, _, err = scan.Search(ctx, Query{Text: "budget", CommitteeID: "cmt_out"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cmt_out", results[0].CommitteeID)

	results, _, err = scan.Search(ctx, Query{Text: "budget", Status: "passed"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "passed", results[0].Status)
}

func TestScanPaging(t *testing.T) {
	mem := store.NewMemoryStore()
	for i := 0; i < 5; i++ {
		seed(t, mem, fmt.Sprintf("p%d", i), "Bylaw change", "", decision.StatusDraft, "")
	}
	results, total, err := NewScan(mem).Search(context.Background(), Query{Text: "bylaw", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, results, 1)
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, "p1", "Dues increase", "", decision.StatusDraft, "")
	svc := NewService(nil, NewScan(mem))

	resp := svc.Search(context.Background(), Query{Text: "dues"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "dues", resp.Query)

	empty := svc.Search(context.Background(), Query{Text: ""})
	assert.NotNil(t, empty.Results)
	assert.Empty(t, empty.Results)

	// indexing without meili is a no-op
	svc.IndexProposal(decision.Proposal{ID: "p1"})
}

func TestPgFTSBuildsFilteredQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM proposals WHERE fts @@ plainto_tsquery('english', $1) AND status = $2 AND committee_id IS NULL")).
		WithArgs("gala", "passed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY ts_rank\(fts, .*\) DESC, created_at DESC\s+LIMIT 20 OFFSET 0`).
		WithArgs("gala", "passed").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "snippet", "status", "committee_id"}).
			AddRow("p1", "Gala", "the <mark>gala</mark>", "passed", ""))

	results, total, err := NewPgFTS(db).Search(context.Background(), Query{Text: "gala", Status: "passed", ChapterOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "the <mark>gala</mark>", results[0].Snippet)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMeiliFilters(t *testing.T) {
	assert.Empty(t, meiliFilters(Query{}))
	assert.Equal(t, []string{`status = "passed"`, `scope = "chapter"`}, meiliFilters(Query{Status: "passed", ChapterOnly: true}))
	assert.Equal(t, []string{`committeeId = "cmt_1"`}, meiliFilters(Query{CommitteeID: "cmt_1", ChapterOnly: true}))
}

func TestRecordOf(t *testing.T) {
	p := decision.Proposal{
		ID:        "p1",
		Title:     "T",
		Status:    decision.StatusPassed,
		Mode:      decision.Plurality{Options: []string{"a", "b"}},
		Scope:     decision.CommitteeScope("cmt_1"),
		UpdatedAt: time.Unix(1700000000, 0),
	}
	r := RecordOf(p)
	assert.Equal(t, "committee", r.Scope)
	assert.Equal(t, "plurality", r.Mode)
	assert.Equal(t, int64(1700000000), r.UpdatedAt)
}
