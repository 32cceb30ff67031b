package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	where := "fts @@ " + tsQuery
	args := []any{q.Text}
	argN := 2
	if q.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, q.Status)
		argN++
	}
	switch {
	case q.CommitteeID != "":
		where += fmt.Sprintf(" AND committee_id = $%d", argN)
		args = append(args, q.CommitteeID)
	case q.ChapterOnly:
		where += " AND committee_id IS NULL"
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM proposals WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, title,
			ts_headline('english', description, %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			status, coalesce(committee_id, '')
		FROM proposals
		WHERE %s
		ORDER BY ts_rank(fts, %s) DESC, created_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.CommitteeID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every proposal for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProposalRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, status, coalesce(committee_id, ''), mode_kind, updated_at
		FROM proposals
	`)
	if err != nil {
		return nil, fmt.Errorf("load proposals: %w", err)
	}
	defer rows.Close()

	records := make([]ProposalRecord, 0)
	for rows.Next() {
		var r ProposalRecord
		var updated sql.NullTime
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Status, &r.CommitteeID, &r.Mode, &updated); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		r.Scope = scopeLabel(r.CommitteeID)
		if updated.Valid {
			r.UpdatedAt = updated.Time.Unix()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return records, nil
}

func scopeLabel(committeeID string) string {
	if committeeID == "" {
		return "chapter"
	}
	return "committee"
}
