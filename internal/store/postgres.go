package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gavel/api/internal/decision"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	pgQueries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken through
// LockProposal serialize writers on the same proposal.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(pgQueries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgQueries struct {
	q dbtx
}

const proposalColumns = `
	id, title, description, document_ref, proposer_id, available_at, voting_closed, status,
	anonymous, allow_abstain, mode_kind, threshold, required_yes, options, committee_id,
	propagated_from, propagated_to, previous_version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (decision.Proposal, error) {
	var (
		p        decision.Proposal
		status   string
		kind     string
		spec     decision.ModeSpec
		options  []byte
		document sql.NullString
		scope    sql.NullString
		from     sql.NullString
		to       sql.NullString
		previous sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &document, &p.ProposerID, &p.AvailableAt, &p.VotingClosed, &status,
		&p.Anonymous, &p.AllowAbstain, &kind, &spec.Threshold, &spec.RequiredYes, &options, &scope,
		&from, &to, &previous, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return decision.Proposal{}, err
	}
	spec.Kind = decision.ModeKind(kind)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &spec.Options); err != nil {
			return decision.Proposal{}, fmt.Errorf("decode options for %s: %w", p.ID, err)
		}
	}
	mode, err := spec.Mode()
	if err != nil {
		return decision.Proposal{}, fmt.Errorf("decode vote mode for %s: %w", p.ID, err)
	}
	p.Mode = mode
	p.Status = decision.Status(status)
	p.DocumentRef = document.String
	p.Scope = decision.CommitteeScope(scope.String)
	p.PropagatedFrom = from.String
	p.PropagatedTo = to.String
	p.PreviousVersion = previous.String
	return p, nil
}

func proposalArgs(p decision.Proposal) ([]any, error) {
	spec := decision.SpecOf(p.Mode)
	var options []byte
	if len(spec.Options) > 0 {
		encoded, err := json.Marshal(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("encode options: %w", err)
		}
		options = encoded
	}
	return []any{
		p.ID, p.Title, p.Description, nullable(p.DocumentRef), p.ProposerID, p.AvailableAt, p.VotingClosed, string(p.Status),
		p.Anonymous, p.AllowAbstain, string(spec.Kind), spec.Threshold, spec.RequiredYes, options, nullable(p.Scope.CommitteeID),
		nullable(p.PropagatedFrom), nullable(p.PropagatedTo), nullable(p.PreviousVersion), p.CreatedAt, p.UpdatedAt,
	}, nil
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s pgQueries) GetProposal(ctx context.Context, id string) (decision.Proposal, error) {
	p, err := scanProposal(s.q.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, id))
	if err != nil {
		return decision.Proposal{}, notFound(err, "get proposal")
	}
	return p, nil
}

func (s pgQueries) LockProposal(ctx context.Context, id string) (decision.Proposal, error) {
	p, err := scanProposal(s.q.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return decision.Proposal{}, notFound(err, "lock proposal")
	}
	return p, nil
}

func (s pgQueries) CreateProposal(ctx context.Context, p decision.Proposal) error {
	args, err := proposalArgs(p)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, args...)
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s pgQueries) UpdateProposal(ctx context.Context, p decision.Proposal) error {
	args, err := proposalArgs(p)
	if err != nil {
		return err
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE proposals SET
			title=$2, description=$3, document_ref=$4, proposer_id=$5, available_at=$6, voting_closed=$7, status=$8,
			anonymous=$9, allow_abstain=$10, mode_kind=$11, threshold=$12, required_yes=$13, options=$14,
			committee_id=$15, propagated_from=$16, propagated_to=$17, previous_version=$18, created_at=$19, updated_at=$20
		WHERE id=$1
	`, args...)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update proposal %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s pgQueries) ListProposals(ctx context.Context, filter ProposalFilter) ([]decision.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE 1=1`
	args := []any{}
	if filter.CommitteeID != "" {
		args = append(args, filter.CommitteeID)
		query += fmt.Sprintf(" AND committee_id=$%d", len(args))
	} else if filter.ChapterOnly {
		query += " AND committee_id IS NULL"
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]decision.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

// outcomeSnapshot is the JSON stored in proposal_outcomes.outcome.
type outcomeSnapshot struct {
	decision.Outcome
	Ballots []snapshotBallot `json:"ballots"`
}

type snapshotBallot struct {
	VoterID string    `json:"voterId"`
	Choice  string    `json:"choice"`
	CastAt  time.Time `json:"castAt"`
}

func (s pgQueries) SaveOutcome(ctx context.Context, closed ClosedOutcome) error {
	snapshot := outcomeSnapshot{Outcome: closed.Outcome, Ballots: make([]snapshotBallot, 0, len(closed.Ballots))}
	for _, b := range closed.Ballots {
		snapshot.Ballots = append(snapshot.Ballots, snapshotBallot{VoterID: b.VoterID, Choice: b.Choice, CastAt: b.CastAt})
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO proposal_outcomes (proposal_id, outcome, closed_by, closed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id) DO UPDATE SET outcome=EXCLUDED.outcome, closed_by=EXCLUDED.closed_by, closed_at=EXCLUDED.closed_at
	`, closed.ProposalID, payload, closed.ClosedBy, closed.ClosedAt)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

func (s pgQueries) GetOutcome(ctx context.Context, proposalID string) (ClosedOutcome, error) {
	var (
		closed  ClosedOutcome
		payload []byte
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT proposal_id, outcome, closed_by, closed_at FROM proposal_outcomes WHERE proposal_id=$1
	`, proposalID).Scan(&closed.ProposalID, &payload, &closed.ClosedBy, &closed.ClosedAt)
	if err != nil {
		return ClosedOutcome{}, notFound(err, "get outcome")
	}
	var snapshot outcomeSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return ClosedOutcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	closed.Outcome = snapshot.Outcome
	closed.Ballots = make([]decision.Ballot, 0, len(snapshot.Ballots))
	for _, b := range snapshot.Ballots {
		closed.Ballots = append(closed.Ballots, decision.Ballot{ProposalID: closed.ProposalID, VoterID: b.VoterID, Choice: b.Choice, CastAt: b.CastAt})
	}
	return closed, nil
}

func (s pgQueries) ClearOutcome(ctx context.Context, proposalID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM proposal_outcomes WHERE proposal_id=$1`, proposalID); err != nil {
		return fmt.Errorf("clear outcome: %w", err)
	}
	return nil
}

// InsertBallot only writes while the proposal's voting is open, and relies
// on UNIQUE(proposal_id, voter_id) for uniqueness; a violation is reported as
// decision.ErrAlreadyVoted.
func (s pgQueries) InsertBallot(ctx context.Context, b decision.Ballot) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO ballots (proposal_id, voter_id, choice, cast_at)
		SELECT p.id, $2, $3, $4 FROM proposals p
		WHERE p.id = $1 AND NOT p.voting_closed
	`, b.ProposalID, b.VoterID, b.Choice, b.CastAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return decision.ErrAlreadyVoted
		}
		return fmt.Errorf("insert ballot: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert ballot: %w", err)
	}
	if inserted > 0 {
		return nil
	}
	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM proposals WHERE id=$1)`, b.ProposalID).Scan(&exists); err != nil {
		return fmt.Errorf("insert ballot: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return decision.ErrProposalClosed
}

func (s pgQueries) HasBallot(ctx context.Context, proposalID, voterID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM ballots WHERE proposal_id=$1 AND voter_id=$2)
	`, proposalID, voterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ballot: %w", err)
	}
	return exists, nil
}

func (s pgQueries) ListBallots(ctx context.Context, proposalID string) ([]decision.Ballot, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT proposal_id, voter_id, choice, cast_at
		FROM ballots
		WHERE proposal_id=$1
		ORDER BY cast_at, voter_id
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	defer rows.Close()

	items := make([]decision.Ballot, 0)
	for rows.Next() {
		var b decision.Ballot
		if err := rows.Scan(&b.ProposalID, &b.VoterID, &b.Choice, &b.CastAt); err != nil {
			return nil, fmt.Errorf("scan ballot: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ballots: %w", err)
	}
	return items, nil
}

// LatestAttendance returns at most one record: the voter's most recent entry.
func (s pgQueries) LatestAttendance(ctx context.Context, voterID string) ([]decision.AttendanceRecord, error) {
	var record decision.AttendanceRecord
	err := s.q.QueryRowContext(ctx, `
		SELECT voter_id, present, recorded_at
		FROM attendance
		WHERE voter_id=$1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, voterID).Scan(&record.VoterID, &record.Present, &record.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest attendance: %w", err)
	}
	return []decision.AttendanceRecord{record}, nil
}

// UpsertAttendance keeps one entry per voter per UTC day, refreshing it on
// repeated roll calls.
func (s pgQueries) UpsertAttendance(ctx context.Context, entry AttendanceEntry) (AttendanceEntry, error) {
	day := entry.RecordedAt.UTC().Format(time.DateOnly)
	var saved AttendanceEntry
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO attendance (id, voter_id, present, recorded_by, recorded_at, recorded_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (voter_id, recorded_on) DO UPDATE
			SET present=EXCLUDED.present, recorded_by=EXCLUDED.recorded_by, recorded_at=EXCLUDED.recorded_at
		RETURNING id, voter_id, present, recorded_by, recorded_at
	`, entry.ID, entry.VoterID, entry.Present, entry.RecordedBy, entry.RecordedAt, day).
		Scan(&saved.ID, &saved.VoterID, &saved.Present, &saved.RecordedBy, &saved.RecordedAt)
	if err != nil {
		return AttendanceEntry{}, fmt.Errorf("upsert attendance: %w", err)
	}
	return saved, nil
}

func (s pgQueries) PurgeAttendance(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM attendance WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge attendance: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge attendance rows affected: %w", err)
	}
	return deleted, nil
}

const userColumns = `id, username, display_name, email, password_hash, role, created_at`

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

func (s pgQueries) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, notFound(err, "get user")
	}
	return u, nil
}

func (s pgQueries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username)=LOWER($1)`, username))
	if err != nil {
		return User{}, notFound(err, "get user by username")
	}
	return u, nil
}

func (s pgQueries) CreateUser(ctx context.Context, u User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (username) DO NOTHING
	`, u.ID, u.Username, u.DisplayName, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s pgQueries) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

func (s pgQueries) GetCommittee(ctx context.Context, id string) (Committee, error) {
	var c Committee
	err := s.q.QueryRowContext(ctx, `SELECT id, code, name FROM committees WHERE id=$1`, id).Scan(&c.ID, &c.Code, &c.Name)
	if err != nil {
		return Committee{}, notFound(err, "get committee")
	}
	return c, nil
}

func (s pgQueries) CreateCommittee(ctx context.Context, c Committee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO committees (id, code, name) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO NOTHING
	`, c.ID, c.Code, c.Name)
	if err != nil {
		return fmt.Errorf("create committee: %w", err)
	}
	return nil
}

func (s pgQueries) GetMembership(ctx context.Context, committeeID, userID string) (Membership, error) {
	m := Membership{CommitteeID: committeeID, UserID: userID}
	err := s.q.QueryRowContext(ctx, `
		SELECT role FROM committee_members WHERE committee_id=$1 AND user_id=$2
	`, committeeID, userID).Scan(&m.Role)
	if err != nil {
		return Membership{}, notFound(err, "get membership")
	}
	return m, nil
}

func (s pgQueries) AddMembership(ctx context.Context, m Membership) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO committee_members (committee_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (committee_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, m.CommitteeID, m.UserID, m.Role)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (s pgQueries) ListVoterEmails(ctx context.Context, scope decision.Scope) ([]string, error) {
	query := `SELECT email FROM users WHERE email <> '' ORDER BY email`
	args := []any{}
	if scope.IsCommittee() {
		query = `
			SELECT u.email FROM users u
			JOIN committee_members m ON m.user_id = u.id
			WHERE m.committee_id=$1 AND u.email <> ''
			ORDER BY u.email`
		args = append(args, scope.CommitteeID)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list voter emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan voter email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
