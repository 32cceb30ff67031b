package store

import (
	"context"
	"time"

	"gavel/api/internal/decision"
)

// Queries is the set of reads and writes available both on a Store and inside
// one of its transactions.
type Queries interface {
	GetProposal(ctx context.Context, id string) (decision.Proposal, error)
	// LockProposal reads a proposal and holds it against concurrent writers
	// until the surrounding transaction ends.
	LockProposal(ctx context.Context, id string) (decision.Proposal, error)
	CreateProposal(ctx context.Context, p decision.Proposal) error
	UpdateProposal(ctx context.Context, p decision.Proposal) error
	ListProposals(ctx context.Context, filter ProposalFilter) ([]decision.Proposal, error)

	SaveOutcome(ctx context.Context, closed ClosedOutcome) error
	GetOutcome(ctx context.Context, proposalID string) (ClosedOutcome, error)
	ClearOutcome(ctx context.Context, proposalID string) error

	InsertBallot(ctx context.Context, b decision.Ballot) error
	HasBallot(ctx context.Context, proposalID, voterID string) (bool, error)
	ListBallots(ctx context.Context, proposalID string) ([]decision.Ballot, error)

	LatestAttendance(ctx context.Context, voterID string) ([]decision.AttendanceRecord, error)
	UpsertAttendance(ctx context.Context, entry AttendanceEntry) (AttendanceEntry, error)
	PurgeAttendance(ctx context.Context, before time.Time) (int64, error)

	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, u User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error

	GetCommittee(ctx context.Context, id string) (Committee, error)
	CreateCommittee(ctx context.Context, c Committee) error
	GetMembership(ctx context.Context, committeeID, userID string) (Membership, error)
	AddMembership(ctx context.Context, m Membership) error
	// ListVoterEmails returns the addresses of everyone who can vote in
	// scope: all users for the chapter, members for a committee.
	ListVoterEmails(ctx context.Context, scope decision.Scope) ([]string, error)
}

// Store is a Queries backend that can run a function atomically.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}
