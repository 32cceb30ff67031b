package store

import (
	"errors"
	"time"

	"gavel/api/internal/decision"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID           string
	Username     string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Committee struct {
	ID   string
	Code string
	Name string
}

const (
	CommitteeMember = "member"
	CommitteeChair  = "chair"
)

type Membership struct {
	CommitteeID string
	UserID      string
	Role        string
}

// ProposalFilter narrows ListProposals. Zero values match everything.
type ProposalFilter struct {
	CommitteeID string
	ChapterOnly bool
	Status      decision.Status
	Limit       int
	Offset      int
}

// ClosedOutcome is the tally recorded when voting on a proposal closed.
// ClosedOutcome is the tally recorded when voting closed, together with the
// ballots it was computed from.
type ClosedOutcome struct {
	ProposalID string
	Outcome    decision.Outcome
	Ballots    []decision.Ballot
	ClosedBy   string
	ClosedAt   time.Time
}

type AttendanceEntry struct {
	ID         string
	VoterID    string
	Present    bool
	RecordedBy string
	RecordedAt time.Time
}

func (e AttendanceEntry) Record() decision.AttendanceRecord {
	return decision.AttendanceRecord{VoterID: e.VoterID, Present: e.Present, RecordedAt: e.RecordedAt}
}
