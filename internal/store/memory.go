package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gavel/api/internal/decision"
)

// MemoryStore keeps everything in process. Transactions are serialized on a
// single mutex and rolled back by restoring a snapshot.
type MemoryStore struct {
	memQueries
	mu sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.memQueries = memQueries{d: newMemData(), mu: &s.mu}
	return s
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(memQueries{d: s.d}); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

type memData struct {
	proposals  map[string]decision.Proposal
	outcomes   map[string]ClosedOutcome
	ballots    map[string][]decision.Ballot
	attendance map[string]AttendanceEntry
	users      map[string]User
	committees map[string]Committee
	members    map[string]Membership
}

func newMemData() *memData {
	return &memData{
		proposals:  make(map[string]decision.Proposal),
		outcomes:   make(map[string]ClosedOutcome),
		ballots:    make(map[string][]decision.Ballot),
		attendance: make(map[string]AttendanceEntry),
		users:      make(map[string]User),
		committees: make(map[string]Committee),
		members:    make(map[string]Membership),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.proposals {
		c.proposals[k] = v
	}
	for k, v := range d.outcomes {
		c.outcomes[k] = v
	}
	for k, v := range d.ballots {
		c.ballots[k] = append([]decision.Ballot(nil), v...)
	}
	for k, v := range d.attendance {
		c.attendance[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.committees {
		c.committees[k] = v
	}
	for k, v := range d.members {
		c.members[k] = v
	}
	return c
}

// memQueries locks mu around each call when set; inside WithTx the lock is
// already held and mu is nil.
type memQueries struct {
	d  *memData
	mu *sync.Mutex
}

func (q memQueries) lock() func() {
	if q.mu == nil {
		return func() {}
	}
	q.mu.Lock()
	return q.mu.Unlock
}

func (q memQueries) GetProposal(_ context.Context, id string) (decision.Proposal, error) {
	defer q.lock()()
	p, ok := q.d.proposals[id]
	if !ok {
		return decision.Proposal{}, fmt.Errorf("get proposal: %w", ErrNotFound)
	}
	return p, nil
}

func (q memQueries) LockProposal(ctx context.Context, id string) (decision.Proposal, error) {
	return q.GetProposal(ctx, id)
}

func (q memQueries) CreateProposal(_ context.Context, p decision.Proposal) error {
	defer q.lock()()
	if _, exists := q.d.proposals[p.ID]; exists {
		return fmt.Errorf("create proposal: duplicate id %s", p.ID)
	}
	q.d.proposals[p.ID] = p
	return nil
}

func (q memQueries) UpdateProposal(_ context.Context, p decision.Proposal) error {
	defer q.lock()()
	if _, exists := q.d.proposals[p.ID]; !exists {
		return fmt.Errorf("update proposal %s: %w", p.ID, ErrNotFound)
	}
	q.d.proposals[p.ID] = p
	return nil
}

func (q memQueries) ListProposals(_ context.Context, filter ProposalFilter) ([]decision.Proposal, error) {
	defer q.lock()()
	items := make([]decision.Proposal, 0)
	for _, p := range q.d.proposals {
		if filter.CommitteeID != "" && p.Scope.CommitteeID != filter.CommitteeID {
			continue
		}
		if filter.CommitteeID == "" && filter.ChapterOnly && p.Scope.IsCommittee() {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if filter.Offset >= len(items) {
		return []decision.Proposal{}, nil
	}
	items = items[filter.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (q memQueries) SaveOutcome(_ context.Context, closed ClosedOutcome) error {
	defer q.lock()()
	closed.Ballots = append([]decision.Ballot(nil), closed.Ballots...)
	q.d.outcomes[closed.ProposalID] = closed
	return nil
}

func (q memQueries) GetOutcome(_ context.Context, proposalID string) (ClosedOutcome, error) {
	defer q.lock()()
	closed, ok := q.d.outcomes[proposalID]
	if !ok {
		return ClosedOutcome{}, fmt.Errorf("get outcome: %w", ErrNotFound)
	}
	return closed, nil
}

func (q memQueries) ClearOutcome(_ context.Context, proposalID string) error {
	defer q.lock()()
	delete(q.d.outcomes, proposalID)
	return nil
}

func (q memQueries) InsertBallot(_ context.Context, b decision.Ballot) error {
	defer q.lock()()
	p, ok := q.d.proposals[b.ProposalID]
	if !ok {
		return ErrNotFound
	}
	if p.VotingClosed {
		return decision.ErrProposalClosed
	}
	for _, existing := range q.d.ballots[b.ProposalID] {
		if existing.VoterID == b.VoterID {
			return decision.ErrAlreadyVoted
		}
	}
	q.d.ballots[b.ProposalID] = append(q.d.ballots[b.ProposalID], b)
	return nil
}

func (q memQueries) HasBallot(_ context.Context, proposalID, voterID string) (bool, error) {
	defer q.lock()()
	for _, existing := range q.d.ballots[proposalID] {
		if existing.VoterID == voterID {
			return true, nil
		}
	}
	return false, nil
}

func (q memQueries) ListBallots(_ context.Context, proposalID string) ([]decision.Ballot, error) {
	defer q.lock()()
	items := append([]decision.Ballot{}, q.d.ballots[proposalID]...)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CastAt.Equal(items[j].CastAt) {
			return items[i].VoterID < items[j].VoterID
		}
		return items[i].CastAt.Before(items[j].CastAt)
	})
	return items, nil
}

func (q memQueries) LatestAttendance(_ context.Context, voterID string) ([]decision.AttendanceRecord, error) {
	defer q.lock()()
	var records []decision.AttendanceRecord
	for _, entry := range q.d.attendance {
		if entry.VoterID == voterID {
			records = append(records, entry.Record())
		}
	}
	latest, ok := decision.Latest(records)
	if !ok {
		return nil, nil
	}
	return []decision.AttendanceRecord{latest}, nil
}

func (q memQueries) UpsertAttendance(_ context.Context, entry AttendanceEntry) (AttendanceEntry, error) {
	defer q.lock()()
	key := entry.VoterID + "|" + entry.RecordedAt.UTC().Format(time.DateOnly)
	if existing, ok := q.d.attendance[key]; ok {
		entry.ID = existing.ID
	}
	q.d.attendance[key] = entry
	return entry, nil
}

func (q memQueries) PurgeAttendance(_ context.Context, before time.Time) (int64, error) {
	defer q.lock()()
	var deleted int64
	for key, entry := range q.d.attendance {
		if entry.RecordedAt.Before(before) {
			delete(q.d.attendance, key)
			deleted++
		}
	}
	return deleted, nil
}

func (q memQueries) GetUser(_ context.Context, id string) (User, error) {
	defer q.lock()()
	u, ok := q.d.users[id]
	if !ok {
		return User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return u, nil
}

func (q memQueries) GetUserByUsername(_ context.Context, username string) (User, error) {
	defer q.lock()()
	for _, u := range q.d.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("get user by username: %w", ErrNotFound)
}

func (q memQueries) CreateUser(_ context.Context, u User) error {
	defer q.lock()()
	for _, existing := range q.d.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return nil
		}
	}
	q.d.users[u.ID] = u
	return nil
}

func (q memQueries) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	defer q.lock()()
	u, ok := q.d.users[userID]
	if !ok {
		return fmt.Errorf("update user password: %w", ErrNotFound)
	}
	u.PasswordHash = passwordHash
	q.d.users[userID] = u
	return nil
}

func (q memQueries) GetCommittee(_ context.Context, id string) (Committee, error) {
	defer q.lock()()
	c, ok := q.d.committees[id]
	if !ok {
		return Committee{}, fmt.Errorf("get committee: %w", ErrNotFound)
	}
	return c, nil
}

func (q memQueries) CreateCommittee(_ context.Context, c Committee) error {
	defer q.lock()()
	for _, existing := range q.d.committees {
		if existing.Code == c.Code {
			return nil
		}
	}
	q.d.committees[c.ID] = c
	return nil
}

func (q memQueries) GetMembership(_ context.Context, committeeID, userID string) (Membership, error) {
	defer q.lock()()
	m, ok := q.d.members[committeeID+"|"+userID]
	if !ok {
		return Membership{}, fmt.Errorf("get membership: %w", ErrNotFound)
	}
	return m, nil
}

func (q memQueries) AddMembership(_ context.Context, m Membership) error {
	defer q.lock()()
	q.d.members[m.CommitteeID+"|"+m.UserID] = m
	return nil
}

func (q memQueries) ListVoterEmails(_ context.Context, scope decision.Scope) ([]string, error) {
	defer q.lock()()
	emails := make([]string, 0)
	for _, u := range q.d.users {
		if u.Email == "" {
			continue
		}
		if scope.IsCommittee() {
			if _, ok := q.d.members[scope.CommitteeID+"|"+u.ID]; !ok {
				continue
			}
		}
		emails = append(emails, u.Email)
	}
	sort.Strings(emails)
	return emails, nil
}
