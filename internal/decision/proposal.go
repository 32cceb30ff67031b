package decision

import (
	"strings"
	"time"
)

type Status string

const (
	StatusDraft   Status = "draft"
	StatusPassed  Status = "passed"
	StatusRemoved Status = "removed"
)

// Scope places a proposal at chapter level or inside one committee.
type Scope struct {
	CommitteeID string `json:"committeeId,omitempty"`
}

func ChapterScope() Scope { return Scope{} }
func CommitteeScope(id string) Scope { return Scope{CommitteeID: id} }
func (s Scope) IsCommittee() bool { return s.CommitteeID != "" }
func (s Scope) Label() string {
	if s.IsCommittee() {
		return "committee"
	}
	return "chapter"
}

type Proposal struct {
	ID              string
	Title           string
	Description     string
	DocumentRef     string
	ProposerID      string
	AvailableAt     time.Time
	VotingClosed    bool
	Status          Status
	Anonymous       bool
	AllowAbstain    bool
	Mode            VoteMode
	Scope           Scope
	PropagatedFrom  string
	PropagatedTo    string
	PreviousVersion string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the configuration invariants every stored proposal holds.
func (p Proposal) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return invalidConfig("title is required")
	}
	if strings.TrimSpace(p.ProposerID) == "" {
		return invalidConfig("proposer is required")
	}
	if p.Mode == nil {
		return invalidConfig("vote mode is required")
	}
	if err := p.Mode.Validate(); err != nil {
		return err
	}
	if _, plurality := p.Mode.(Plurality); !plurality && strings.TrimSpace(p.DocumentRef) == "" {
		return invalidConfig("%s proposals require an attached document", p.Mode.Kind())
	}
	if p.AvailableAt.IsZero() {
		return invalidConfig("available_at is required")
	}
	return nil
}

// Votable reports whether ballots may be cast at now, ignoring the voter.
func (p Proposal) Votable(now time.Time) bool {
	return !p.AvailableAt.After(now) && !p.VotingClosed
}

// Final reports whether the proposal has reached its terminal state.
func (p Proposal) Final() bool {
	return p.Status == StatusPassed
}

// Edit carries the mutable fields of a proposal. Nil fields are left untouched.
type Edit struct {
	Title        *string
	Description  *string
	DocumentRef  *string
	Anonymous    *bool
	AllowAbstain *bool
	AvailableAt  *time.Time
	Mode         VoteMode
}

// Apply mutates p with the non-nil fields of e and revalidates the result. p
// is left unchanged when the edited proposal would be invalid.
func (p *Proposal) Apply(e Edit, now time.Time) error {
	next := *p
	if e.Title != nil {
		next.Title = strings.TrimSpace(*e.Title)
	}
	if e.Description != nil {
		next.Description = *e.Description
	}
	if e.DocumentRef != nil {
		next.DocumentRef = strings.TrimSpace(*e.DocumentRef)
	}
	if e.Anonymous != nil {
		next.Anonymous = *e.Anonymous
	}
	if e.AllowAbstain != nil {
		next.AllowAbstain = *e.AllowAbstain
	}
	if e.AvailableAt != nil {
		next.AvailableAt = *e.AvailableAt
	}
	if e.Mode != nil {
		next.Mode = e.Mode
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = now
	*p = next
	return nil
}
