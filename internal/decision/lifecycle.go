package decision

import (
	"fmt"
	"strings"
	"time"
)

// Actor is the caller of a lifecycle operation. Chair is true when the actor
// chairs the committee the proposal belongs to.
type Actor struct {
	ID    string
	Chair bool
}

// Open returns a new draft proposal. An available_at in the past is clamped
// to now.
func Open(p Proposal, id string, now time.Time) (Proposal, error) {
	p.ID = id
	p.Title = strings.TrimSpace(p.Title)
	p.DocumentRef = strings.TrimSpace(p.DocumentRef)
	if p.AvailableAt.IsZero() || p.AvailableAt.Before(now) {
		p.AvailableAt = now
	}
	p.Status = StatusDraft
	p.VotingClosed = false
	p.PropagatedTo = ""
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := p.Validate(); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// CheckClose reports whether a may close p at now. Only the proposer, or a
// chair for committee proposals, may close.
func CheckClose(p Proposal, a Actor, now time.Time) error {
	if !isProposer(p, a) && !(p.Scope.IsCommittee() && a.Chair) {
		return fmt.Errorf("%w: only the proposer or a committee chair may close voting", ErrUnauthorized)
	}
	if p.AvailableAt.After(now) {
		return ErrNotYetAvailable
	}
	return nil
}

// Close ends voting on p and records the outcome of ballots. It reports false
// without touching p when voting was already closed.
func (p *Proposal) Close(ballots []Ballot, now time.Time) (Outcome, bool) {
	if p.VotingClosed {
		return Outcome{}, false
	}
	outcome := Tally(*p, ballots)
	p.VotingClosed = true
	if outcome.Passed {
		p.Status = StatusPassed
	} else {
		p.Status = StatusRemoved
	}
	p.UpdatedAt = now
	return outcome, true
}

func CheckReopen(p Proposal, a Actor) error {
	if !isProposer(p, a) {
		return fmt.Errorf("%w: only the proposer may reopen voting", ErrUnauthorized)
	}
	if p.Final() {
		return ErrProposalFinal
	}
	return nil
}

// Reopen resets voting. Ballots already cast are kept and count again at the
// next close.
func (p *Proposal) Reopen(now time.Time) {
	p.VotingClosed = false
	p.Status = StatusDraft
	p.UpdatedAt = now
}

func CheckEdit(p Proposal, a Actor) error {
	if !isProposer(p, a) {
		return fmt.Errorf("%w: only the proposer may edit", ErrUnauthorized)
	}
	if p.Final() {
		return ErrProposalFinal
	}
	return nil
}

func CheckNewVersion(p Proposal, a Actor) error {
	if !isProposer(p, a) {
		return fmt.Errorf("%w: only the proposer may submit a new version", ErrUnauthorized)
	}
	return nil
}

// NewVersion derives a fresh draft from src with e applied. The result links
// back to src through PreviousVersion and starts with no ballots.
func NewVersion(src Proposal, id string, e Edit, now time.Time) (Proposal, error) {
	next := src
	next.PropagatedFrom = ""
	next.PropagatedTo = ""
	if e.AvailableAt == nil {
		next.AvailableAt = now
	}
	if err := next.Apply(e, now); err != nil {
		return Proposal{}, err
	}
	next, err := Open(next, id, now)
	if err != nil {
		return Proposal{}, err
	}
	next.PreviousVersion = src.ID
	return next, nil
}

// CheckPropagate reports whether a may push the committee proposal p to the
// chapter. Callers who are not a chair learn nothing about the proposal's
// state.
func CheckPropagate(p Proposal, a Actor) error {
	if !a.Chair {
		return fmt.Errorf("%w: only a committee chair may push to the chapter", ErrUnauthorized)
	}
	if !p.Scope.IsCommittee() {
		return invalidConfig("only committee proposals can be pushed to the chapter")
	}
	if p.Status != StatusPassed {
		return invalidConfig("only passed proposals can be pushed to the chapter")
	}
	if p.PropagatedTo != "" {
		return ErrAlreadyPropagated
	}
	return nil
}

// Propagate clones the committee proposal src into a chapter draft that is
// votable immediately and proposed by the pushing chair. The caller links
// src.PropagatedTo to the clone.
func Propagate(src Proposal, committeeCode string, by Actor, id string, now time.Time) Proposal {
	return Proposal{
		ID:             id,
		Title:          fmt.Sprintf("[%s] %s", strings.ToUpper(committeeCode), src.Title),
		Description:    src.Description,
		DocumentRef:    src.DocumentRef,
		ProposerID:     by.ID,
		AvailableAt:    now,
		Status:         StatusDraft,
		Anonymous:      src.Anonymous,
		AllowAbstain:   src.AllowAbstain,
		Mode:           src.Mode,
		Scope:          ChapterScope(),
		PropagatedFrom: src.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func isProposer(p Proposal, a Actor) bool {
	return a.ID != "" && a.ID == p.ProposerID
}
