package decision

import (
	"errors"
	"fmt"
)

var (
	ErrNotEligible          = errors.New("not eligible to vote")
	ErrAlreadyVoted         = errors.New("already voted")
	ErrProposalClosed       = errors.New("proposal closed")
	ErrInvalidChoice        = errors.New("invalid choice")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotYetAvailable      = errors.New("proposal not yet available")
	ErrAlreadyPropagated    = errors.New("proposal already propagated")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrProposalFinal is returned for mutations of a passed proposal.
	ErrProposalFinal = fmt.Errorf("%w: passed proposals are final", ErrProposalClosed)
)

// IneligibleError carries the gate reason for a rejected cast. It unwraps to
// ErrProposalClosed or ErrAlreadyVoted where those apply, and to ErrNotEligible
// otherwise.
type IneligibleError struct {
	Reason Reason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("cannot cast ballot: %s", e.Reason)
}

func (e *IneligibleError) Unwrap() error {
	switch e.Reason {
	case ReasonVotingClosed:
		return ErrProposalClosed
	case ReasonAlreadyVoted:
		return ErrAlreadyVoted
	default:
		return ErrNotEligible
	}
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
