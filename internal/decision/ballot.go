package decision

import (
	"fmt"
	"slices"
	"time"
)

const (
	ChoiceYes     = "yes"
	ChoiceNo      = "no"
	ChoiceAbstain = "abstain"
)

type Ballot struct {
	ProposalID string
	VoterID    string
	Choice     string
	CastAt     time.Time
}

// ValidateChoice checks that choice is a legal ballot value for p.
func ValidateChoice(p Proposal, choice string) error {
	switch m := p.Mode.(type) {
	case Plurality:
		if !slices.Contains(m.Options, choice) {
			return fmt.Errorf("%w: %q is not one of the proposal options", ErrInvalidChoice, choice)
		}
		return nil
	case Percentage, Piecewise:
		switch choice {
		case ChoiceYes, ChoiceNo:
			return nil
		case ChoiceAbstain:
			if !p.AllowAbstain {
				return fmt.Errorf("%w: abstaining is not allowed on this proposal", ErrInvalidChoice)
			}
			return nil
		default:
			return fmt.Errorf("%w: %q must be yes, no or abstain", ErrInvalidChoice, choice)
		}
	default:
		return invalidConfig("proposal has no vote mode")
	}
}
