package decision

import (
	"slices"
	"strings"
)

type ModeKind string

const (
	ModePercentage ModeKind = "percentage"
	ModePiecewise  ModeKind = "piecewise"
	ModePlurality  ModeKind = "plurality"
)

// AllowedThresholds are the percentages a Percentage proposal may require.
var AllowedThresholds = []int{51, 60, 67, 75, 100}

// VoteMode is the tally algorithm of a proposal. The set of implementations is
// closed: Percentage, Piecewise and Plurality.
type VoteMode interface {
	Kind() ModeKind
	Validate() error
	voteMode()
}

// Percentage passes when yes/(yes+no) reaches Threshold percent. Abstentions
// are not counted.
type Percentage struct {
	Threshold int
}

// Piecewise passes once RequiredYes yes ballots exist.
type Piecewise struct {
	RequiredYes int
}

// Plurality passes when exactly one option has the most ballots.
type Plurality struct {
	Options []string
}

func (Percentage) Kind() ModeKind { return ModePercentage }
func (Piecewise) Kind() ModeKind { return ModePiecewise }
func (Plurality) Kind() ModeKind { return ModePlurality }

func (Percentage) voteMode() {}
func (Piecewise) voteMode() {}
func (Plurality) voteMode() {}

func (m Percentage) Validate() error {
	if !slices.Contains(AllowedThresholds, m.Threshold) {
		return invalidConfig("threshold %d must be one of %v", m.Threshold, AllowedThresholds)
	}
	return nil
}

func (m Piecewise) Validate() error {
	if m.RequiredYes < 0 {
		return invalidConfig("required yes count must not be negative")
	}
	return nil
}

func (m Plurality) Validate() error {
	seen := make(map[string]struct{}, len(m.Options))
	for _, option := range m.Options {
		label := strings.TrimSpace(option)
		if label == "" {
			return invalidConfig("plurality options must not be blank")
		}
		if _, ok := seen[label]; ok {
			return invalidConfig("duplicate plurality option %q", label)
		}
		seen[label] = struct{}{}
	}
	if len(seen) < 2 {
		return invalidConfig("plurality requires at least two distinct options")
	}
	return nil
}

// Choices lists the ballot values a mode accepts, in display order.
func Choices(mode VoteMode) []string {
	switch m := mode.(type) {
	case Plurality:
		return slices.Clone(m.Options)
	case Percentage, Piecewise:
		return []string{ChoiceYes, ChoiceNo, ChoiceAbstain}
	default:
		return nil
	}
}

// ModeSpec is the flat, serializable form of a VoteMode.
type ModeSpec struct {
	Kind        ModeKind `json:"kind"`
	Threshold   int      `json:"threshold,omitempty"`
	RequiredYes int      `json:"requiredYes,omitempty"`
	Options     []string `json:"options,omitempty"`
}

func SpecOf(mode VoteMode) ModeSpec {
	switch m := mode.(type) {
	case Percentage:
		return ModeSpec{Kind: ModePercentage, Threshold: m.Threshold}
	case Piecewise:
		return ModeSpec{Kind: ModePiecewise, RequiredYes: m.RequiredYes}
	case Plurality:
		return ModeSpec{Kind: ModePlurality, Options: slices.Clone(m.Options)}
	default:
		return ModeSpec{}
	}
}

// Mode builds and validates the VoteMode described by s.
func (s ModeSpec) Mode() (VoteMode, error) {
	var mode VoteMode
	switch ModeKind(strings.ToLower(string(s.Kind))) {
	case ModePercentage:
		mode = Percentage{Threshold: s.Threshold}
	case ModePiecewise:
		mode = Piecewise{RequiredYes: s.RequiredYes}
	case ModePlurality:
		options := make([]string, 0, len(s.Options))
		for _, option := range s.Options {
			options = append(options, strings.TrimSpace(option))
		}
		mode = Plurality{Options: options}
	default:
		return nil, invalidConfig("unknown vote mode %q", s.Kind)
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	return mode, nil
}
