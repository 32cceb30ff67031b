package decision

import "slices"

type Count struct {
	Choice string `json:"choice"`
	Votes  int    `json:"votes"`
}

// Outcome is the result of tallying a proposal's ballots.
type Outcome struct {
	Mode       ModeKind `json:"mode"`
	Counts     []Count  `json:"counts"`
	Total      int      `json:"total"`
	Percentage *float64 `json:"percentage,omitempty"`
	Winner     string   `json:"winner,omitempty"`
	Passed     bool     `json:"passed"`
}

// Votes returns the count recorded for choice, or zero.
func (o Outcome) Votes(choice string) int {
	for _, c := range o.Counts {
		if c.Choice == choice {
			return c.Votes
		}
	}
	return 0
}

// Tally computes the outcome of p over ballots. It never fails: every valid
// configuration has a defined result for every ballot set, including none.
// Ballots whose choice is not valid for the mode are ignored.
func Tally(p Proposal, ballots []Ballot) Outcome {
	choices := Choices(p.Mode)
	counts := make(map[string]int, len(choices))
	total := 0
	for _, b := range ballots {
		if !slices.Contains(choices, b.Choice) {
			continue
		}
		counts[b.Choice]++
		total++
	}

	outcome := Outcome{Total: total, Counts: make([]Count, 0, len(choices))}
	for _, choice := range choices {
		outcome.Counts = append(outcome.Counts, Count{Choice: choice, Votes: counts[choice]})
	}
	if p.Mode == nil {
		return outcome
	}
	outcome.Mode = p.Mode.Kind()

	switch m := p.Mode.(type) {
	case Percentage:
		yes, no := counts[ChoiceYes], counts[ChoiceNo]
		denominator := yes + no
		if denominator == 0 {
			outcome.Passed = false
			break
		}
		pct := float64(yes) / float64(denominator) * 100
		outcome.Percentage = &pct
		// Integer comparison keeps the inclusive threshold exact.
		outcome.Passed = yes*100 >= m.Threshold*denominator
	case Piecewise:
		outcome.Passed = counts[ChoiceYes] >= m.RequiredYes
	case Plurality:
		winners := pluralityWinners(m.Options, counts)
		if len(winners) == 1 {
			outcome.Winner = winners[0]
			outcome.Passed = true
		}
	}
	return outcome
}

func pluralityWinners(options []string, counts map[string]int) []string {
	maxCount := 0
	for _, option := range options {
		if counts[option] > maxCount {
			maxCount = counts[option]
		}
	}
	if maxCount == 0 {
		return nil
	}
	var winners []string
	for _, option := range options {
		if counts[option] == maxCount {
			winners = append(winners, option)
		}
	}
	return winners
}
