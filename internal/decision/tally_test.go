package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ballotsOf(spec map[string]int) []Ballot {
	var ballots []Ballot
	base := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	n := 0
	for choice, count := range spec {
		for i := 0; i < count; i++ {
			n++
			ballots = append(ballots, Ballot{
				ProposalID: "prop_1",
				VoterID:    choice + "_" + string(rune('a'+i)),
				Choice:     choice,
				CastAt:     base.Add(time.Duration(n) * time.Second),
			})
		}
	}
	return ballots
}

func TestTallyScenarios(t *testing.T) {
	foods := Plurality{Options: []string{"Pizza", "Burgers", "Tacos"}}
	tests := []struct {
		name    string
		mode    VoteMode
		ballots map[string]int
		passed  bool
		winner  string
		pct     float64
	}{
		{name: "percentage 60 of 51", mode: Percentage{Threshold: 51}, ballots: map[string]int{"yes": 6, "no": 4}, passed: true, pct: 60},
		{name: "percentage 40 of 51", mode: Percentage{Threshold: 51}, ballots: map[string]int{"yes": 4, "no": 6}, passed: false, pct: 40},
		{name: "percentage threshold inclusive", mode: Percentage{Threshold: 75}, ballots: map[string]int{"yes": 3, "no": 1}, passed: true, pct: 75},
		{name: "percentage 67 just below", mode: Percentage{Threshold: 67}, ballots: map[string]int{"yes": 2, "no": 1}, passed: false},
		{name: "percentage unanimous", mode: Percentage{Threshold: 100}, ballots: map[string]int{"yes": 9, "abstain": 3}, passed: true, pct: 100},
		{name: "percentage all abstain", mode: Percentage{Threshold: 51}, ballots: map[string]int{"abstain": 7}, passed: false},
		{name: "piecewise at requirement", mode: Piecewise{RequiredYes: 5}, ballots: map[string]int{"yes": 5, "no": 5}, passed: true},
		{name: "piecewise below requirement", mode: Piecewise{RequiredYes: 5}, ballots: map[string]int{"yes": 4}, passed: false},
		{name: "piecewise zero requirement", mode: Piecewise{RequiredYes: 0}, ballots: nil, passed: true},
		{name: "plurality unique max", mode: foods, ballots: map[string]int{"Pizza": 5, "Burgers": 3, "Tacos": 2}, passed: true, winner: "Pizza"},
		{name: "plurality two way tie", mode: foods, ballots: map[string]int{"Pizza": 5, "Burgers": 5}, passed: false},
		{name: "plurality three way tie", mode: foods, ballots: map[string]int{"Pizza": 2, "Burgers": 2, "Tacos": 2}, passed: false},
		{name: "plurality no ballots", mode: foods, ballots: nil, passed: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := Proposal{ID: "prop_1", Mode: tc.mode, AllowAbstain: true}
			outcome := Tally(p, ballotsOf(tc.ballots))

			assert.Equal(t, tc.passed, outcome.Passed)
			assert.Equal(t, tc.winner, outcome.Winner)
			assert.Equal(t, tc.mode.Kind(), outcome.Mode)
			if tc.pct != 0 {
				require.NotNil(t, outcome.Percentage)
				assert.InDelta(t, tc.pct, *outcome.Percentage, 0.0001)
			}
		})
	}
}

func TestTallyReportsEveryChoiceInOrder(t *testing.T) {
	p := Proposal{Mode: Percentage{Threshold: 51}, AllowAbstain: true}
	outcome := Tally(p, ballotsOf(map[string]int{"yes": 2}))

	assert.Equal(t, []Count{
		{Choice: ChoiceYes, Votes: 2},
		{Choice: ChoiceNo, Votes: 0},
		{Choice: ChoiceAbstain, Votes: 0},
	}, outcome.Counts)
	assert.Equal(t, 2, outcome.Total)
}

func TestTallyZeroDenominatorHasNoPercentage(t *testing.T) {
	p := Proposal{Mode: Percentage{Threshold: 51}, AllowAbstain: true}
	outcome := Tally(p, nil)

	assert.False(t, outcome.Passed)
	assert.Nil(t, outcome.Percentage)
	assert.Equal(t, 0, outcome.Total)
}

func TestTallyIgnoresUndeclaredChoices(t *testing.T) {
	p := Proposal{Mode: Plurality{Options: []string{"A", "B"}}}
	ballots := []Ballot{
		{VoterID: "u1", Choice: "A"},
		{VoterID: "u2", Choice: "C"},
		{VoterID: "u3", Choice: "C"},
	}
	outcome := Tally(p, ballots)

	assert.True(t, outcome.Passed)
	assert.Equal(t, "A", outcome.Winner)
	assert.Equal(t, 1, outcome.Total)
	assert.Equal(t, 0, outcome.Votes("C"))
}
