package decision

import (
	"sort"
)

type ChoiceView struct {
	Choice string   `json:"choice"`
	Votes  int      `json:"votes"`
	Voters []string `json:"voters,omitempty"`
}

// View is the displayable result of a proposal. Voter identities appear only
// when the proposal is not anonymous.
type View struct {
	ProposalID   string       `json:"proposalId"`
	Title        string       `json:"title"`
	Mode         ModeKind     `json:"mode"`
	Status       Status       `json:"status"`
	VotingClosed bool         `json:"votingClosed"`
	Anonymous    bool         `json:"anonymous"`
	Passed       bool         `json:"passed"`
	Percentage   *float64     `json:"percentage,omitempty"`
	Winner       string       `json:"winner,omitempty"`
	Total        int          `json:"total"`
	Choices      []ChoiceView `json:"choices"`
}

// Render builds the result view for p. Ballots always carry voter identity;
// anonymity only controls what is shown here.
func Render(outcome Outcome, p Proposal, ballots []Ballot) View {
	view := View{
		ProposalID:   p.ID,
		Title:        p.Title,
		Mode:         outcome.Mode,
		Status:       p.Status,
		VotingClosed: p.VotingClosed,
		Anonymous:    p.Anonymous,
		Passed:       outcome.Passed,
		Percentage:   outcome.Percentage,
		Winner:       outcome.Winner,
		Total:        outcome.Total,
		Choices:      make([]ChoiceView, 0, len(outcome.Counts)),
	}

	var byChoice map[string][]string
	if !p.Anonymous {
		byChoice = votersByChoice(ballots)
	}
	for _, count := range outcome.Counts {
		item := ChoiceView{Choice: count.Choice, Votes: count.Votes}
		if !p.Anonymous {
			item.Voters = byChoice[count.Choice]
			if item.Voters == nil {
				item.Voters = []string{}
			}
		}
		view.Choices = append(view.Choices, item)
	}
	return view
}

func votersByChoice(ballots []Ballot) map[string][]string {
	ordered := make([]Ballot, len(ballots))
	copy(ordered, ballots)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CastAt.Equal(ordered[j].CastAt) {
			return ordered[i].VoterID < ordered[j].VoterID
		}
		return ordered[i].CastAt.Before(ordered[j].CastAt)
	})
	result := make(map[string][]string)
	for _, b := range ordered {
		result[b.Choice] = append(result[b.Choice], b.VoterID)
	}
	return result
}
