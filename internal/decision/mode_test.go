package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeSpecRoundTrip(t *testing.T) {
	modes := []VoteMode{
		Percentage{Threshold: 67},
		Piecewise{RequiredYes: 0},
		Plurality{Options: []string{"Pizza", "Burgers"}},
	}
	for _, mode := range modes {
		got, err := SpecOf(mode).Mode()
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}
}

func TestModeSpecRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec ModeSpec
	}{
		{name: "unknown kind", spec: ModeSpec{Kind: "ranked"}},
		{name: "threshold outside set", spec: ModeSpec{Kind: ModePercentage, Threshold: 50}},
		{name: "negative required", spec: ModeSpec{Kind: ModePiecewise, RequiredYes: -1}},
		{name: "single option", spec: ModeSpec{Kind: ModePlurality, Options: []string{"Only"}}},
		{name: "duplicate options", spec: ModeSpec{Kind: ModePlurality, Options: []string{"A", " A "}}},
		{name: "blank option", spec: ModeSpec{Kind: ModePlurality, Options: []string{"A", ""}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.spec.Mode()
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestValidateChoice(t *testing.T) {
	strict := Proposal{Mode: Percentage{Threshold: 51}}
	lenient := Proposal{Mode: Piecewise{RequiredYes: 2}, AllowAbstain: true}
	plurality := Proposal{Mode: Plurality{Options: []string{"Pizza", "Tacos"}}}

	assert.NoError(t, ValidateChoice(strict, ChoiceYes))
	assert.ErrorIs(t, ValidateChoice(strict, ChoiceAbstain), ErrInvalidChoice)
	assert.NoError(t, ValidateChoice(lenient, ChoiceAbstain))
	assert.ErrorIs(t, ValidateChoice(lenient, "maybe"), ErrInvalidChoice)
	assert.NoError(t, ValidateChoice(plurality, "Tacos"))
	assert.ErrorIs(t, ValidateChoice(plurality, ChoiceYes), ErrInvalidChoice)
}
