package ftpengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesFirstPositiveInGroupWins(t *testing.T) {
	groups := []FilterGroup{
		{Patterns: []string{"*.txt", "*.dat"}},
	}
	assert.True(t, Matches(groups, "report.txt"))
	assert.True(t, Matches(groups, "report.dat"))
	assert.False(t, Matches(groups, "report.bin"))
}

func TestMatchesNegativeSkipsWholeGroup(t *testing.T) {
	groups := []FilterGroup{
		{Patterns: []string{"!skip_*", "skip_me_not.txt"}},
	}
	assert.False(t, Matches(groups, "skip_me_not.txt"))
}

func TestMatchesFallsThroughToNextGroup(t *testing.T) {
	groups := []FilterGroup{
		{Patterns: []string{"!a_*"}},
		{Patterns: []string{"a_allowed.txt"}},
	}
	assert.True(t, Matches(groups, "a_allowed.txt"))

	groups2 := []FilterGroup{
		{Patterns: []string{"*.tmp"}},
		{Patterns: []string{"report.txt"}},
	}
	assert.True(t, Matches(groups2, "report.txt"))
}

func TestMatchesNoGroupsNoMatch(t *testing.T) {
	assert.False(t, Matches(nil, "anything"))
}
