package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGroupsSplitsOnComma(t *testing.T) {
	groups := parseGroups([]string{"*.dat,*.txt", "!bad*"})
	assert.Len(t, groups, 2)
	assert.Equal(t, []string{"*.dat", "*.txt"}, groups[0].Patterns)
	assert.Equal(t, []string{"!bad*"}, groups[1].Patterns)
}

func TestParseGroupsEmptyInput(t *testing.T) {
	groups := parseGroups(nil)
	assert.Empty(t, groups)
}
