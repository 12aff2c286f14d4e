package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil stays nil", input: nil, expected: nil},
		{name: "empty stays empty", input: []string{}, expected: []string{}},
		{name: "broker list", input: []string{" k1:9092", "k2:9092 ", "k1:9092", ""}, expected: []string{"k1:9092", "k2:9092"}},
		{name: "only blanks", input: []string{"", "   "}, expected: []string{}},
		{name: "case is preserved", input: []string{"Stolen", "stolen"}, expected: []string{"Stolen", "stolen"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	got := DedupeAndTrimLower([]string{"  FRP Bypass ", "stolen", "frp bypass", "Stolen", ""})
	assert.Equal(t, []string{"frp bypass", "stolen"}, got)
}
