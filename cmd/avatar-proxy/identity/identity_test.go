package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := strings.Repeat("ab", 32)

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "lower hex", input: valid, want: true},
		{name: "upper hex", input: strings.ToUpper(valid), want: true},
		{name: "mixed case", input: "E0F6" + strings.Repeat("a", 55) + "52B55"[:5], want: true},
		{name: "digits only", input: strings.Repeat("0", 64), want: true},
		{name: "empty", input: "", want: false},
		{name: "too short", input: valid[:63], want: false},
		{name: "too long", input: valid + "a", want: false},
		{name: "non hex letter", input: valid[:63] + "g", want: false},
		{name: "npub prefix", input: "npub" + valid[:60], want: false},
		{name: "whitespace", input: " " + valid[:63], want: false},
		{name: "multibyte", input: valid[:62] + "é", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.input))
		})
	}
}

func TestValidate_EveryHexCharacter(t *testing.T) {
	for _, c := range "0123456789abcdefABCDEF" {
		assert.True(t, Validate(strings.Repeat(string(c), 64)), "char %q", c)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, strings.Repeat("ab", 32), Normalize(strings.Repeat("AB", 32)))
}
