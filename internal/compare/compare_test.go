package compare_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeproof/judge/internal/compare"
)

func TestOutputs(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"identical", "7\n", "7\n", true},
		{"missing trailing newline", "7\n", "7", true},
		{"trailing spaces per line", "1 2\n3 4\n", "1 2  \n3 4\t\n", true},
		{"trailing blank lines", "hello\n", "hello\n\n\n", true},
		{"crlf line endings", "a\nb\n", "a\r\nb\r\n", true},
		{"different value", "7\n", "8\n", false},
		{"leading whitespace differs", " 7\n", "7\n", false},
		{"interior whitespace differs", "1 2\n", "1  2\n", false},
		{"blank line in the middle", "a\n\nb\n", "a\nb\n", false},
		{"both empty", "", "", true},
		{"empty vs blank lines", "", "\n\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compare.Outputs([]byte(tt.expected), []byte(tt.actual))
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeInvalidUtf8(t *testing.T) {
	// Raw bytes still go through the line rules.
	in := []byte{0xff, 0xfe, ' ', '\n'}
	out := compare.Normalize(in)
	require.Equal(t, []byte{0xff, 0xfe}, out)
}
