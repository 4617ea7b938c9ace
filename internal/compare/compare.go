// Package compare decides whether a program's output matches the expected
// answer. The default policy tolerates trailing whitespace per line and
// trailing blank lines; a per-problem checker program can replace it.
package compare

import (
	"bytes"
	"strings"
)

// Outputs compares actual program output against the expected answer.
// Both sides are normalized before the byte comparison: CRLF becomes LF,
// trailing whitespace is stripped from every line, trailing blank lines
// are dropped.
func Outputs(expected, actual []byte) bool {
	return bytes.Equal(Normalize(expected), Normalize(actual))
}

// Normalize applies the default tolerance rules. The rules are line-wise
// and byte-oriented, so output that is not valid UTF-8 passes through
// unharmed.
func Normalize(out []byte) []byte {
	s := strings.ReplaceAll(string(out), "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return []byte(strings.Join(lines, "\n"))
}
