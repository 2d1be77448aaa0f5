package supervisor

import (
	"regexp"
	"strings"
	"unicode"
)

var ansiColor = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// CleanLine strips terminal color sequences and trailing whitespace from a
// raw output line. Invalid UTF-8 is replaced with U+FFFD.
func CleanLine(raw string) string {
	s := ansiColor.ReplaceAllString(raw, "")
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	return strings.ToValidUTF8(s, "�")
}
