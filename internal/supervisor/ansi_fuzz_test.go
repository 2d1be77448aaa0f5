package supervisor

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func FuzzCleanLine(f *testing.F) {
	f.Add("\x1b[31mERROR\x1b[0m")
	f.Add("plain text\r\n")
	f.Add("\x1b[1;33;40mwarn\x1b[m  ")
	f.Add("\xff\xfe broken")
	f.Fuzz(func(t *testing.T, in string) {
		out := CleanLine(in)
		if ansiColor.MatchString(out) && !ansiColor.MatchString(in) {
			t.Fatalf("escape introduced: %q -> %q", in, out)
		}
		if !utf8.ValidString(out) {
			t.Fatalf("invalid utf-8 output for %q", in)
		}
		if out != "" {
			r, _ := utf8.DecodeLastRuneInString(out)
			if unicode.IsSpace(r) {
				t.Fatalf("trailing space kept: %q", out)
			}
		}
		if CleanLine(out) != out && !strings.Contains(out, "\x1b[") {
			t.Fatalf("not idempotent: %q", out)
		}
	})
}
