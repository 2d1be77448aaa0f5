package env

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New().WithoutOS()
	e.Set("HOME_DIR", "/home/rec")
	e.Set("OUT", "${HOME_DIR}/out")
	got := e.Merge([]string{"OUT=${HOME_DIR}/videos", "PYTHONUNBUFFERED=1", "=bad"})
	want := []string{"HOME_DIR=/home/rec", "OUT=/home/rec/videos", "PYTHONUNBUFFERED=1"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestMergeKeepsUnknownPlaceholders(t *testing.T) {
	e := New().WithoutOS()
	got := e.Merge([]string{"A=${MISSING}-x"})
	if len(got) != 1 || got[0] != "A=${MISSING}-x" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestMergeUsesOSBase(t *testing.T) {
	t.Setenv("RECPANEL_ENV_TEST", "from-os")
	got := New().Merge(nil)
	found := false
	for _, kv := range got {
		if kv == "RECPANEL_ENV_TEST=from-os" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected OS variable in merged env")
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport A=1\nB = \"two words\"\nC='x'\nnoequals\n=empty\n"
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m["A"] != "1" || m["B"] != "two words" || m["C"] != "x" || len(m) != 3 {
		t.Fatalf("unexpected %v", m)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
