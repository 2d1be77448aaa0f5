package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestCheckPIDFile(t *testing.T) {
	dir := t.TempDir()

	if pid, alive, err := CheckPIDFile(filepath.Join(dir, "missing.pid")); pid != 0 || alive || err != nil {
		t.Fatalf("missing file: %d %v %v", pid, alive, err)
	}

	self := filepath.Join(dir, "self.pid")
	if err := WritePIDFile(self, os.Getpid()); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, alive, err := CheckPIDFile(self)
	if err != nil || pid != os.Getpid() || !alive {
		t.Fatalf("own pid: %d %v %v", pid, alive, err)
	}

	reused := filepath.Join(dir, "reused.pid")
	body := strconv.Itoa(os.Getpid()) + "\n{\"start_unix_ms\":1}\n"
	if err := os.WriteFile(reused, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, alive, err := CheckPIDFile(reused); alive || err != nil {
		t.Fatalf("reused pid should not count as alive: %v %v", alive, err)
	}

	bad := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(bad, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := CheckPIDFile(bad); err == nil {
		t.Fatal("expected error for invalid pid file")
	}
}

func TestReadPIDFileWithoutMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.pid")
	if err := os.WriteFile(path, []byte("4242\r\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid != 4242 {
		t.Fatalf("got %d, %v", pid, err)
	}
}

func FuzzReadPIDFile(f *testing.F) {
	f.Add("123\n{\"start_unix_ms\":5}\n")
	f.Add("")
	f.Add("\n\n")
	f.Add("12x")
	dir := f.TempDir()
	f.Fuzz(func(t *testing.T, body string) {
		path := filepath.Join(dir, "fuzz.pid")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Skip()
		}
		_, _, _ = readPIDFile(path)
	})
}
