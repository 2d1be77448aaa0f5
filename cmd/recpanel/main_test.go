package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/recpanel/internal/config"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recpanel.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execRoot(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "recpanel ") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execRoot(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, c := range []string{"run", "check", "version"} {
		if !strings.Contains(out, c) {
			t.Fatalf("help missing %q:\n%s", c, out)
		}
	}
}

func TestCheckPrintsResolvedCommand(t *testing.T) {
	path := writeConfig(t, `
[recorder]
script = "/usr/local/bin/record"
interpreter = ""
args = ["--device", "cam0"]
grace_period = "5s"
env = ["SESSION=demo"]
`)
	out, err := execRoot(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	for _, want := range []string{
		"executable:  /usr/local/bin/record",
		"args:        --device cam0",
		"workdir:     " + filepath.Dir(path),
		"grace:       5s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
[recorder]
grace_period = "-1s"
`)
	_, err := execRoot(t, "check", "--config", path)
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadConfigAppliesRunFlags(t *testing.T) {
	path := writeConfig(t, `
[recorder]
script = "rec.sh"
interpreter = ""

[tray]
enabled = true
`)
	cfg, err := loadConfig(&GlobalFlags{ConfigPath: path}, &RunFlags{NoTray: true, Grace: 7 * time.Second})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tray.Enabled {
		t.Fatal("--no-tray should disable the tray")
	}
	if cfg.Recorder.GracePeriod != 7*time.Second {
		t.Fatalf("grace not overridden: %s", cfg.Recorder.GracePeriod)
	}
}

func TestRunQuitsOnInput(t *testing.T) {
	path := writeConfig(t, `
[recorder]
script = "rec.sh"
interpreter = ""

[console]
color = "never"

[log]
level = "error"
`)
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader("status\nquit\n"))
	root.SetArgs([]string{"run", "--config", path, "--no-tray"})
	done := make(chan error, 1)
	go func() { done <- root.Execute() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not quit")
	}
	if !strings.Contains(out.String(), "status: not running | tray: not started") {
		t.Fatalf("unexpected panel output:\n%s", out.String())
	}
}
