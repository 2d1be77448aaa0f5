package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// pidMeta is stored on the second line of the PID file so that a reused PID
// is not mistaken for the recorder.
type pidMeta struct {
	StartUnixMilli int64 `json:"start_unix_ms"`
}

// WritePIDFile writes pid to path, creating parent directories. The first line
// is the PID; the second holds the process start time when it is known.
func WritePIDFile(path string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n"
	if start := procStartMilli(pid); start > 0 {
		if b, err := json.Marshal(pidMeta{StartUnixMilli: start}); err == nil {
			content += string(b) + "\n"
		}
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// ReadPIDFile reads a PID written by WritePIDFile.
func ReadPIDFile(path string) (int, error) {
	pid, _, err := readPIDFile(path)
	return pid, err
}

func readPIDFile(path string) (int, pidMeta, error) {
	var meta pidMeta
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) > 1 {
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &meta)
	}
	return pid, meta, nil
}

// RemovePIDFile best-effort
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// CheckPIDFile reports the PID recorded at path and whether that process is
// still alive. A missing file yields 0, false and no error. A live PID whose
// start time differs from the recorded one is treated as reused, not alive.
func CheckPIDFile(path string) (int, bool, error) {
	if path == "" {
		return 0, false, nil
	}
	pid, meta, err := readPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil || !alive {
		return pid, false, nil
	}
	if meta.StartUnixMilli > 0 {
		if cur := procStartMilli(pid); cur > 0 && cur != meta.StartUnixMilli {
			return pid, false, nil
		}
	}
	return pid, true, nil
}

func procStartMilli(pid int) int64 {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil {
		return 0
	}
	return ms
}
