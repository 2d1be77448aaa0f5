package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// venvDirs are the project-scoped runtime locations checked under the work
// directory, in order.
var venvDirs = []string{"venv", ".venv"}

func venvBinary(venv, name string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts", name+".exe")
	}
	return filepath.Join(venv, "bin", name)
}

func isExecutableFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode()&0o111 != 0
}

// ResolveInterpreter finds the runtime used to run the recorder script.
// A runtime inside venv or .venv under workDir wins; otherwise the ambient one
// is looked up on PATH. For "python", "python3" is tried first outside Windows.
// A name containing a path separator is used as is.
func ResolveInterpreter(workDir, name string) (string, error) {
	if name == "" {
		name = "python"
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		p := name
		if !filepath.IsAbs(p) && workDir != "" {
			p = filepath.Join(workDir, p)
		}
		if isExecutableFile(p) {
			return p, nil
		}
		return "", fmt.Errorf("%w: %s", ErrInterpreterNotFound, p)
	}

	if workDir != "" {
		for _, dir := range venvDirs {
			p := venvBinary(filepath.Join(workDir, dir), name)
			if isExecutableFile(p) {
				return p, nil
			}
		}
	}

	candidates := []string{name}
	if name == "python" && runtime.GOOS != "windows" {
		candidates = []string{"python3", "python"}
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInterpreterNotFound, name)
}

// IsPython reports whether the interpreter path looks like a Python runtime.
func IsPython(interpreter string) bool {
	base := strings.ToLower(filepath.Base(interpreter))
	base = strings.TrimSuffix(base, ".exe")
	return strings.HasPrefix(base, "python") || base == "py"
}
