// Package process resolves executables for the CLI before a command is
// handed to the supervisor.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotFound is returned when no executable matches.
var ErrNotFound = errors.New("executable not found")

// FindExecutable locates name. Names containing a path separator are
// checked as given. Otherwise PATH is searched first, then extraDirs in
// order.
func FindExecutable(name string, extraDirs ...string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}

	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		if path, ok := executable(name); ok {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	for _, dir := range extraDirs {
		if dir == "" {
			continue
		}
		if path, ok := executable(filepath.Join(dir, name)); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// executable reports whether path (or, on Windows, path plus one of the
// PATHEXT suffixes) is an executable regular file.
func executable(path string) (string, bool) {
	candidates := []string{path}
	if runtime.GOOS == "windows" && filepath.Ext(path) == "" {
		exts := os.Getenv("PATHEXT")
		if exts == "" {
			exts = ".COM;.EXE;.BAT;.CMD"
		}
		for _, ext := range strings.Split(exts, ";") {
			if ext != "" {
				candidates = append(candidates, path+strings.ToLower(ext))
			}
		}
	}

	for _, c := range candidates {
		fi, err := os.Stat(c)
		if err != nil || fi.IsDir() {
			continue
		}
		if runtime.GOOS == "windows" || fi.Mode()&0o111 != 0 {
			return c, true
		}
	}
	return "", false
}
