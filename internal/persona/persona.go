// Package persona loads the assistant's system prompt.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const FileName = "PERSONA.md"

// Load reads the prompt at path. With no path it looks for PERSONA.md in
// the working directory and its parents; finding none yields "".
func Load(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		found, err := findInParents(cwd, FileName)
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		path = found
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
