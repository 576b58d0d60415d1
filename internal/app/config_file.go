package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"yashubustudio/qalens/qalens"
)

// EnsureConfigFile writes a default config to path when no file exists there yet, giving
// users a starting point to edit. It reports whether a file was written.
func EnsureConfigFile(path string) (bool, error) {
	return ensureYAMLFile(path, qalens.DefaultConfig())
}

// EnsureCatalogFile writes the built-in vocabularies to path when no file exists there yet.
func EnsureCatalogFile(path string) (bool, error) {
	return ensureYAMLFile(path, qalens.DefaultCatalogFile())
}

func ensureYAMLFile(path string, v any) (bool, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return false, errors.New("path is required")
	}
	clean = filepath.Clean(clean)
	if _, err := os.Stat(clean); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("check %s: %w", clean, err)
	}

	if dir := filepath.Dir(clean); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", filepath.Base(clean), err)
	}
	if err := os.WriteFile(clean, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", clean, err)
	}
	return true, nil
}
