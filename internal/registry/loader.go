package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"genserve/pkg/types"
)

// ErrModelNotFound is returned by Resolve when no model matches.
var ErrModelNotFound = errors.New("model not found")

// LoadDir scans a directory for *.gguf files and builds a registry from filenames.
// ID is the full filename (including extension); Path is the absolute file path.
// Models are sorted by ID.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		m := types.Model{ID: name, Path: filepath.Join(abs, name)}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve finds the model to serve. name may be a path to an existing file, a
// file name under dir, or a file name without its .gguf suffix. An empty name
// picks the only model in dir and fails when there are several.
func Resolve(dir, name string) (types.Model, error) {
	if name != "" && (strings.ContainsRune(name, os.PathSeparator) || strings.HasPrefix(name, "~")) {
		p, err := expandHome(name)
		if err != nil {
			return types.Model{}, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return types.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
		abs, _ := filepath.Abs(p)
		return types.Model{ID: filepath.Base(p), Path: abs, SizeBytes: info.Size()}, nil
	}
	models, err := LoadDir(dir)
	if err != nil {
		return types.Model{}, err
	}
	if name == "" {
		switch len(models) {
		case 0:
			return types.Model{}, fmt.Errorf("%w: no .gguf files in %s", ErrModelNotFound, dir)
		case 1:
			return models[0], nil
		}
		return types.Model{}, fmt.Errorf("%d models in %s; choose one with --model", len(models), dir)
	}
	for _, m := range models {
		if m.ID == name || strings.TrimSuffix(strings.ToLower(m.ID), ".gguf") == strings.ToLower(name) {
			return m, nil
		}
	}
	return types.Model{}, fmt.Errorf("%w: %s in %s", ErrModelNotFound, name, dir)
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/models/llm
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
