// Package tracker maintains the advisory already-embedded count file.
//
// The count mirrors the ledger length after the last successful sync. It is never the
// source of truth for what has been embedded; the ledger is.
package tracker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// State is the tracker file contents.
type State struct {
	Count int `yaml:"count"`
}

// Tracker reads and writes the tracker file at Path.
type Tracker struct {
	path string
}

// New returns a tracker for the YAML file at path.
func New(path string) *Tracker {
	return &Tracker{path: path}
}

// Path returns the tracker file path.
func (t *Tracker) Path() string { return t.path }

// Load returns the stored state. found is false when the file does not exist.
func (t *Tracker) Load() (state State, found bool, err error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("failed to read tracker: %w", err)
	}
	if err := yaml.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("failed to parse tracker: %w", err)
	}
	if state.Count < 0 {
		return State{}, false, fmt.Errorf("tracker count is negative: %d", state.Count)
	}
	return state, true, nil
}

// Write replaces the tracker file with count, atomically.
func (t *Tracker) Write(count int) error {
	data, err := yaml.Marshal(State{Count: count})
	if err != nil {
		return fmt.Errorf("failed to marshal tracker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("failed to create tracker directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write tracker: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace tracker: %w", err)
	}
	return nil
}
