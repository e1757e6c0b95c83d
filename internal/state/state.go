// Package state persists where each unit is deployed.
//
// The whole file is rewritten on every mutation: load all, mutate, save all
// through a temp file and rename. A mutex serializes cycles inside one process.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/logger"
	"github.com/compose-farm/compose-farm/pkg/types"
	"gopkg.in/yaml.v3"
)

// Placements maps unit name to where it runs
type Placements map[string]types.Placement

// Clone returns an independent copy
func (p Placements) Clone() Placements {
	out := make(Placements, len(p))
	for unit, placement := range p {
		out[unit] = placement
	}
	return out
}

// Units returns the placed unit names in sorted order
func (p Placements) Units() []string {
	units := make([]string, 0, len(p))
	for unit := range p {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units
}

type stateFile struct {
	Deployed Placements `yaml:"deployed"`
}

// Store reads and writes the placement state file
type Store struct {
	path   string
	logger logger.Logger
	mu     sync.Mutex
}

// NewStore creates a store backed by path. The file is created on first save.
func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{path: path, logger: log}
}

// Path returns the state file location
func (s *Store) Path() string {
	return s.path
}

// Load returns every recorded placement. A missing file is an empty state.
func (s *Store) Load() (Placements, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the placement of one unit, zero when unplaced
func (s *Store) Get(unit string) (types.Placement, error) {
	all, err := s.Load()
	if err != nil {
		return types.Placement{}, err
	}
	return all[unit], nil
}

// SetSingle records unit as running on host
func (s *Store) SetSingle(unit, host string) error {
	return s.Set(unit, types.Single(host))
}

// SetMulti records unit as running on hosts. An empty set removes the record.
func (s *Store) SetMulti(unit string, hosts []string) error {
	return s.Set(unit, types.Multi(hosts...))
}

// Set records placement for unit; the zero Placement removes it
func (s *Store) Set(unit string, placement types.Placement) error {
	return s.Update(func(all Placements) {
		if placement.IsZero() {
			delete(all, unit)
			return
		}
		all[unit] = placement
	})
}

// Remove deletes the records of units
func (s *Store) Remove(units ...string) error {
	return s.Update(func(all Placements) {
		for _, unit := range units {
			delete(all, unit)
		}
	})
}

// Replace overwrites the whole state
func (s *Store) Replace(all Placements) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(all)
}

// Update runs one load-mutate-save cycle under the store lock
func (s *Store) Update(mutate func(Placements)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	mutate(all)
	return s.save(all)
}

func (s *Store) load() (Placements, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Placements{}, nil
	}
	if err != nil {
		return nil, ferrors.NewIOError("failed to read state file", err).WithContext("path", s.path)
	}

	var file stateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, ferrors.NewValidationError("failed to parse state file", err).WithContext("path", s.path)
	}
	all := Placements{}
	for unit, placement := range file.Deployed {
		if !placement.IsZero() {
			all[unit] = placement
		}
	}
	return all, nil
}

func (s *Store) save(all Placements) error {
	deployed := Placements{}
	for unit, placement := range all {
		if !placement.IsZero() {
			deployed[unit] = placement
		}
	}

	data, err := yaml.Marshal(stateFile{Deployed: deployed})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ferrors.NewIOError("failed to create state directory", err).WithContext("path", dir)
		}
	}

	// Write atomically
	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return ferrors.NewIOError("failed to write state file", err).WithContext("path", tempFile)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		os.Remove(tempFile) // Clean up
		return ferrors.NewIOError("failed to rename state file", err).WithContext("path", s.path)
	}

	s.logger.Debug("State saved",
		logger.WithField("path", s.path),
		logger.WithField("units", len(deployed)))
	return nil
}
