package bandit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store abstracts posterior persistence. Load runs once at construction;
// Persist rewrites the whole registry after every mutation. Implementations
// are not required to coordinate concurrent writers; the file store below
// does not, and simultaneous updates from separate processes can lose one
// another's increments.
type Store interface {
	Load() (map[string]ArmStats, error)
	Persist(stats map[string]ArmStats) error
}

// stateFile is the on-disk document shape.
type stateFile struct {
	Arms map[string]ArmStats `json:"arms"`
}

// FileStore persists the registry as one flat JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to the given path. Parent directories
// are created on first persist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state file. A missing file yields an empty registry.
func (s *FileStore) Load() (map[string]ArmStats, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]ArmStats), nil
		}
		return nil, fmt.Errorf("read bandit state %s: %w", s.path, err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse bandit state %s: %w", s.path, err)
	}
	if sf.Arms == nil {
		sf.Arms = make(map[string]ArmStats)
	}
	return sf.Arms, nil
}

// Persist rewrites the full state file.
func (s *FileStore) Persist(stats map[string]ArmStats) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create bandit state dir: %w", err)
	}
	data, err := json.MarshalIndent(stateFile{Arms: stats}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bandit state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write bandit state %s: %w", s.path, err)
	}
	return nil
}
