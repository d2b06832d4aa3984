// Package envstore persists key/value environment state in dotenv files.
package envstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/joho/godotenv"
)

// Store is a dotenv file treated as a string map.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store backed by the file at path. The file need not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Read returns every key in the file. A missing file reads as empty.
func (s *Store) Read() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", s.path, err)
	}
	return values, nil
}

// Merge sets the given keys, replacing existing values and keeping all other
// keys. Empty values delete the key.
func (s *Store) Merge(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	for k, v := range values {
		if v == "" {
			delete(current, k)
			continue
		}
		current[k] = v
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create env dir: %w", err)
		}
	}
	if err := godotenv.Write(current, s.path); err != nil {
		return fmt.Errorf("write env file %s: %w", s.path, err)
	}
	return nil
}

// SaveAgents replaces the persisted agent identifiers with set. Roles absent
// from set are removed so a new bootstrap never mixes with a previous one.
func (s *Store) SaveAgents(set domain.AgentSet) error {
	values := set.EnvValues()
	for _, role := range set.Missing() {
		values[role.EnvKey()] = ""
	}
	return s.Merge(values)
}

// LoadAgents returns the persisted agent identifiers.
func (s *Store) LoadAgents() (domain.AgentSet, error) {
	values, err := s.Read()
	if err != nil {
		return nil, err
	}
	return domain.AgentSetFromEnv(values), nil
}
