package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ragnarhq/ragnar-init/internal/hostfs"
)

// Child is the recorded state of one supervised process.
type Child struct {
	Name      string    `yaml:"name"`
	PID       int       `yaml:"pid"`
	State     string    `yaml:"state"`
	ExitCode  *int      `yaml:"exit_code,omitempty"`
	StartedAt time.Time `yaml:"started_at,omitempty"`

	Processes  int     `yaml:"processes,omitempty"`
	RSSBytes   uint64  `yaml:"rss_bytes,omitempty"`
	CPUSeconds float64 `yaml:"cpu_seconds,omitempty"`
}

type Identity struct {
	UID   int    `yaml:"uid"`
	GID   int    `yaml:"gid"`
	User  string `yaml:"user"`
	Group string `yaml:"group"`
	Home  string `yaml:"home"`
}

// Status is the content of the status file.
type Status struct {
	PID       int       `yaml:"pid"`
	StartedAt time.Time `yaml:"started_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Identity  Identity  `yaml:"identity"`
	Children  []Child   `yaml:"children"`

	StoppedAt  *time.Time `yaml:"stopped_at,omitempty"`
	StopReason string     `yaml:"stop_reason,omitempty"`
	ExitCode   *int       `yaml:"exit_code,omitempty"`
}

// Store keeps the current Status in memory and mirrors every change to a
// YAML file. An empty path keeps it in memory only.
type Store struct {
	path string

	mu     sync.Mutex
	status Status
	now    func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string { return s.path }

// Get returns a copy of the current status.
func (s *Store) Get() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Children = append([]Child(nil), s.status.Children...)
	return st
}

// Update applies fn to the status and persists the result.
func (s *Store) Update(fn func(*Status)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
	s.status.UpdatedAt = s.now().UTC()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := yaml.Marshal(&s.status)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return hostfs.WriteFileAtomic(s.path, b, 0644)
}

// Load reads a status file written by another process.
func Load(path string) (*Status, error) {
	b, err := hostfs.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no status at %s (is ragnar-init running?): %w", path, err)
		}
		return nil, err
	}
	var st Status
	if err := yaml.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &st, nil
}
