package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/casadock/casadock/internal/composefile"
)

// Config is the persisted auto-update configuration document.
type Config struct {
	Enabled bool        `json:"enabled"`
	Preset  string      `json:"preset"`  // hourly, daily, weekly, or a raw cron expression
	Exclude []string    `json:"exclude"` // stack names never auto-updated
	LastRun *PassResult `json:"last_run,omitempty"`
}

// Outcome is the result for one stack within a pass.
type Outcome struct {
	Stack  string `json:"stack"`
	Result string `json:"result"` // updated, failed, skipped-busy, skipped-excluded
	Detail string `json:"detail,omitempty"`
}

// PassResult summarizes one complete scheduler pass.
type PassResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

// Store persists the config document with the same temp-write-then-rename
// discipline as every other file, so a crash mid-save never leaves a
// malformed document on disk.
type Store struct {
	mu       sync.Mutex
	path     string
	defaults Config
}

// NewStore creates a Store. defaults is returned while no document exists.
func NewStore(path string, defaults Config) *Store {
	return &Store{path: path, defaults: defaults}
}

// Load reads the current config document.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.defaults, nil
		}
		return Config{}, fmt.Errorf("read scheduler config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse scheduler config: %w", err)
	}
	return cfg, nil
}

// Save atomically replaces the config document.
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *Store) saveLocked(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scheduler config: %w", err)
	}
	return composefile.WriteFileAtomic(s.path, append(data, '\n'), 0644)
}

// RecordResult stores a pass result into the document without clobbering
// concurrent setting changes.
func (s *Store) RecordResult(result *PassResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return err
	}
	cfg.LastRun = result
	return s.saveLocked(cfg)
}
