// Package scheduler drives unattended pull-and-recreate passes over all
// eligible stacks on a cron-like schedule. A pass goes through the same
// gate and runner path as manual operations, so automatic and manual
// changes share identical safety semantics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/casadock/casadock/internal/registry"
	"github.com/casadock/casadock/internal/runner"
	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning means a pass is in progress and a second one was asked for.
var ErrAlreadyRunning = errors.New("an update pass is already running")

// presets maps schedule names to cron expressions.
var presets = map[string]string{
	"hourly": "0 * * * *",
	"daily":  "0 4 * * *",
	"weekly": "0 4 * * 1",
}

// NextRun computes the next scheduled time after now for a preset name or
// raw cron expression. It is a pure function: the timer mechanism sits
// elsewhere, so schedule math is testable without real delays.
func NextRun(now time.Time, preset string) (time.Time, error) {
	expr, ok := presets[preset]
	if !ok {
		expr = preset
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", preset, err)
	}
	return sched.Next(now), nil
}

// Scheduler owns the background auto-update loop.
type Scheduler struct {
	store  *Store
	reg    *registry.Registry
	runner *runner.Runner
	logger *slog.Logger

	mu      sync.Mutex
	running bool // a pass is in progress

	wake chan struct{}
	stop chan struct{}
}

// New creates a Scheduler. Call Start to launch the loop.
func New(store *Store, reg *registry.Registry, rn *runner.Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		reg:    reg,
		runner: rn,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Start launches the scheduling loop in the background.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop terminates the loop. An in-flight pass finishes its current stack.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// State reports disabled, idle, or running.
func (s *Scheduler) State() string {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return "running"
	}
	cfg, err := s.store.Load()
	if err != nil || !cfg.Enabled {
		return "disabled"
	}
	return "idle"
}

// Config returns the current configuration document.
func (s *Scheduler) Config() (Config, error) {
	return s.store.Load()
}

// SetConfig validates and persists new settings, then wakes the loop so the
// next tick is recomputed immediately.
func (s *Scheduler) SetConfig(cfg Config) error {
	if _, err := NextRun(time.Now(), cfg.Preset); err != nil {
		return err
	}
	prev, err := s.store.Load()
	if err == nil {
		cfg.LastRun = prev.LastRun
	}
	if err := s.store.Save(cfg); err != nil {
		return err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// LastResult returns the most recent pass summary, or nil if none ran yet.
func (s *Scheduler) LastResult() (*PassResult, error) {
	cfg, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	return cfg.LastRun, nil
}

// RunNow triggers a pass immediately. It fails with ErrAlreadyRunning
// rather than queuing a second pass.
func (s *Scheduler) RunNow() error {
	if !s.beginPass() {
		return ErrAlreadyRunning
	}
	go func() {
		defer s.endPass()
		s.runPass()
	}()
	return nil
}

func (s *Scheduler) loop() {
	for {
		cfg, err := s.store.Load()
		if err != nil {
			s.logger.Error("scheduler config unreadable", "err", err)
			cfg = Config{}
		}

		if !cfg.Enabled {
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}

		next, err := NextRun(time.Now(), cfg.Preset)
		if err != nil {
			s.logger.Error("schedule unparseable, scheduler idle", "preset", cfg.Preset, "err", err)
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			if s.beginPass() {
				s.runPass()
				s.endPass()
			}
		case <-s.wake:
			timer.Stop()
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) beginPass() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) endPass() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// runPass updates every eligible stack. One stack's failure never aborts
// the pass: each outcome is recorded and iteration continues.
func (s *Scheduler) runPass() {
	result := &PassResult{StartedAt: time.Now()}

	cfg, err := s.store.Load()
	if err != nil {
		s.logger.Error("pass aborted, config unreadable", "err", err)
		return
	}

	stacks, err := s.reg.List(context.Background())
	if err != nil {
		s.logger.Error("pass aborted, registry scan failed", "err", err)
		return
	}

	s.logger.Info("auto-update pass started", "stacks", len(stacks))
	for _, st := range stacks {
		outcome := s.updateStack(st.Name, cfg.Exclude)
		result.Outcomes = append(result.Outcomes, outcome)
		switch outcome.Result {
		case "updated":
			result.Updated++
		case "failed":
			result.Failed++
		default:
			result.Skipped++
		}
	}

	result.FinishedAt = time.Now()
	if err := s.store.RecordResult(result); err != nil {
		s.logger.Error("recording pass result failed", "err", err)
	}
	s.logger.Info("auto-update pass finished",
		"updated", result.Updated,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Second),
	)
}

// updateStack performs pull-then-recreate for one stack.
func (s *Scheduler) updateStack(name string, exclude []string) Outcome {
	if slices.Contains(exclude, name) {
		return Outcome{Stack: name, Result: "skipped-excluded"}
	}

	for _, kind := range []runner.Kind{runner.KindPull, runner.KindUp} {
		run, err := s.runner.Run(name, kind, nil)
		if err != nil {
			if errors.Is(err, registry.ErrBusy) {
				return Outcome{Stack: name, Result: "skipped-busy"}
			}
			return Outcome{Stack: name, Result: "failed", Detail: err.Error()}
		}
		<-run.Done()
		if run.State() != runner.StateSucceeded {
			return Outcome{
				Stack:  name,
				Result: "failed",
				Detail: fmt.Sprintf("%s: %s", kind, run.StatusLabel()),
			}
		}
	}
	return Outcome{Stack: name, Result: "updated"}
}
