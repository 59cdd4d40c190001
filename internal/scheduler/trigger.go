package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Fire while a previous firing is running
var ErrAlreadyRunning = errors.New("backup job already running")

// Job performs one firing; due is the scheduled time being served
type Job func(ctx context.Context, due time.Time) error

// Config configures a Trigger
type Config struct {
	Schedule     string
	Timezone     string
	MisfireGrace time.Duration
	// StatePath persists the last served firing; empty keeps it in memory
	StatePath string
}

// Trigger fires Job on a cron schedule. Missed firings are coalesced into
// one run, which only happens when it is no later than MisfireGrace.
// Firings never overlap.
type Trigger struct {
	schedule cron.Schedule
	loc      *time.Location
	grace    time.Duration
	job      Job
	state    *stateFile
	logger   *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	now func() time.Time
}

// New creates a trigger for job
func New(cfg Config, job Job, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultMisfireGrace
	}

	sched, loc := BuildSchedule(cfg.Schedule, cfg.Timezone, logger)
	return &Trigger{
		schedule: sched,
		loc:      loc,
		grace:    cfg.MisfireGrace,
		job:      job,
		state:    &stateFile{path: cfg.StatePath},
		logger:   logger,
		now:      time.Now,
	}
}

// String names the service for the supervisor
func (t *Trigger) String() string {
	return "backup-trigger"
}

// Next returns the first firing strictly after from
func (t *Trigger) Next(from time.Time) time.Time {
	return t.schedule.Next(from.In(t.loc))
}

// Serve runs the schedule until ctx is cancelled
func (t *Trigger) Serve(ctx context.Context) error {
	anchor, err := t.state.load()
	if err != nil {
		t.logger.Warn("Failed to read backup state, starting fresh", zap.String("path", t.state.path), zap.Error(err))
	}
	if anchor.IsZero() {
		anchor = t.now()
	}

	t.logger.Info("Backup trigger started",
		zap.Time("next_run", t.Next(maxTime(anchor, t.now()))),
		zap.String("timezone", t.loc.String()),
	)

	defer t.wg.Wait()
	for {
		now := t.now()
		due, stale := t.plan(anchor, now)
		switch {
		case !due.IsZero():
			anchor = due
			t.dispatch(ctx, due)
		case !stale.IsZero():
			anchor = stale
			t.logger.Warn("Missed backup firing is past the grace window, skipping",
				zap.Time("due", stale),
				zap.Duration("grace", t.grace),
			)
			t.persist(stale)
		}

		next := t.Next(maxTime(anchor, now))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// plan returns the latest firing in (anchor, now] when it lies within the
// grace window, or as stale when it does not
func (t *Trigger) plan(anchor, now time.Time) (due, stale time.Time) {
	floor := now.Add(-t.grace).Add(-time.Second)

	from := anchor
	if from.Before(floor) {
		if first := t.Next(from); !first.After(floor) {
			stale = first
		}
		from = floor
	}

	for next := t.Next(from); !next.After(now); next = t.Next(next) {
		due = next
	}
	if !due.IsZero() {
		return due, time.Time{}
	}
	if !stale.IsZero() {
		// latest missed firing below the floor
		for next := t.Next(stale); !next.After(floor); next = t.Next(next) {
			stale = next
		}
	}
	return time.Time{}, stale
}

func (t *Trigger) dispatch(ctx context.Context, due time.Time) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.Fire(ctx, due); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			t.logger.Error("Scheduled backup failed", zap.Time("due", due), zap.Error(err))
		}
	}()
}

// Fire runs the job for due unless a firing is already running
func (t *Trigger) Fire(ctx context.Context, due time.Time) error {
	if !t.running.CompareAndSwap(false, true) {
		t.logger.Warn("Backup still running, firing suppressed", zap.Time("due", due))
		return ErrAlreadyRunning
	}
	defer t.running.Store(false)

	start := t.now()
	t.logger.Info("Scheduled backup started", zap.Time("due", due))

	err := t.job(ctx, due)
	t.persist(due)
	if err != nil {
		return err
	}

	t.logger.Info("Scheduled backup completed",
		zap.Time("due", due),
		zap.Duration("duration", t.now().Sub(start)),
	)
	return nil
}

// Running reports whether a firing is in progress
func (t *Trigger) Running() bool {
	return t.running.Load()
}

func (t *Trigger) persist(due time.Time) {
	if err := t.state.save(due); err != nil {
		t.logger.Warn("Failed to persist backup state", zap.String("path", t.state.path), zap.Error(err))
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

type stateFile struct {
	path string
	mu   sync.Mutex
	last time.Time
}

type stateDoc struct {
	LastDue time.Time `json:"last_due"`
}

func (s *stateFile) load() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.last, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode backup state: %w", err)
	}
	s.last = doc.LastDue
	return doc.LastDue, nil
}

func (s *stateFile) save(due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if due.Before(s.last) {
		return nil
	}
	s.last = due
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(stateDoc{LastDue: due.UTC()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
