package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ymbot/internal/backup"
)

// Result describes the session after a submit or skip
type Result struct {
	Session   Session
	Table     string
	Restored  int
	Skipped   bool
	Completed bool
}

// Manager drives restore sessions against the row store
type Manager struct {
	registry *Registry
	store    backup.Target
	guard    *backup.Guard
	logger   *zap.Logger
}

// NewManager creates a manager with its own registry. Restores take guard
// exclusively; exports of the same store should go through it too. A nil
// guard gets a private one.
func NewManager(store backup.Target, guard *backup.Guard, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = &backup.Guard{}
	}
	return &Manager{
		registry: NewRegistry(logger),
		store:    store,
		guard:    guard,
		logger:   logger,
	}
}

// Guard returns the guard restores are serialized on
func (m *Manager) Guard() *backup.Guard {
	return m.guard
}

// Registry exposes the session registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start opens a session for adminID. safety must complete successfully
// before the session exists; it is not called when a session is already open.
func (m *Manager) Start(ctx context.Context, adminID, chatID int64, safety func(ctx context.Context) error) (Session, error) {
	return m.registry.Begin(adminID, func() (Session, error) {
		if safety != nil {
			if err := safety(ctx); err != nil {
				return Session{}, fmt.Errorf("safety backup failed: %w", err)
			}
		}

		dir, err := os.MkdirTemp("", "ym_restore_")
		if err != nil {
			return Session{}, fmt.Errorf("failed to create restore directory: %w", err)
		}

		s := Session{
			ID:        uuid.NewString(),
			AdminID:   adminID,
			ChatID:    chatID,
			Dir:       dir,
			StartedAt: time.Now().UTC(),
			Step:      AwaitingUsers{},
		}
		m.logger.Info("Restore session started",
			zap.Int64("admin_id", adminID),
			zap.String("session_id", s.ID),
		)
		return s, nil
	})
}

// Accepts reports whether a document from adminID belongs to a session
func (m *Manager) Accepts(adminID int64) bool {
	s, ok := m.registry.Get(adminID)
	return ok && s.Step.Table() != ""
}

// SetPrompt records the message carrying the current step's prompt
func (m *Manager) SetPrompt(adminID int64, messageID int) {
	if s, ok := m.registry.Get(adminID); ok {
		m.registry.Replace(s.WithPrompt(messageID))
	}
}

// SubmitFile restores the current step's table from the document at path.
// The file is removed on every path. A failed load or restore leaves the
// session at its current step.
func (m *Manager) SubmitFile(ctx context.Context, adminID int64, path string) (Result, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Debug("Failed to remove uploaded file", zap.String("path", path), zap.Error(err))
		}
	}()

	s, err := m.registry.checkout(adminID)
	if err != nil {
		return Result{}, err
	}

	table := s.Step.Table()
	if table == "" {
		m.registry.release(adminID)
		return Result{}, ErrWrongStep
	}

	rows, err := backup.Load(path, table)
	if err != nil {
		m.registry.release(adminID)
		m.logRejected(s, table, err)
		return Result{Session: s, Table: table}, err
	}

	n, err := m.guard.Restore(ctx, m.store, table, rows)
	if err != nil {
		m.registry.release(adminID)
		m.logRejected(s, table, err)
		return Result{Session: s, Table: table}, err
	}

	next, err := s.Advance(Outcome{Restored: n})
	if err != nil {
		m.registry.release(adminID)
		return Result{}, err
	}

	m.logger.Info("Table restored",
		zap.Int64("admin_id", adminID),
		zap.String("session_id", s.ID),
		zap.String("table", table),
		zap.Int("rows", n),
	)
	return m.commit(next, Result{Table: table, Restored: n}), nil
}

// Skip skips the current step. table must name the step being skipped so a
// stale button cannot skip a later step.
func (m *Manager) Skip(ctx context.Context, adminID int64, table string) (Result, error) {
	s, err := m.registry.checkout(adminID)
	if err != nil {
		return Result{}, err
	}
	if s.Step.Table() == "" || s.Step.Table() != table {
		m.registry.release(adminID)
		return Result{Session: s}, ErrWrongStep
	}

	next, err := s.Advance(Outcome{Skipped: true})
	if err != nil {
		m.registry.release(adminID)
		return Result{}, err
	}

	m.logger.Info("Restore step skipped",
		zap.Int64("admin_id", adminID),
		zap.String("session_id", s.ID),
		zap.String("table", table),
	)
	return m.commit(next, Result{Table: table, Skipped: true}), nil
}

func (m *Manager) commit(next Session, res Result) Result {
	m.registry.checkin(next)
	res.Session = next
	if next.Done() {
		res.Completed = true
		m.registry.End(next.AdminID)
		m.logger.Info("Restore session completed",
			zap.Int64("admin_id", next.AdminID),
			zap.String("session_id", next.ID),
		)
	}
	return res
}

func (m *Manager) logRejected(s Session, table string, err error) {
	level := m.logger.Error
	if errors.Is(err, backup.ErrValidation) {
		level = m.logger.Warn
	}
	level("Restore step failed",
		zap.Int64("admin_id", s.AdminID),
		zap.String("session_id", s.ID),
		zap.String("table", table),
		zap.Error(err),
	)
}
