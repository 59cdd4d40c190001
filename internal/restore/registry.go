package restore

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

type entry struct {
	session Session
	busy    bool
}

// Registry holds at most one session per admin. Every mutation goes through
// checkout/checkin so a session has a single writer at a time.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*entry
	pending  map[int64]struct{}
	logger   *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[int64]*entry),
		pending:  make(map[int64]struct{}),
		logger:   logger,
	}
}

// Begin creates a session for adminID using create. The admin is reserved
// while create runs; a concurrent Begin for the same admin fails with
// ErrSessionExists without calling create. A create error leaves no session.
func (r *Registry) Begin(adminID int64, create func() (Session, error)) (Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[adminID]; ok {
		r.mu.Unlock()
		return Session{}, ErrSessionExists
	}
	if _, ok := r.pending[adminID]; ok {
		r.mu.Unlock()
		return Session{}, ErrSessionExists
	}
	r.pending[adminID] = struct{}{}
	r.mu.Unlock()

	s, err := create()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, adminID)
	if err != nil {
		return Session{}, err
	}
	r.sessions[adminID] = &entry{session: s}
	return s, nil
}

// Get returns a copy of the admin's session
func (r *Registry) Get(adminID int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[adminID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Active returns the number of open sessions
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) checkout(adminID int64) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[adminID]
	if !ok {
		return Session{}, ErrNoSession
	}
	if e.busy {
		return Session{}, ErrBusy
	}
	e.busy = true
	return e.session, nil
}

// checkin stores the new session value and releases it
func (r *Registry) checkin(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[s.AdminID]; ok {
		e.session = s
		e.busy = false
	}
}

// release frees a checked-out session without changing it
func (r *Registry) release(adminID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[adminID]; ok {
		e.busy = false
	}
}

// Replace stores s when its admin has a session that is not checked out
func (r *Registry) Replace(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[s.AdminID]
	if !ok || e.busy {
		return false
	}
	e.session = s
	return true
}

// End removes the session and its temporary directory. It never fails.
func (r *Registry) End(adminID int64) {
	r.mu.Lock()
	e, ok := r.sessions[adminID]
	delete(r.sessions, adminID)
	r.mu.Unlock()

	if !ok || e.session.Dir == "" {
		return
	}
	if err := os.RemoveAll(e.session.Dir); err != nil {
		r.logger.Debug("Failed to remove restore directory",
			zap.Int64("admin_id", adminID),
			zap.String("path", e.session.Dir),
			zap.Error(err),
		)
	}
}
