package stubs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ymbot/internal/models"
)

// ErrInjected is returned by operations configured to fail via FailOn
var ErrInjected = errors.New("injected storage failure")

// MockDB is an in-memory implementation of the Storage interface for testing
type MockDB struct {
	mu        sync.RWMutex
	users     map[int64]models.User
	downloads []models.Download
	nextID    int64
	failOn    map[string]bool
	now       func() time.Time
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:     make(map[int64]models.User),
		downloads: make([]models.Download, 0),
		nextID:    1,
		failOn:    make(map[string]bool),
		now:       time.Now,
	}
}

// FailOn makes the named operation (e.g. "ClearUsers") return ErrInjected
func (m *MockDB) FailOn(op string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = fail
}

func (m *MockDB) fails(op string) bool {
	return m.failOn[op]
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// UpsertUser registers a new user or refreshes an existing one
func (m *MockDB) UpsertUser(ctx context.Context, info models.UserInfo, autoAdminID int64) (models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fails("UpsertUser") {
		return models.User{}, false, ErrInjected
	}

	now := m.now().UTC()
	user, exists := m.users[info.ID]
	if !exists {
		user = models.User{
			ID:           info.ID,
			IsAdmin:      autoAdminID != 0 && info.ID == autoAdminID,
			RegisteredAt: now,
		}
	}
	user.Username = info.Username
	user.FirstName = info.FirstName
	user.LastName = info.LastName
	user.LastActivity = now
	m.users[info.ID] = user

	return user, !exists, nil
}

// TouchUser updates the last activity timestamp
func (m *MockDB) TouchUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user, ok := m.users[userID]; ok {
		user.LastActivity = m.now().UTC()
		m.users[userID] = user
	}
	return nil
}

// GetUser returns a user or nil
func (m *MockDB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// IsAdmin reports whether the user has the admin flag
func (m *MockDB) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userID].IsAdmin, nil
}

// SetAdmin sets or clears the admin flag
func (m *MockDB) SetAdmin(ctx context.Context, userID int64, isAdmin bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	user.IsAdmin = isAdmin
	m.users[userID] = user
	return true, nil
}

// ListUsers returns all users sorted by ID
func (m *MockDB) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fails("ListUsers") {
		return nil, ErrInjected
	}

	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// AddDownload appends a download record
func (m *MockDB) AddDownload(ctx context.Context, userID int64, title, artist string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fails("AddDownload") {
		return ErrInjected
	}

	m.downloads = append(m.downloads, models.Download{
		ID:           m.nextID,
		UserID:       userID,
		TrackTitle:   title,
		TrackArtist:  artist,
		DownloadTime: m.now().UTC(),
	})
	m.nextID++
	return nil
}

// ListDownloads returns all downloads sorted by ID
func (m *MockDB) ListDownloads(ctx context.Context) ([]models.Download, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	downloads := make([]models.Download, len(m.downloads))
	copy(downloads, m.downloads)
	sort.Slice(downloads, func(i, j int) bool {
		return downloads[i].ID < downloads[j].ID
	})
	return downloads, nil
}

// CountUserDownloads returns the number of downloads by one user
func (m *MockDB) CountUserDownloads(ctx context.Context, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, d := range m.downloads {
		if d.UserID == userID {
			count++
		}
	}
	return count, nil
}

// GetStats returns aggregate statistics
func (m *MockDB) GetStats(ctx context.Context, activeSince time.Time) (models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.Stats{
		TotalUsers:     len(m.users),
		TotalDownloads: len(m.downloads),
	}
	for _, u := range m.users {
		if !u.LastActivity.Before(activeSince) {
			stats.ActiveUsersWeek++
		}
	}
	return stats, nil
}

// ClearUsers removes all users
func (m *MockDB) ClearUsers(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fails("ClearUsers") {
		return ErrInjected
	}
	m.users = make(map[int64]models.User)
	return nil
}

// ClearDownloads removes all downloads
func (m *MockDB) ClearDownloads(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fails("ClearDownloads") {
		return ErrInjected
	}
	m.downloads = make([]models.Download, 0)
	return nil
}

// BulkInsertUsers inserts users keeping their IDs, replacing duplicates
func (m *MockDB) BulkInsertUsers(ctx context.Context, users []models.User) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fails("BulkInsertUsers") {
		return 0, ErrInjected
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return len(users), nil
}

// BulkInsertDownloads inserts downloads keeping their IDs
func (m *MockDB) BulkInsertDownloads(ctx context.Context, downloads []models.Download) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fails("BulkInsertDownloads") {
		return 0, ErrInjected
	}
	for _, d := range downloads {
		if d.ID == 0 {
			d.ID = m.nextID
		}
		if d.ID >= m.nextID {
			m.nextID = d.ID + 1
		}
		m.downloads = append(m.downloads, d)
	}
	return len(downloads), nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
