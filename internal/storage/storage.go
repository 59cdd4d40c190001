package storage

import (
	"context"
	"time"

	"ymbot/internal/models"
)

// Storage defines the interface for row store operations
type Storage interface {
	// User operations

	// UpsertUser registers a user on first sight or refreshes display fields and last activity.
	// A user whose ID equals autoAdminID (when non-zero) is created with the admin flag set.
	UpsertUser(ctx context.Context, info models.UserInfo, autoAdminID int64) (user models.User, created bool, err error)
	TouchUser(ctx context.Context, userID int64) error
	// GetUser returns nil without error when the user does not exist
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	// SetAdmin reports false when no such user exists
	SetAdmin(ctx context.Context, userID int64, isAdmin bool) (bool, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Download operations
	AddDownload(ctx context.Context, userID int64, title, artist string) error
	ListDownloads(ctx context.Context) ([]models.Download, error)
	CountUserDownloads(ctx context.Context, userID int64) (int, error)

	// Statistics operations

	// GetStats returns totals plus the number of users active since the given time
	GetStats(ctx context.Context, activeSince time.Time) (models.Stats, error)

	// Bulk operations used by restore. Clear and BulkInsert are separate calls and
	// are not atomic together.
	ClearUsers(ctx context.Context) error
	ClearDownloads(ctx context.Context) error
	BulkInsertUsers(ctx context.Context, users []models.User) (int, error)
	BulkInsertDownloads(ctx context.Context, downloads []models.Download) (int, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
