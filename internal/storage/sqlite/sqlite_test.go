package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ymbot/internal/models"
)

// setupTestDB creates a migrated database in a temporary directory
func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()

	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "data", "bot.db"))
	require.NoError(t, err, "Failed to open sqlite")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Initialize(context.Background()), "Failed to run migrations")
	return db
}

func TestSQLiteDB_InitializeIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Initialize(context.Background()))
}

func TestSQLiteDB_UpsertUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, created, err := db.UpsertUser(ctx, models.UserInfo{ID: 100, Username: "bob", FirstName: "Bob"}, 100)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, user.IsAdmin, "configured admin must be elevated on first contact")

	user, created, err = db.UpsertUser(ctx, models.UserInfo{ID: 100, Username: "bobby"}, 100)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "bobby", user.Username)

	stored, err := db.GetUser(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "bobby", stored.Username)
	assert.True(t, stored.IsAdmin)
	assert.False(t, stored.RegisteredAt.IsZero())
}

func TestSQLiteDB_GetUserMissing(t *testing.T) {
	db := setupTestDB(t)

	user, err := db.GetUser(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, user)

	isAdmin, err := db.IsAdmin(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestSQLiteDB_SetAdmin(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	found, err := db.SetAdmin(ctx, 5, true)
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = db.UpsertUser(ctx, models.UserInfo{ID: 5}, 0)
	require.NoError(t, err)

	found, err = db.SetAdmin(ctx, 5, true)
	require.NoError(t, err)
	assert.True(t, found)

	isAdmin, err := db.IsAdmin(ctx, 5)
	require.NoError(t, err)
	assert.True(t, isAdmin)
}

func TestSQLiteDB_Downloads(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddDownload(ctx, 1, "Song A", "Artist A"))
	require.NoError(t, db.AddDownload(ctx, 1, "Song B", "Artist B"))
	require.NoError(t, db.AddDownload(ctx, 2, "Song C", "Artist C"))

	downloads, err := db.ListDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, downloads, 3)
	assert.Equal(t, "Song A", downloads[0].TrackTitle)
	assert.Less(t, downloads[0].ID, downloads[1].ID)

	count, err := db.CountUserDownloads(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLiteDB_GetStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.BulkInsertUsers(ctx, []models.User{
		{ID: 1, RegisteredAt: old, LastActivity: old},
		{ID: 2, RegisteredAt: old, LastActivity: time.Now().UTC()},
	})
	require.NoError(t, err)
	require.NoError(t, db.AddDownload(ctx, 2, "Song", "Artist"))

	stats, err := db.GetStats(ctx, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.TotalDownloads)
	assert.Equal(t, 1, stats.ActiveUsersWeek)
}

func TestSQLiteDB_ClearAndBulkInsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, _, err := db.UpsertUser(ctx, models.UserInfo{ID: 1, Username: "old"}, 0)
	require.NoError(t, err)
	require.NoError(t, db.AddDownload(ctx, 1, "Old", "Old"))

	require.NoError(t, db.ClearUsers(ctx))
	require.NoError(t, db.ClearDownloads(ctx))

	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	n, err := db.BulkInsertUsers(ctx, []models.User{
		{ID: 10, Username: "один", IsAdmin: true, RegisteredAt: ts, LastActivity: ts},
		{ID: 11, Username: "two", RegisteredAt: ts, LastActivity: ts},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.BulkInsertDownloads(ctx, []models.Download{
		{ID: 40, UserID: 10, TrackTitle: "X", TrackArtist: "Y", DownloadTime: ts},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	users, err := db.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "один", users[0].Username)
	assert.True(t, users[0].IsAdmin)
	assert.True(t, users[0].RegisteredAt.Equal(ts))

	downloads, err := db.ListDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, int64(40), downloads[0].ID)

	// Autoincrement continues after the restored ID
	require.NoError(t, db.AddDownload(ctx, 10, "New", "New"))
	downloads, err = db.ListDownloads(ctx)
	require.NoError(t, err)
	assert.Greater(t, downloads[1].ID, int64(40))
}

func TestSQLiteDB_BulkInsertEmpty(t *testing.T) {
	db := setupTestDB(t)

	n, err := db.BulkInsertUsers(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
