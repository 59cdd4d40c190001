package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/pressly/goose/v3"

	"ymbot/internal/models"
	"ymbot/migrations"
)

// SQLiteDB is the default row store backed by a single sqlite file
type SQLiteDB struct {
	db *sqlx.DB
}

type userRow struct {
	ID           int64          `db:"user_id"`
	Username     sql.NullString `db:"username"`
	FirstName    sql.NullString `db:"first_name"`
	LastName     sql.NullString `db:"last_name"`
	IsAdmin      bool           `db:"is_admin"`
	RegisteredAt sql.NullTime   `db:"registered_at"`
	LastActivity sql.NullTime   `db:"last_activity"`
}

func (r userRow) toModel() models.User {
	return models.User{
		ID:           r.ID,
		Username:     r.Username.String,
		FirstName:    r.FirstName.String,
		LastName:     r.LastName.String,
		IsAdmin:      r.IsAdmin,
		RegisteredAt: r.RegisteredAt.Time,
		LastActivity: r.LastActivity.Time,
	}
}

type downloadRow struct {
	ID           int64          `db:"id"`
	UserID       sql.NullInt64  `db:"user_id"`
	TrackTitle   sql.NullString `db:"track_title"`
	TrackArtist  sql.NullString `db:"track_artist"`
	DownloadTime sql.NullTime   `db:"download_time"`
}

func (r downloadRow) toModel() models.Download {
	return models.Download{
		ID:           r.ID,
		UserID:       r.UserID.Int64,
		TrackTitle:   r.TrackTitle.String,
		TrackArtist:  r.TrackArtist.String,
		DownloadTime: r.DownloadTime.Time,
	}
}

// NewSQLiteDB opens (and creates if needed) the database file at path
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=off&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between our own calls
	db.SetMaxOpenConns(1)

	return &SQLiteDB{db: db}, nil
}

// Initialize applies the embedded goose migrations
func (s *SQLiteDB) Initialize(ctx context.Context) error {
	goose.SetBaseFS(migrations.SQLite)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "sqlite"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// UpsertUser registers a user on first sight or refreshes display fields
func (s *SQLiteDB) UpsertUser(ctx context.Context, info models.UserInfo, autoAdminID int64) (models.User, bool, error) {
	now := time.Now().UTC()

	existing, err := s.GetUser(ctx, info.ID)
	if err != nil {
		return models.User{}, false, err
	}

	if existing == nil {
		user := models.User{
			ID:           info.ID,
			Username:     info.Username,
			FirstName:    info.FirstName,
			LastName:     info.LastName,
			IsAdmin:      autoAdminID != 0 && info.ID == autoAdminID,
			RegisteredAt: now,
			LastActivity: now,
		}
		_, err := s.db.NamedExecContext(ctx, `INSERT INTO users
			(user_id, username, first_name, last_name, is_admin, registered_at, last_activity)
			VALUES (:user_id, :username, :first_name, :last_name, :is_admin, :registered_at, :last_activity)`, user)
		if err != nil {
			return models.User{}, false, fmt.Errorf("failed to insert user: %w", err)
		}
		return user, true, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET username = ?, first_name = ?, last_name = ?, last_activity = ? WHERE user_id = ?`,
		info.Username, info.FirstName, info.LastName, now, info.ID)
	if err != nil {
		return models.User{}, false, fmt.Errorf("failed to update user: %w", err)
	}

	user := *existing
	user.Username = info.Username
	user.FirstName = info.FirstName
	user.LastName = info.LastName
	user.LastActivity = now
	return user, false, nil
}

// TouchUser updates the last activity timestamp
func (s *SQLiteDB) TouchUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_activity = ? WHERE user_id = ?`, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user activity: %w", err)
	}
	return nil
}

// GetUser returns a user or nil when absent
func (s *SQLiteDB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT user_id, username, first_name, last_name, is_admin, registered_at, last_activity
		FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	user := row.toModel()
	return &user, nil
}

// IsAdmin reports whether the user has the admin flag
func (s *SQLiteDB) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user != nil && user.IsAdmin, nil
}

// SetAdmin sets or clears the admin flag
func (s *SQLiteDB) SetAdmin(ctx context.Context, userID int64, isAdmin bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE user_id = ?`, isAdmin, userID)
	if err != nil {
		return false, fmt.Errorf("failed to set admin flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ListUsers returns all users ordered by ID
func (s *SQLiteDB) ListUsers(ctx context.Context) ([]models.User, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `SELECT user_id, username, first_name, last_name, is_admin, registered_at, last_activity
		FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]models.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toModel())
	}
	return users, nil
}

// AddDownload appends a download record
func (s *SQLiteDB) AddDownload(ctx context.Context, userID int64, title, artist string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (user_id, track_title, track_artist, download_time) VALUES (?, ?, ?, ?)`,
		userID, title, artist, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add download: %w", err)
	}
	return nil
}

// ListDownloads returns all downloads ordered by ID
func (s *SQLiteDB) ListDownloads(ctx context.Context) ([]models.Download, error) {
	var rows []downloadRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, user_id, track_title, track_artist, download_time
		FROM downloads ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}

	downloads := make([]models.Download, 0, len(rows))
	for _, r := range rows {
		downloads = append(downloads, r.toModel())
	}
	return downloads, nil
}

// CountUserDownloads returns the number of downloads by one user
func (s *SQLiteDB) CountUserDownloads(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM downloads WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("failed to count downloads: %w", err)
	}
	return count, nil
}

// GetStats returns aggregate statistics
func (s *SQLiteDB) GetStats(ctx context.Context, activeSince time.Time) (models.Stats, error) {
	var stats models.Stats
	if err := s.db.GetContext(ctx, &stats.TotalUsers, `SELECT COUNT(*) FROM users`); err != nil {
		return stats, fmt.Errorf("failed to count users: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.TotalDownloads, `SELECT COUNT(*) FROM downloads`); err != nil {
		return stats, fmt.Errorf("failed to count downloads: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.ActiveUsersWeek,
		`SELECT COUNT(*) FROM users WHERE last_activity >= ?`, activeSince.UTC()); err != nil {
		return stats, fmt.Errorf("failed to count active users: %w", err)
	}
	return stats, nil
}

// ClearUsers removes all users
func (s *SQLiteDB) ClearUsers(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	return nil
}

// ClearDownloads removes all downloads
func (s *SQLiteDB) ClearDownloads(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM downloads`); err != nil {
		return fmt.Errorf("failed to clear downloads: %w", err)
	}
	return nil
}

// BulkInsertUsers inserts users in one transaction, keeping their IDs
func (s *SQLiteDB) BulkInsertUsers(ctx context.Context, users []models.User) (int, error) {
	return s.bulkInsert(ctx, `INSERT OR REPLACE INTO users
		(user_id, username, first_name, last_name, is_admin, registered_at, last_activity)
		VALUES (:user_id, :username, :first_name, :last_name, :is_admin, :registered_at, :last_activity)`,
		len(users), func(i int) interface{} { return utcUser(users[i]) })
}

// BulkInsertDownloads inserts downloads in one transaction, keeping their IDs
func (s *SQLiteDB) BulkInsertDownloads(ctx context.Context, downloads []models.Download) (int, error) {
	return s.bulkInsert(ctx, `INSERT OR REPLACE INTO downloads
		(id, user_id, track_title, track_artist, download_time)
		VALUES (:id, :user_id, :track_title, :track_artist, :download_time)`,
		len(downloads), func(i int) interface{} {
			d := downloads[i]
			d.DownloadTime = d.DownloadTime.UTC()
			return d
		})
}

func (s *SQLiteDB) bulkInsert(ctx context.Context, query string, n int, row func(i int) interface{}) (int, error) {
	if n == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)); err != nil {
			return 0, fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bulk insert: %w", err)
	}
	return n, nil
}

func utcUser(u models.User) models.User {
	u.RegisteredAt = u.RegisteredAt.UTC()
	u.LastActivity = u.LastActivity.UTC()
	return u
}

// Close closes the database
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
