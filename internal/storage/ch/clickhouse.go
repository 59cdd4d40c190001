package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"ymbot/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseDB is a row store backed by ClickHouse. Users live in a
// ReplacingMergeTree keyed by user_id, so updates are new row versions.
type ClickHouseDB struct {
	conn clickhouse.Conn

	// guards download ID allocation; the bot runs as a single process
	idMu sync.Mutex
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// Tables are managed via cmd/migrate (see migrations/clickhouse)
	return nil
}

func version() uint64 {
	return uint64(time.Now().UnixNano())
}

func (db *ClickHouseDB) insertUser(ctx context.Context, u models.User) error {
	err := db.conn.Exec(ctx, `INSERT INTO users
		(user_id, username, first_name, last_name, is_admin, registered_at, last_activity, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FirstName, u.LastName, u.IsAdmin, u.RegisteredAt.UTC(), u.LastActivity.UTC(), version())
	if err != nil {
		return fmt.Errorf("failed to write user: %w", err)
	}
	return nil
}

// UpsertUser registers a user on first sight or writes a refreshed row version
func (db *ClickHouseDB) UpsertUser(ctx context.Context, info models.UserInfo, autoAdminID int64) (models.User, bool, error) {
	now := time.Now().UTC()

	existing, err := db.GetUser(ctx, info.ID)
	if err != nil {
		return models.User{}, false, err
	}

	created := existing == nil
	user := models.User{
		ID:           info.ID,
		IsAdmin:      autoAdminID != 0 && info.ID == autoAdminID,
		RegisteredAt: now,
	}
	if !created {
		user = *existing
	}
	user.Username = info.Username
	user.FirstName = info.FirstName
	user.LastName = info.LastName
	user.LastActivity = now

	if err := db.insertUser(ctx, user); err != nil {
		return models.User{}, false, err
	}
	return user, created, nil
}

// TouchUser updates the last activity timestamp
func (db *ClickHouseDB) TouchUser(ctx context.Context, userID int64) error {
	user, err := db.GetUser(ctx, userID)
	if err != nil || user == nil {
		return err
	}
	user.LastActivity = time.Now().UTC()
	return db.insertUser(ctx, *user)
}

// GetUser returns the latest version of a user or nil
func (db *ClickHouseDB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	rows, err := db.conn.Query(ctx, `SELECT user_id, username, first_name, last_name, is_admin, registered_at, last_activity
		FROM users FINAL WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var u models.User
	if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.IsAdmin, &u.RegisteredAt, &u.LastActivity); err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// IsAdmin reports whether the user has the admin flag
func (db *ClickHouseDB) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	user, err := db.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user != nil && user.IsAdmin, nil
}

// SetAdmin sets or clears the admin flag
func (db *ClickHouseDB) SetAdmin(ctx context.Context, userID int64, isAdmin bool) (bool, error) {
	user, err := db.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	user.IsAdmin = isAdmin
	if err := db.insertUser(ctx, *user); err != nil {
		return false, err
	}
	return true, nil
}

// ListUsers returns all users ordered by ID
func (db *ClickHouseDB) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.conn.Query(ctx, `SELECT user_id, username, first_name, last_name, is_admin, registered_at, last_activity
		FROM users FINAL ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.IsAdmin, &u.RegisteredAt, &u.LastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// AddDownload appends a download record with the next free ID
func (db *ClickHouseDB) AddDownload(ctx context.Context, userID int64, title, artist string) error {
	db.idMu.Lock()
	defer db.idMu.Unlock()

	var maxID int64
	if err := db.conn.QueryRow(ctx, `SELECT max(id) FROM downloads`).Scan(&maxID); err != nil {
		return fmt.Errorf("failed to allocate download id: %w", err)
	}

	err := db.conn.Exec(ctx, `INSERT INTO downloads (id, user_id, track_title, track_artist, download_time) VALUES (?, ?, ?, ?, ?)`,
		maxID+1, userID, title, artist, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add download: %w", err)
	}
	return nil
}

// ListDownloads returns all downloads ordered by ID
func (db *ClickHouseDB) ListDownloads(ctx context.Context) ([]models.Download, error) {
	rows, err := db.conn.Query(ctx, `SELECT id, user_id, track_title, track_artist, download_time FROM downloads ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	var downloads []models.Download
	for rows.Next() {
		var d models.Download
		if err := rows.Scan(&d.ID, &d.UserID, &d.TrackTitle, &d.TrackArtist, &d.DownloadTime); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// CountUserDownloads returns the number of downloads by one user
func (db *ClickHouseDB) CountUserDownloads(ctx context.Context, userID int64) (int, error) {
	var count uint64
	if err := db.conn.QueryRow(ctx, `SELECT count() FROM downloads WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count downloads: %w", err)
	}
	return int(count), nil
}

// GetStats returns aggregate statistics
func (db *ClickHouseDB) GetStats(ctx context.Context, activeSince time.Time) (models.Stats, error) {
	var users, downloads, active uint64

	if err := db.conn.QueryRow(ctx, `SELECT count() FROM users FINAL`).Scan(&users); err != nil {
		return models.Stats{}, fmt.Errorf("failed to count users: %w", err)
	}
	if err := db.conn.QueryRow(ctx, `SELECT count() FROM downloads`).Scan(&downloads); err != nil {
		return models.Stats{}, fmt.Errorf("failed to count downloads: %w", err)
	}
	if err := db.conn.QueryRow(ctx, `SELECT count() FROM users FINAL WHERE last_activity >= ?`, activeSince.UTC()).Scan(&active); err != nil {
		return models.Stats{}, fmt.Errorf("failed to count active users: %w", err)
	}

	return models.Stats{
		TotalUsers:      int(users),
		TotalDownloads:  int(downloads),
		ActiveUsersWeek: int(active),
	}, nil
}

// ClearUsers removes all users
func (db *ClickHouseDB) ClearUsers(ctx context.Context) error {
	if err := db.conn.Exec(ctx, `TRUNCATE TABLE users`); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	return nil
}

// ClearDownloads removes all downloads
func (db *ClickHouseDB) ClearDownloads(ctx context.Context) error {
	if err := db.conn.Exec(ctx, `TRUNCATE TABLE downloads`); err != nil {
		return fmt.Errorf("failed to clear downloads: %w", err)
	}
	return nil
}

// BulkInsertUsers writes all users in a single batch
func (db *ClickHouseDB) BulkInsertUsers(ctx context.Context, users []models.User) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO users
		(user_id, username, first_name, last_name, is_admin, registered_at, last_activity, version)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare users batch: %w", err)
	}
	defer func() { _ = batch.Abort() }()

	v := version()
	for _, u := range users {
		if err := batch.Append(u.ID, u.Username, u.FirstName, u.LastName, u.IsAdmin, u.RegisteredAt.UTC(), u.LastActivity.UTC(), v); err != nil {
			return 0, fmt.Errorf("failed to append user %d: %w", u.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send users batch: %w", err)
	}
	return len(users), nil
}

// BulkInsertDownloads writes all downloads in a single batch
func (db *ClickHouseDB) BulkInsertDownloads(ctx context.Context, downloads []models.Download) (int, error) {
	if len(downloads) == 0 {
		return 0, nil
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO downloads (id, user_id, track_title, track_artist, download_time)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare downloads batch: %w", err)
	}
	defer func() { _ = batch.Abort() }()

	for _, d := range downloads {
		if err := batch.Append(d.ID, d.UserID, d.TrackTitle, d.TrackArtist, d.DownloadTime.UTC()); err != nil {
			return 0, fmt.Errorf("failed to append download %d: %w", d.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send downloads batch: %w", err)
	}
	return len(downloads), nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
