package models

import "time"

// Table names used by the row store and backup documents
const (
	TableUsers     = "users"
	TableDownloads = "downloads"
)

// User represents a bot user
type User struct {
	ID           int64     `json:"user_id" db:"user_id" ch:"user_id"`
	Username     string    `json:"username" db:"username" ch:"username"`
	FirstName    string    `json:"first_name" db:"first_name" ch:"first_name"`
	LastName     string    `json:"last_name" db:"last_name" ch:"last_name"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin" ch:"is_admin"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at" ch:"registered_at"`
	LastActivity time.Time `json:"last_activity" db:"last_activity" ch:"last_activity"`
}

// UserInfo holds the display fields reported by Telegram on every interaction
type UserInfo struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Download represents a single delivered track
type Download struct {
	ID           int64     `json:"id" db:"id" ch:"id"`
	UserID       int64     `json:"user_id" db:"user_id" ch:"user_id"`
	TrackTitle   string    `json:"track_title" db:"track_title" ch:"track_title"`
	TrackArtist  string    `json:"track_artist" db:"track_artist" ch:"track_artist"`
	DownloadTime time.Time `json:"download_time" db:"download_time" ch:"download_time"`
}

// Stats represents aggregate usage statistics
type Stats struct {
	TotalUsers      int
	TotalDownloads  int
	ActiveUsersWeek int
}
