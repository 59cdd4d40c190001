package backup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"ymbot/internal/models"
)

// ErrValidation matches every *ValidationError via errors.Is
var ErrValidation = errors.New("invalid backup document")

// ValidationError reports a malformed or mismatched backup document
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid backup document: " + e.Reason
	}
	return fmt.Sprintf("invalid backup document %s: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(path, format string, args ...interface{}) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Load reads the document at path and returns its rows. The document must
// declare the expected table and carry a rows array, which may be empty.
func Load(path, expectedTable string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	return Parse(data, path, expectedTable)
}

// Parse validates an in-memory document; path is only used in error messages
func Parse(data []byte, path, expectedTable string) ([]json.RawMessage, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !json.Valid(data) {
		return nil, invalid(path, "content is not valid JSON")
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalid(path, "expected a JSON object at the top level")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return nil, invalid(path, "expected a JSON object at the top level")
	}

	var table string
	if raw, ok := top["table"]; ok {
		if err := json.Unmarshal(raw, &table); err != nil {
			table = string(raw)
		}
	}
	if table != expectedTable {
		return nil, invalid(path, "document is for table %q, expected %q", table, expectedTable)
	}

	rawRows, ok := top["rows"]
	if !ok || string(bytes.TrimSpace(rawRows)) == "null" {
		return nil, invalid(path, "missing %q key", "rows")
	}
	rawRows = bytes.TrimSpace(rawRows)
	if len(rawRows) == 0 || rawRows[0] != '[' {
		return nil, invalid(path, "%q must be an array", "rows")
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(rawRows, &rows); err != nil {
		return nil, invalid(path, "%q must be an array", "rows")
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return rows, nil
}

// flexBool accepts true/false as well as the 0/1 integers older dumps contain
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "null", "", "false", "0":
		*b = false
		return nil
	case "true", "1":
		*b = true
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cannot use %s as a boolean", data)
	}
	*b = n != 0
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// flexTime accepts RFC3339 and the naive sqlite timestamp formats; naive values are UTC
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = flexTime(time.Time{})
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("cannot use %s as a timestamp", data)
	}
	if s == "" {
		*t = flexTime(time.Time{})
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexTime(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

type userRecord struct {
	ID           *int64   `json:"user_id"`
	Username     *string  `json:"username"`
	FirstName    *string  `json:"first_name"`
	LastName     *string  `json:"last_name"`
	IsAdmin      flexBool `json:"is_admin"`
	RegisteredAt flexTime `json:"registered_at"`
	LastActivity flexTime `json:"last_activity"`
}

type downloadRecord struct {
	ID           *int64   `json:"id"`
	UserID       *int64   `json:"user_id"`
	TrackTitle   *string  `json:"track_title"`
	TrackArtist  *string  `json:"track_artist"`
	DownloadTime flexTime `json:"download_time"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DecodeUsers converts loaded rows into user records
func DecodeUsers(rows []json.RawMessage) ([]models.User, error) {
	users := make([]models.User, 0, len(rows))
	for i, raw := range rows {
		var rec userRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, invalid("", "users row %d: %v", i, err)
		}
		if rec.ID == nil {
			return nil, invalid("", "users row %d: missing %q", i, "user_id")
		}
		users = append(users, models.User{
			ID:           *rec.ID,
			Username:     deref(rec.Username),
			FirstName:    deref(rec.FirstName),
			LastName:     deref(rec.LastName),
			IsAdmin:      bool(rec.IsAdmin),
			RegisteredAt: time.Time(rec.RegisteredAt),
			LastActivity: time.Time(rec.LastActivity),
		})
	}
	return users, nil
}

// DecodeDownloads converts loaded rows into download records
func DecodeDownloads(rows []json.RawMessage) ([]models.Download, error) {
	downloads := make([]models.Download, 0, len(rows))
	for i, raw := range rows {
		var rec downloadRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, invalid("", "downloads row %d: %v", i, err)
		}
		if rec.ID == nil || *rec.ID <= 0 {
			return nil, invalid("", "downloads row %d: missing or invalid %q", i, "id")
		}
		var userID int64
		if rec.UserID != nil {
			userID = *rec.UserID
		}
		downloads = append(downloads, models.Download{
			ID:           *rec.ID,
			UserID:       userID,
			TrackTitle:   deref(rec.TrackTitle),
			TrackArtist:  deref(rec.TrackArtist),
			DownloadTime: time.Time(rec.DownloadTime),
		})
	}
	return downloads, nil
}
