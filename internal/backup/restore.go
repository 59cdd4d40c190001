package backup

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"ymbot/internal/models"
)

// Target is the write side of the row store used by restore
type Target interface {
	ClearUsers(ctx context.Context) error
	ClearDownloads(ctx context.Context) error
	BulkInsertUsers(ctx context.Context, users []models.User) (int, error)
	BulkInsertDownloads(ctx context.Context, downloads []models.Download) (int, error)
}

// StoreError wraps a row store failure during restore
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RestoreUsers replaces the users table with rows. Rows are decoded before the
// table is touched; a failed clear aborts before anything is inserted.
func RestoreUsers(ctx context.Context, dst Target, rows []json.RawMessage) (int, error) {
	users, err := DecodeUsers(rows)
	if err != nil {
		return 0, err
	}
	if err := dst.ClearUsers(ctx); err != nil {
		return 0, &StoreError{Op: "clear users", Err: err}
	}
	n, err := dst.BulkInsertUsers(ctx, users)
	if err != nil {
		return 0, &StoreError{Op: "insert users", Err: err}
	}
	return n, nil
}

// RestoreDownloads replaces the downloads table with rows
func RestoreDownloads(ctx context.Context, dst Target, rows []json.RawMessage) (int, error) {
	downloads, err := DecodeDownloads(rows)
	if err != nil {
		return 0, err
	}
	if err := dst.ClearDownloads(ctx); err != nil {
		return 0, &StoreError{Op: "clear downloads", Err: err}
	}
	n, err := dst.BulkInsertDownloads(ctx, downloads)
	if err != nil {
		return 0, &StoreError{Op: "insert downloads", Err: err}
	}
	return n, nil
}

// Restore dispatches to the table-specific restore
func Restore(ctx context.Context, dst Target, table string, rows []json.RawMessage) (int, error) {
	switch table {
	case models.TableUsers:
		return RestoreUsers(ctx, dst, rows)
	case models.TableDownloads:
		return RestoreDownloads(ctx, dst, rows)
	default:
		return 0, invalid("", "unknown table %q", table)
	}
}
