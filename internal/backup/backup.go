// Package backup exports the row store to versioned JSON documents and
// restores tables from them.
//
// Each table is written to its own document:
//
//	{ "table": "users", "version": 1, "generated_at": "2024-01-01T09:00:00Z", "rows": [ ... ] }
//
// Documents are UTF-8 with every non-ASCII character escaped.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ymbot/internal/models"
)

// Version is the document format version written by Export
const Version = 1

const tempDirPrefix = "ym_backup_"

// Document is the on-disk representation of one table
type Document struct {
	Table       string      `json:"table"`
	Version     int         `json:"version"`
	GeneratedAt string      `json:"generated_at"`
	Rows        interface{} `json:"rows"`
}

// File describes one exported document
type File struct {
	Path  string
	Count int
}

// Files maps a table name to its exported document
type Files map[string]File

// Source is the read side of the row store used by Export
type Source interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	ListDownloads(ctx context.Context) ([]models.Download, error)
}

// Tables lists the exported tables in restore order
var Tables = []string{models.TableUsers, models.TableDownloads}

// replaced in tests
var (
	now       = time.Now
	writeFile = os.WriteFile
)

// Export writes one document per table into dir, or into a fresh temporary
// directory when dir is empty. Both documents are written or neither is.
func Export(ctx context.Context, src Source, dir string) (_ Files, err error) {
	users, err := src.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	downloads, err := src.ListDownloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloads: %w", err)
	}
	if users == nil {
		users = []models.User{}
	}
	if downloads == nil {
		downloads = []models.Download{}
	}

	if dir == "" {
		dir, err = os.MkdirTemp("", tempDirPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
		defer func() {
			if err != nil {
				_ = os.RemoveAll(dir)
			}
		}()
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	ts := now()
	generatedAt := ts.UTC().Format(time.RFC3339Nano)
	suffix := ts.Format("20060102150405") + "_" + uuid.NewString()[:8]

	payloads := map[string]struct {
		rows  interface{}
		count int
	}{
		models.TableUsers:     {users, len(users)},
		models.TableDownloads: {downloads, len(downloads)},
	}

	files := make(Files, len(Tables))
	for _, table := range Tables {
		p := payloads[table]
		path := filepath.Join(dir, fmt.Sprintf("%s_backup_%s.json", table, suffix))

		doc := Document{
			Table:       table,
			Version:     Version,
			GeneratedAt: generatedAt,
			Rows:        p.rows,
		}
		if err = writeDocument(path, doc); err != nil {
			Cleanup(files, nil)
			return nil, err
		}
		files[table] = File{Path: path, Count: p.count}
	}

	return files, nil
}

func writeDocument(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s backup: %w", doc.Table, err)
	}
	if err := writeFile(path, escapeNonASCII(data), 0o600); err != nil {
		return fmt.Errorf("failed to write %s backup: %w", doc.Table, err)
	}
	return nil
}

// Cleanup removes exported files and their directories. It never fails;
// problems are logged at debug level when a logger is given.
func Cleanup(files Files, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dirs := make(map[string]struct{})
	for table, f := range files {
		dirs[filepath.Dir(f.Path)] = struct{}{}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			logger.Debug("Failed to remove backup file", zap.String("table", table), zap.String("path", f.Path), zap.Error(err))
		}
	}

	for dir := range dirs {
		// only directories this package created are removed wholesale
		if !isTempBackupDir(dir) {
			if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
				logger.Debug("Backup directory left in place", zap.String("path", dir), zap.Error(err))
			}
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Debug("Failed to remove backup directory", zap.String("path", dir), zap.Error(err))
		}
	}
}

func isTempBackupDir(dir string) bool {
	return filepath.Dir(dir) == filepath.Clean(os.TempDir()) &&
		len(filepath.Base(dir)) > len(tempDirPrefix) &&
		filepath.Base(dir)[:len(tempDirPrefix)] == tempDirPrefix
}
