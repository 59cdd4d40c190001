package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ymbot/internal/models"
	"ymbot/internal/storage/stubs"
)

func seededStore(t *testing.T) *stubs.MockDB {
	t.Helper()
	db := stubs.NewMockDB()
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := db.BulkInsertUsers(ctx, []models.User{
		{ID: 1, Username: "admin", FirstName: "Иван", IsAdmin: true, RegisteredAt: ts, LastActivity: ts},
		{ID: 2, Username: "guest", LastName: "🎵", RegisteredAt: ts, LastActivity: ts.Add(time.Hour)},
	})
	require.NoError(t, err)
	_, err = db.BulkInsertDownloads(ctx, []models.Download{
		{ID: 1, UserID: 1, TrackTitle: "Кино", TrackArtist: "Группа крови", DownloadTime: ts},
		{ID: 2, UserID: 2, TrackTitle: "unknown", TrackArtist: "unknown", DownloadTime: ts},
		{ID: 3, UserID: 2, TrackTitle: "Song", TrackArtist: "Band", DownloadTime: ts},
	})
	require.NoError(t, err)
	return db
}

func TestExport_RoundTrip(t *testing.T) {
	db := seededStore(t)
	ctx := context.Background()

	files, err := Export(ctx, db, t.TempDir())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 2, files[models.TableUsers].Count)
	assert.Equal(t, 3, files[models.TableDownloads].Count)

	rows, err := Load(files[models.TableUsers].Path, models.TableUsers)
	require.NoError(t, err)
	users, err := DecodeUsers(rows)
	require.NoError(t, err)
	expectedUsers, _ := db.ListUsers(ctx)
	assert.Equal(t, expectedUsers, users)

	rows, err = Load(files[models.TableDownloads].Path, models.TableDownloads)
	require.NoError(t, err)
	downloads, err := DecodeDownloads(rows)
	require.NoError(t, err)
	expectedDownloads, _ := db.ListDownloads(ctx)
	assert.Equal(t, expectedDownloads, downloads)
}

func TestExport_DocumentFormat(t *testing.T) {
	db := seededStore(t)

	files, err := Export(context.Background(), db, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(files[models.TableUsers].Path)
	require.NoError(t, err)

	for _, b := range data {
		require.Less(t, b, byte(0x80), "document must be ASCII only")
	}
	assert.Contains(t, string(data), `\u0418\u0432\u0430\u043d`)
	assert.Contains(t, string(data), `\ud83c\udfb5`)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "users", doc["table"])
	assert.EqualValues(t, 1, doc["version"])
	_, err = time.Parse(time.RFC3339Nano, doc["generated_at"].(string))
	assert.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(files[models.TableUsers].Path), "users_backup_"))
	assert.True(t, strings.HasPrefix(filepath.Base(files[models.TableDownloads].Path), "downloads_backup_"))
}

func TestExport_EmptyStoreWritesEmptyRows(t *testing.T) {
	files, err := Export(context.Background(), stubs.NewMockDB(), t.TempDir())
	require.NoError(t, err)

	rows, err := Load(files[models.TableDownloads].Path, models.TableDownloads)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestExport_DistinctNamesInSameDirectory(t *testing.T) {
	db := seededStore(t)
	dir := t.TempDir()

	first, err := Export(context.Background(), db, dir)
	require.NoError(t, err)
	second, err := Export(context.Background(), db, dir)
	require.NoError(t, err)

	assert.NotEqual(t, first[models.TableUsers].Path, second[models.TableUsers].Path)
}

func TestCleanup_RemovesTempDirectory(t *testing.T) {
	files, err := Export(context.Background(), seededStore(t), "")
	require.NoError(t, err)

	dir := filepath.Dir(files[models.TableUsers].Path)
	_, err = os.Stat(dir)
	require.NoError(t, err)

	Cleanup(files, nil)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestExport_WriteFailureRemovesTempDirectory(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	diskFull := errors.New("no space left on device")
	writeFile = func(string, []byte, os.FileMode) error { return diskFull }
	t.Cleanup(func() { writeFile = os.WriteFile })

	_, err := Export(context.Background(), seededStore(t), "")
	require.ErrorIs(t, err, diskFull)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanup_NeverFails(t *testing.T) {
	assert.NotPanics(t, func() {
		Cleanup(nil, nil)
		Cleanup(Files{
			models.TableUsers: {Path: "/nonexistent/dir/users.json"},
		}, nil)
	})
}

func TestCleanup_KeepsCallerDirectoryWithOtherFiles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o600))

	files, err := Export(context.Background(), seededStore(t), dir)
	require.NoError(t, err)
	Cleanup(files, nil)

	_, err = os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(files[models.TableUsers].Path)
	assert.True(t, os.IsNotExist(err))
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_TableMismatch(t *testing.T) {
	files, err := Export(context.Background(), seededStore(t), t.TempDir())
	require.NoError(t, err)

	_, err = Load(files[models.TableUsers].Path, models.TableDownloads)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Load(files[models.TableDownloads].Path, models.TableUsers)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoad_ValidationFailures(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "this is not json"},
		{name: "top level array", content: `[{"table":"users","rows":[]}]`},
		{name: "top level scalar", content: `42`},
		{name: "missing table", content: `{"rows":[]}`},
		{name: "missing rows", content: `{"table":"users","version":1}`},
		{name: "null rows", content: `{"table":"users","rows":null}`},
		{name: "scalar rows", content: `{"table":"users","rows":5}`},
		{name: "object rows", content: `{"table":"users","rows":{"a":1}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeDoc(t, tc.content), models.TableUsers)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "expected validation error, got %v", err)

			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestLoad_AcceptsEmptyRows(t *testing.T) {
	rows, err := Load(writeDoc(t, `{"table":"downloads","version":1,"rows":[]}`), models.TableDownloads)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoad_MissingFileIsNotValidationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), models.TableUsers)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestDecodeUsers_LegacyRows(t *testing.T) {
	rows, err := Parse([]byte(`{"table":"users","rows":[
		{"user_id": 7, "username": null, "first_name": "A", "last_name": null, "is_admin": 1,
		 "registered_at": "2024-01-02 03:04:05.123456", "last_activity": null}
	]}`), "", models.TableUsers)
	require.NoError(t, err)

	users, err := DecodeUsers(rows)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(7), users[0].ID)
	assert.True(t, users[0].IsAdmin)
	assert.Equal(t, "", users[0].Username)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC), users[0].RegisteredAt)
	assert.True(t, users[0].LastActivity.IsZero())
}

func TestDecodeUsers_RejectsRowWithoutID(t *testing.T) {
	_, err := DecodeUsers([]json.RawMessage{json.RawMessage(`{"username":"x"}`)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDecodeDownloads_RejectsNonObjectRow(t *testing.T) {
	_, err := DecodeDownloads([]json.RawMessage{json.RawMessage(`"row"`)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRestoreUsers_ReplacesTable(t *testing.T) {
	db := seededStore(t)
	ctx := context.Background()

	rows, err := Parse([]byte(`{"table":"users","rows":[{"user_id":99,"username":"new"}]}`), "", models.TableUsers)
	require.NoError(t, err)

	n, err := RestoreUsers(ctx, db, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	users, _ := db.ListUsers(ctx)
	require.Len(t, users, 1)
	assert.Equal(t, int64(99), users[0].ID)
}

func TestRestoreUsers_ClearFailureAbortsBeforeInsert(t *testing.T) {
	db := seededStore(t)
	db.FailOn("ClearUsers", true)
	ctx := context.Background()

	rows := []json.RawMessage{json.RawMessage(`{"user_id":99}`)}
	_, err := RestoreUsers(ctx, db, rows)
	require.Error(t, err)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "clear users", storeErr.Op)
	assert.ErrorIs(t, err, stubs.ErrInjected)

	users, _ := db.ListUsers(ctx)
	assert.Len(t, users, 2, "store must not be modified")
}

func TestRestoreDownloads_InvalidRowsLeaveStoreUntouched(t *testing.T) {
	db := seededStore(t)
	ctx := context.Background()

	_, err := RestoreDownloads(ctx, db, []json.RawMessage{json.RawMessage(`{"track_title":"no id"}`)})
	assert.ErrorIs(t, err, ErrValidation)

	downloads, _ := db.ListDownloads(ctx)
	assert.Len(t, downloads, 3)
}

func TestRestore_UnknownTable(t *testing.T) {
	_, err := Restore(context.Background(), stubs.NewMockDB(), "playlists", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEscapeNonASCII(t *testing.T) {
	assert.Equal(t, `"a\u00e9b"`, string(escapeNonASCII([]byte(`"aéb"`))))
	assert.Equal(t, `"\ud83d\ude00"`, string(escapeNonASCII([]byte(`"😀"`))))
	assert.Equal(t, `{"k":1}`, string(escapeNonASCII([]byte(`{"k":1}`))))
}
