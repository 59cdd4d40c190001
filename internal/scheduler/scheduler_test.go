package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ymbot/internal/backup"
	"ymbot/internal/models"
	"ymbot/internal/storage/stubs"
)

// Tuesday
var tuesday = time.Date(2024, 5, 7, 15, 0, 0, 0, time.UTC)

func TestBuildSchedule_InvalidExpressionFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	for _, expr := range []string{"0 0 9 * * 1", "not a cron", ""} {
		sched, loc := BuildSchedule(expr, "UTC", zap.New(core))
		require.NotNil(t, sched)
		assert.Equal(t, time.UTC, loc)
		assert.Equal(t, time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC), sched.Next(tuesday), expr)
	}

	assert.Equal(t, 3, logs.FilterMessage("Invalid backup schedule, using default").Len())
}

func TestBuildSchedule_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	_, loc := BuildSchedule(DefaultSchedule, "Mars/Olympus_Mons", zap.New(core))
	assert.Equal(t, time.UTC, loc)
	assert.Equal(t, 1, logs.FilterMessage("Unknown backup timezone, using UTC").Len())
}

func TestTrigger_NextUsesTimezone(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skip("tzdata not available")
	}

	tr := New(Config{Schedule: "30 8 * * *", Timezone: "Europe/Moscow"}, nil, zap.NewNop())
	next := tr.Next(tuesday)
	assert.Equal(t, time.Date(2024, 5, 8, 8, 30, 0, 0, moscow).UTC(), next.UTC())
}

func TestTrigger_PlanCoalescesMissedFirings(t *testing.T) {
	tr := New(Config{Schedule: "0 * * * *", MisfireGrace: time.Hour}, nil, zap.NewNop())

	anchor := time.Date(2024, 5, 7, 10, 0, 0, 0, time.UTC)
	now := time.Date(2024, 5, 7, 12, 30, 0, 0, time.UTC)

	due, stale := tr.plan(anchor, now)
	assert.Equal(t, time.Date(2024, 5, 7, 12, 0, 0, 0, time.UTC), due)
	assert.True(t, stale.IsZero())
}

func TestTrigger_PlanHonoursGraceWindow(t *testing.T) {
	tr := New(Config{Schedule: DefaultSchedule, MisfireGrace: time.Hour}, nil, zap.NewNop())
	lastWeek := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	missed := time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC)

	due, stale := tr.plan(lastWeek, missed.Add(30*time.Minute))
	assert.Equal(t, missed, due)
	assert.True(t, stale.IsZero())

	due, stale = tr.plan(lastWeek, missed.Add(time.Hour))
	assert.Equal(t, missed, due, "a firing exactly at the grace boundary still runs")
	assert.True(t, stale.IsZero())

	due, stale = tr.plan(lastWeek, missed.Add(2*time.Hour))
	assert.True(t, due.IsZero())
	assert.Equal(t, missed, stale)

	due, stale = tr.plan(missed, missed.Add(2*time.Hour))
	assert.True(t, due.IsZero())
	assert.True(t, stale.IsZero())
}

func TestTrigger_PlanLongDowntimeCollapsesToLatestStale(t *testing.T) {
	tr := New(Config{Schedule: DefaultSchedule}, nil, zap.NewNop())
	anchor := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)

	due, stale := tr.plan(anchor, now)
	assert.True(t, due.IsZero())
	assert.Equal(t, time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC), stale)
}

func TestTrigger_FireSuppressesOverlap(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	tr := New(Config{}, func(ctx context.Context, due time.Time) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, tr.Fire(context.Background(), tuesday))
	}()

	<-started
	assert.True(t, tr.Running())
	err := tr.Fire(context.Background(), tuesday.Add(time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, tr.Running())
}

func TestTrigger_FireReturnsJobError(t *testing.T) {
	boom := errors.New("export failed")
	tr := New(Config{}, func(context.Context, time.Time) error { return boom }, zap.NewNop())

	assert.ErrorIs(t, tr.Fire(context.Background(), tuesday), boom)
	assert.False(t, tr.Running())
}

func writeState(t *testing.T, path string, due time.Time) {
	t.Helper()
	data, err := json.Marshal(stateDoc{LastDue: due})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func readState(t *testing.T, path string) time.Time {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}
	}
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return time.Time{}
	}
	return doc.LastDue
}

func TestTrigger_ServeCatchesUpWithinGrace(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state", "backup.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(statePath), 0o755))
	writeState(t, statePath, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))

	fired := make(chan time.Time, 4)
	tr := New(Config{StatePath: statePath}, func(ctx context.Context, due time.Time) error {
		fired <- due
		return nil
	}, zap.NewNop())
	tr.now = func() time.Time { return time.Date(2024, 5, 13, 9, 20, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx) }()

	select {
	case due := <-fired:
		assert.Equal(t, time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC), due.UTC())
	case <-time.After(5 * time.Second):
		t.Fatal("missed firing was not caught up")
	}

	require.Eventually(t, func() bool {
		return readState(t, statePath).Equal(time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC))
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, fired, 0, "only one catch-up run")
}

func TestTrigger_ServeSkipsBeyondGrace(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "backup.json")
	writeState(t, statePath, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))

	var runs atomic.Int32
	tr := New(Config{StatePath: statePath}, func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	}, zap.NewNop())
	tr.now = func() time.Time { return time.Date(2024, 5, 13, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return readState(t, statePath).Equal(time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC))
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, int32(0), runs.Load())
}

func TestTrigger_ServeFreshStartDoesNotFire(t *testing.T) {
	var runs atomic.Int32
	tr := New(Config{}, func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	}, zap.NewNop())
	tr.now = func() time.Time { return time.Date(2024, 5, 13, 9, 20, 0, 0, time.UTC) }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Serve(ctx), context.DeadlineExceeded)
	assert.Equal(t, int32(0), runs.Load())
}

type sentDocument struct {
	chatID  int64
	path    string
	caption string
	existed bool
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentDocument
	err  error
}

func (f *fakeSender) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, statErr := os.Stat(path)
	f.sent = append(f.sent, sentDocument{chatID: chatID, path: path, caption: caption, existed: statErr == nil})
	return f.err
}

func TestExportJob_SendsBothDocumentsAndCleansUp(t *testing.T) {
	db := stubs.NewMockDB()
	ctx := context.Background()
	_, _, err := db.UpsertUser(ctx, models.UserInfo{ID: 1, Username: "a"}, 0)
	require.NoError(t, err)
	require.NoError(t, db.AddDownload(ctx, 1, "t", "a"))
	require.NoError(t, db.AddDownload(ctx, 1, "t2", "a"))

	sender := &fakeSender{}
	job := ExportJob(db, &backup.Guard{}, sender, 99, zap.NewNop())
	require.NoError(t, job(ctx, tuesday))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(99), sender.sent[0].chatID)
	assert.True(t, sender.sent[0].existed)
	assert.Equal(t, Caption(models.TableUsers, 1), sender.sent[0].caption)
	assert.Contains(t, sender.sent[0].caption, "Пользователи")
	assert.Equal(t, Caption(models.TableDownloads, 2), sender.sent[1].caption)

	for _, doc := range sender.sent {
		_, err := os.Stat(doc.path)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestExportJob_SendFailureStillCleansUp(t *testing.T) {
	boom := errors.New("chat unavailable")
	sender := &fakeSender{err: boom}
	job := ExportJob(stubs.NewMockDB(), nil, sender, 99, nil)

	err := job(context.Background(), tuesday)
	assert.ErrorIs(t, err, boom)
	require.Len(t, sender.sent, 1)

	_, statErr := os.Stat(filepath.Dir(sender.sent[0].path))
	assert.True(t, os.IsNotExist(statErr))
}
