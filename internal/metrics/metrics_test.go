package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDownload(t *testing.T) {
	before := testutil.ToFloat64(Downloads.WithLabelValues("track", "failure"))
	RecordDownload("track", 2*time.Second, errors.New("unavailable"))
	after := testutil.ToFloat64(Downloads.WithLabelValues("track", "failure"))

	if after != before+1 {
		t.Fatalf("expected failure counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestRecordBackup(t *testing.T) {
	before := testutil.ToFloat64(Backups.WithLabelValues("schedule", "success"))
	RecordBackup("schedule", time.Second, nil)

	if got := testutil.ToFloat64(Backups.WithLabelValues("schedule", "success")); got != before+1 {
		t.Fatalf("expected success counter %v, got %v", before+1, got)
	}
	if testutil.ToFloat64(BackupLastSuccess) == 0 {
		t.Fatal("expected last success timestamp to be set")
	}
}

func TestRecordRestoreStep(t *testing.T) {
	before := testutil.ToFloat64(RestoreSteps.WithLabelValues("users", "skipped"))
	RecordRestoreStep("users", "skipped")

	if got := testutil.ToFloat64(RestoreSteps.WithLabelValues("users", "skipped")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}
