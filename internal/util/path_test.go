package util

import (
	"strings"
	"testing"
	"time"
)

func TestBuildReportKey(t *testing.T) {
	when := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	key := BuildReportKey("backups/prod/20240101", "abc", when, false)
	if !strings.HasPrefix(key, "backups/prod/20240101/_restore_reports/") {
		t.Fatalf("unexpected prefix: %s", key)
	}
	if !strings.HasSuffix(key, "20240101T100000Z_restore_abc.json") {
		t.Fatalf("unexpected suffix: %s", key)
	}
	if !strings.Contains(BuildReportKey("b", "abc", when, true), "_preview_") {
		t.Fatalf("dry run report should be marked as preview")
	}
}

func TestBackupPrefix(t *testing.T) {
	prefix := BackupPrefix("/backups/", "prod/20240101/")
	if prefix != "backups/prod/20240101" {
		t.Fatalf("unexpected prefix: %s", prefix)
	}
	if BackupPrefix("", "prod") != "prod" {
		t.Fatalf("empty storage prefix should be ignored")
	}
}
