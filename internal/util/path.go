package util

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ReportsDir is where restore reports are stored inside a backup set.
const ReportsDir = "_restore_reports"

// BackupPrefix joins the storage prefix and the backup set name.
func BackupPrefix(prefix, backup string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if b := strings.Trim(backup, "/"); b != "" {
		parts = append(parts, b)
	}
	return path.Join(parts...)
}

// BuildReportKey constructs the object key for a restore report.
func BuildReportKey(backupPrefix, runID string, when time.Time, dryRun bool) string {
	kind := "restore"
	if dryRun {
		kind = "preview"
	}
	name := fmt.Sprintf("%s_%s_%s.json", when.UTC().Format("20060102T150405Z"), kind, runID)
	return path.Join(backupPrefix, ReportsDir, name)
}
