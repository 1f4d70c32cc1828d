package lock

import (
	"path/filepath"
	"testing"

	"github.com/rowjay/restorekit/internal/config"
)

func TestAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rkit.lock")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := Acquire(path); err == nil {
		t.Fatalf("expected second acquire to fail")
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestPathForDistinguishesTargets(t *testing.T) {
	a := PathFor("", config.TargetConfig{Type: "postgres", Host: "db1", Database: "crm"})
	b := PathFor("", config.TargetConfig{Type: "postgres", Host: "db2", Database: "crm"})
	if a == b {
		t.Fatalf("expected distinct lock paths, got %s", a)
	}
	if PathFor("/var/run/rkit.lock", config.TargetConfig{}) != "/var/run/rkit.lock" {
		t.Fatalf("explicit path should win")
	}
}
