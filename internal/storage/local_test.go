package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rowjay/restorekit/internal/config"
)

func TestLocalPutGetList(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())

	for _, key := range []string{"prod/2024/Contact.csv", "prod/2024/Account.csv", "prod/2024/_backup_manifest.json"} {
		if err := store.Put(ctx, key, strings.NewReader("Id\n"), -1, nil); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "prod/2024")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(infos))
	}
	if infos[0].Key != "prod/2024/Account.csv" || infos[0].Base() != "Account.csv" {
		t.Fatalf("unexpected first key %q", infos[0].Key)
	}

	rc, err := store.Get(ctx, "prod/2024/Account.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "Id\n" {
		t.Fatalf("unexpected content %q", data)
	}

	if _, err := store.Get(ctx, "prod/2024/Missing.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	empty, err := store.List(ctx, "nothing/here")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty listing, got %v %v", empty, err)
	}
}

func TestJoin(t *testing.T) {
	if got := Join("backups/", "", "/prod", "Account.csv"); got != "backups/prod/Account.csv" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLocalPutReplacesWholeFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewLocal(dir)
	key := "prod/2024/_reports/restore.json"

	if err := store.Put(ctx, key, strings.NewReader(`{"status":"partial","objects":[1,2,3]}`), -1, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, key, strings.NewReader(`{}`), -1, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "prod", "2024", "_reports", "restore.json"))
	if err != nil || string(data) != `{}` {
		t.Fatalf("unexpected content %q (%v)", data, err)
	}
	infos, err := store.List(ctx, "prod/2024/_reports")
	if err != nil || len(infos) != 1 {
		t.Fatalf("expected only the report, got %v %v", infos, err)
	}
}

func TestNewStorage(t *testing.T) {
	if _, err := New(config.StorageConfig{Backend: "local"}); err == nil {
		t.Fatalf("expected missing path error")
	}
	if _, err := New(config.StorageConfig{Backend: "s3"}); err == nil {
		t.Fatalf("expected missing endpoint error")
	}
	if _, err := New(config.StorageConfig{Backend: "ftp"}); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
	s, err := New(config.StorageConfig{Backend: "s3", S3: config.S3Store{Endpoint: "localhost:9000", Bucket: "backups", ForcePathStyle: true}})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	if s.(*S3).Bucket != "backups" {
		t.Fatalf("unexpected bucket")
	}
}
