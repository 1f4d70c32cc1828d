package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/rowjay/restorekit/internal/config"
)

type Lock struct {
	file *flock.Flock
}

// PathFor returns the lock file used for restores into the given target.
// An explicit path wins over the derived one.
func PathFor(explicit string, target config.TargetConfig) string {
	if explicit != "" {
		return explicit
	}
	identity := strings.Join([]string{target.Type, target.URL, target.Host, fmt.Sprint(target.Port), target.Database, target.Schema, target.SQLitePath}, "|")
	sum := sha256.Sum256([]byte(identity))
	return filepath.Join(os.TempDir(), "rkit-"+hex.EncodeToString(sum[:6])+".lock")
}

// Acquire obtains a filesystem lock to prevent overlapping restores.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "rkit.lock")
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another restore into this target is already running (lock: %s)", path)
	}
	return &Lock{file: lock}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
