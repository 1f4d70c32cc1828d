package cryptoutil

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/sio"
)

// EncryptedSuffix marks backup files sealed with DARE.
const EncryptedSuffix = ".enc"

// SplitEncrypted reports whether a backup file name is encrypted and returns
// the name without the suffix.
func SplitEncrypted(name string) (string, bool) {
	return strings.CutSuffix(name, EncryptedSuffix)
}

// EncryptWriter seals everything written to it; Close writes the final package.
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encrypt: key must be %d bytes", KeySize)
	}
	return sio.EncryptWriter(w, sio.Config{Key: key})
}

// DecryptReader opens a DARE stream. Tampering surfaces as a read error.
func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	if len(key) != KeySize {
		return nil, errors.New("decrypt: backup is encrypted but no valid key was given")
	}
	return sio.DecryptReader(r, sio.Config{Key: key})
}
