package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length of backup file and config keys.
const KeySize = 32

var ErrEmptyKey = errors.New("encryption key is empty")

// ParseKey decodes a 32 byte key. Keys may carry a "base64:" or "hex:"
// prefix; unprefixed keys are tried as base64, then hex.
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, ErrEmptyKey
	}
	data, err := decodeKey(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("invalid key length: %d (expected %d bytes)", len(data), KeySize)
	}
	return data, nil
}

func decodeKey(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "base64:"); ok {
		return base64.StdEncoding.DecodeString(rest)
	}
	if rest, ok := strings.CutPrefix(s, "hex:"); ok {
		return hex.DecodeString(rest)
	}
	// 64 hex digits are also valid base64.
	if len(s) == 2*KeySize {
		if data, err := hex.DecodeString(s); err == nil {
			return data, nil
		}
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return hex.DecodeString(s)
}
