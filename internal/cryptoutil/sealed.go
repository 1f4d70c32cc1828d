package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Sealed config layout:
//
//	"RKIT" | version | kdf | salt[16] | nonce[12] | AES-256-GCM ciphertext
//
// The header is authenticated as additional data.
const (
	sealMagic   = "RKIT"
	sealVersion = byte(2)
	saltSize    = 16
	nonceSize   = 12
	headerSize  = len(sealMagic) + 2 + saltSize + nonceSize
)

const (
	kdfRawKey byte = iota
	kdfArgon2id
)

var ErrNotSealed = errors.New("not a sealed rkit config")

// SealConfig encrypts a config file. secret is either a key ParseKey accepts
// or a passphrase, which is stretched with argon2id.
func SealConfig(plain []byte, secret string) ([]byte, error) {
	header := make([]byte, headerSize)
	copy(header, sealMagic)
	header[4] = sealVersion
	if _, err := rand.Read(header[6:]); err != nil {
		return nil, err
	}
	key, kdf, err := deriveKey(secret, header[6:6+saltSize])
	if err != nil {
		return nil, err
	}
	header[5] = kdf
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := header[6+saltSize:]
	return append(header, aead.Seal(nil, nonce, plain, header)...), nil
}

// OpenConfig reverses SealConfig.
func OpenConfig(sealed []byte, secret string) ([]byte, error) {
	if len(sealed) < headerSize || string(sealed[:4]) != sealMagic {
		return nil, ErrNotSealed
	}
	if sealed[4] != sealVersion {
		return nil, fmt.Errorf("unsupported sealed config version %d", sealed[4])
	}
	header := sealed[:headerSize]
	var key []byte
	switch header[5] {
	case kdfRawKey:
		k, err := ParseKey(secret)
		if err != nil {
			return nil, err
		}
		key = k
	case kdfArgon2id:
		if secret == "" {
			return nil, ErrEmptyKey
		}
		key = stretch(secret, header[6:6+saltSize])
	default:
		return nil, fmt.Errorf("unknown key derivation %d", header[5])
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, header[6+saltSize:], sealed[headerSize:], header)
	if err != nil {
		return nil, errors.New("config authentication failed: wrong key or corrupted file")
	}
	return plain, nil
}

func deriveKey(secret string, salt []byte) ([]byte, byte, error) {
	if secret == "" {
		return nil, 0, ErrEmptyKey
	}
	if key, err := ParseKey(secret); err == nil {
		return key, kdfRawKey, nil
	}
	return stretch(secret, salt), kdfArgon2id, nil
}

func stretch(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
