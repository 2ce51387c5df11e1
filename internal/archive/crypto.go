package archive

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the secretbox key length in bytes.
const KeySize = 32

const nonceSize = 24

// ParseKey decodes a hex-encoded 32-byte encryption key.
func ParseKey(hexKey string) (*[KeySize]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ParseKey: decoding hex: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("ParseKey: key is %d bytes, want %d", len(raw), KeySize)
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// seal encrypts plaintext with a fresh random nonce. The nonce is prepended
// to the ciphertext so open needs nothing but the key.
func seal(key *[KeySize]byte, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// open decrypts a payload produced by seal.
func open(key *[KeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("open: payload too short (%d bytes)", len(sealed))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("open: decryption failed (wrong key or corrupted payload)")
	}
	return plaintext, nil
}
