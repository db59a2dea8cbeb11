// Package crypto protects license keys at rest. A key is stored twice: sealed with
// AES-256-GCM so an administrator can reveal it later, and as a keyed HMAC-SHA256
// fingerprint so a presented key can be looked up without decrypting every row.
// Both subkeys are derived from one 32-byte master key with HKDF.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short to contain a nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
)

const (
	sealInfo        = "license-console/license-key/seal/v1"
	fingerprintInfo = "license-console/license-key/fingerprint/v1"
)

// KeyCipher seals, opens and fingerprints license keys
type KeyCipher struct {
	sealKey        []byte
	fingerprintKey []byte
}

// NewKeyCipher creates a cipher from a 32-byte master key
func NewKeyCipher(masterKey []byte) (*KeyCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	sealKey, err := deriveKey(masterKey, sealInfo)
	if err != nil {
		return nil, err
	}
	fingerprintKey, err := deriveKey(masterKey, fingerprintInfo)
	if err != nil {
		return nil, err
	}
	return &KeyCipher{sealKey: sealKey, fingerprintKey: fingerprintKey}, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (kc *KeyCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(kc.sealKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns a base64-encoded ciphertext
func (kc *KeyCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := kc.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64-encoded ciphertext and returns the plaintext
func (kc *KeyCipher) Open(encodedCiphertext string) (string, error) {
	if encodedCiphertext == "" {
		return "", nil
	}

	ciphertext, err := base64.URLEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}

	aead, err := kc.aead()
	if err != nil {
		return "", err
	}

	nonceLen := aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return "", ErrCiphertextCorrupted
	}

	plaintext, err := aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Fingerprint returns the hex HMAC-SHA256 of key. Equal keys always produce equal
// fingerprints under the same master key.
func (kc *KeyCipher) Fingerprint(key string) string {
	mac := hmac.New(sha256.New, kc.fingerprintKey)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
