// Package crypto implements the credential vault: authenticated symmetric
// encryption for upstream mailbox passwords.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"

	"mailbridge/pkg/apperr"
)

const (
	saltSize = 16
	ivSize   = 12
	tagSize  = 16
	keySize  = 32

	// scrypt parameters
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Vault encrypts and decrypts credentials with AES-256-GCM. The key is
// derived per ciphertext from the master secret and a fresh salt, so no
// long-lived key material sits in memory between calls.
type Vault struct {
	master []byte
}

// NewVault creates a vault from the master secret. A secret shorter than
// 32 characters is a fatal configuration error.
func NewVault(masterSecret string) (*Vault, error) {
	if len(masterSecret) < 32 {
		return nil, apperr.ConfigError("encryption key must be at least 32 characters")
	}
	return &Vault{master: []byte(masterSecret)}, nil
}

func (v *Vault) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key(v.master, salt, scryptN, scryptR, scryptP, keySize)
}

// Encrypt seals plaintext and returns "salt:iv:tag:ct" with base64-encoded
// segments. Salt and IV are fresh per call.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	key, err := v.deriveKey(salt)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(salt),
		enc.EncodeToString(iv),
		enc.EncodeToString(tag),
		enc.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens a "salt:iv:tag:ct" ciphertext. Any malformed segment or
// authentication failure yields CREDENTIAL_TAMPERED.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 4 {
		return "", apperr.CredentialTampered(fmt.Errorf("expected 4 segments, got %d", len(parts)))
	}

	enc := base64.StdEncoding
	segments := make([][]byte, 4)
	for i, p := range parts {
		data, err := enc.DecodeString(p)
		if err != nil {
			return "", apperr.CredentialTampered(fmt.Errorf("segment %d: %w", i, err))
		}
		segments[i] = data
	}
	salt, iv, tag, ct := segments[0], segments[1], segments[2], segments[3]

	if len(salt) != saltSize || len(iv) != ivSize || len(tag) != tagSize {
		return "", apperr.CredentialTampered(fmt.Errorf("bad segment lengths"))
	}

	key, err := v.deriveKey(salt)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", apperr.CredentialTampered(err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
