// Package vault encrypts credentials and session blobs at rest with AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

const (
	nonceSize = 12
	tagSize   = 16
)

// Service implements interfaces.CredentialVault.
// Blob layout: base64(nonce(12) || tag(16) || ciphertext).
type Service struct {
	aead cipher.AEAD
}

var _ interfaces.CredentialVault = (*Service)(nil)

// NewService derives the AES-256 key as SHA-256(secret). An empty secret is a
// configuration error; there is no plaintext fallback.
func NewService(secret string) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, &models.ConfigurationError{Field: "vault.secret", Reason: "encryption secret is not set"}
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher block: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Service{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce
func (s *Service) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext; the blob stores it in front
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, nonceSize+tagSize+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt verifies and opens a blob produced by Encrypt
func (s *Service) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", &models.DecryptionError{Reason: "blob is not valid base64", Err: err}
	}
	if len(raw) < nonceSize+tagSize {
		return "", &models.DecryptionError{Reason: fmt.Sprintf("blob too short (%d bytes)", len(raw))}
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ciphertext := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &models.DecryptionError{Reason: "authentication tag mismatch", Err: err}
	}

	return string(plaintext), nil
}

// EncryptCredentials serialises credentials to JSON and seals them
func (s *Service) EncryptCredentials(creds *models.Credentials) (string, error) {
	data, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return s.Encrypt(string(data))
}

// DecryptCredentials opens a credentials blob. Undecodable content is a DecryptionError.
func (s *Service) DecryptCredentials(blob string) (*models.Credentials, error) {
	plaintext, err := s.Decrypt(blob)
	if err != nil {
		return nil, err
	}

	var creds models.Credentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, &models.DecryptionError{Reason: "credentials payload is not valid JSON", Err: err}
	}
	return &creds, nil
}
