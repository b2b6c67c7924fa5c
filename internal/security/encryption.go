package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"clinicrew/internal/domain"
)

const (
	encPrefix = "enc:v1:"
	saltSize  = 16
)

// AESContentEncryptor implements domain.ContentEncryptor with AES-256-GCM.
// Keys are derived from a passphrase via Argon2id. Each ciphertext carries
// its salt, so data written by an earlier process stays readable.
type AESContentEncryptor struct {
	passphrase []byte
	salt       []byte

	mu   sync.Mutex
	keys map[string][]byte // salt -> derived key
}

var _ domain.ContentEncryptor = (*AESContentEncryptor)(nil)

// NewAESContentEncryptor creates an encryptor from a passphrase.
func NewAESContentEncryptor(passphrase string) (*AESContentEncryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase must not be empty", domain.ErrEncryption)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: generate salt: %v", domain.ErrEncryption, err)
	}

	return &AESContentEncryptor{
		passphrase: []byte(passphrase),
		salt:       salt,
		keys:       make(map[string][]byte),
	}, nil
}

// Encrypt returns "enc:v1:" + base64(salt + nonce + ciphertext).
func (e *AESContentEncryptor) Encrypt(plaintext string) (string, error) {
	gcm, err := e.gcm(e.salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", domain.ErrEncryption, err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, e.salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Input without the prefix is returned as-is.
func (e *AESContentEncryptor) Decrypt(ciphertext string) (string, error) {
	if !e.IsEncrypted(ciphertext) {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", domain.ErrDecryption, err)
	}
	if len(data) < saltSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	gcm, err := e.gcm(data[:saltSize])
	if err != nil {
		return "", err
	}
	data = data[saltSize:]

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether s carries the encrypted marker.
func (e *AESContentEncryptor) IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

// Zeroize clears the passphrase and cached keys. Call on shutdown.
func (e *AESContentEncryptor) Zeroize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.passphrase)
	for _, k := range e.keys {
		clear(k)
	}
	clear(e.keys)
}

func (e *AESContentEncryptor) gcm(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key(salt))
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", domain.ErrEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: create gcm: %v", domain.ErrEncryption, err)
	}
	return gcm, nil
}

// key derives (or returns the cached) 32-byte key for salt.
func (e *AESContentEncryptor) key(salt []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if k, ok := e.keys[string(salt)]; ok {
		return k
	}
	k := argon2.IDKey(e.passphrase, salt, 1, 64*1024, 4, 32)
	e.keys[string(salt)] = k
	return k
}
