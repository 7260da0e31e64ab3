// Package envelope provides authenticated symmetric encryption for key
// material at rest. Every registered credential passes through Seal before
// it reaches a store and through Open only at adapter-call time.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// SaltSize is the minimum argon2id salt length in bytes.
const SaltSize = 16

// argon2id parameters for deriving the sealing key from a passphrase.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	// ErrInvalidKeySize is returned when the sealing key is not 32 bytes.
	ErrInvalidKeySize = errors.New("sealing key must be 32 bytes")

	// ErrShortSalt is returned when a derivation salt is under 16 bytes.
	ErrShortSalt = errors.New("derivation salt must be at least 16 bytes")

	// ErrCiphertextTooShort is returned when a ciphertext cannot contain a
	// nonce.
	ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")

	// ErrSealed is returned when operating on a closed envelope.
	ErrSealed = errors.New("envelope closed")
)

// Envelope seals and opens byte strings with AES-256-GCM. The nonce is
// generated per Seal and prepended to the ciphertext. Safe for concurrent
// use; Close zeroes the key.
type Envelope struct {
	aead   cipher.AEAD
	key    []byte
	closed bool
}

// New creates an envelope from a raw 32-byte key.
func New(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	held := make([]byte, KeySize)
	copy(held, key)

	block, err := aes.NewCipher(held)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing gcm: %w", err)
	}
	return &Envelope{aead: aead, key: held}, nil
}

// NewFromPassphrase derives the sealing key from a passphrase and salt with
// argon2id. The salt is not secret but must be stable across restarts, or
// previously sealed material becomes unopenable.
func NewFromPassphrase(passphrase string, salt []byte) (*Envelope, error) {
	if len(salt) < SaltSize {
		return nil, ErrShortSalt
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize)
	return New(key)
}

// GenerateKey returns a fresh random 32-byte sealing key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// GenerateSalt returns a fresh random derivation salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext. Output layout: nonce || ciphertext || tag.
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrSealed
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. Authentication failure returns an
// error without revealing anything about the plaintext.
func (e *Envelope) Open(sealed []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrSealed
	}
	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening envelope: %w", err)
	}
	return plaintext, nil
}

// Close zeroes the held key. Subsequent Seal and Open calls fail.
func (e *Envelope) Close() {
	if e.closed {
		return
	}
	e.closed = true
	for i := range e.key {
		e.key[i] = 0
	}
}

// KeysEqual compares two sealing keys in constant time (for rotation
// tooling).
func KeysEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
