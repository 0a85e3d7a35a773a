package encryption

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD seals and opens small payloads such as persisted tokens.
type AEAD interface {
	Encrypt(plaintext, associatedData []byte) ([]byte, error)
	Decrypt(ciphertext, associatedData []byte) ([]byte, error)
}

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// XChaCha is an AEAD using XChaCha20-Poly1305. The random nonce is prepended
// to every ciphertext.
type XChaCha struct {
	aead cipher.AEAD
}

// NewXChaCha creates an AEAD from a 32 byte key.
func NewXChaCha(key []byte) (*XChaCha, error) {
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating xchacha20-poly1305 cipher: %w", err)
	}
	return &XChaCha{aead: a}, nil
}

func (x *XChaCha) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	nonce := make([]byte, x.aead.NonceSize(), x.aead.NonceSize()+len(plaintext)+x.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return x.aead.Seal(nonce, nonce, plaintext, associatedData), nil
}

func (x *XChaCha) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	n := x.aead.NonceSize()
	if len(ciphertext) < n+x.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := x.aead.Open(nil, ciphertext[:n], ciphertext[n:], associatedData)
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}
	return plaintext, nil
}

// Validate performs a test encryption/decryption cycle to verify the AEAD is
// working. Call this at startup to fail fast if encryption is misconfigured.
func Validate(a AEAD) error {
	testPlaintext := []byte("posadmin-encryption-test")
	testAAD := []byte("validation")

	ciphertext, err := a.Encrypt(testPlaintext, testAAD)
	if err != nil {
		return fmt.Errorf("validation encrypt failed: %w", err)
	}

	decrypted, err := a.Decrypt(ciphertext, testAAD)
	if err != nil {
		return fmt.Errorf("validation decrypt failed: %w", err)
	}

	if !bytes.Equal(testPlaintext, decrypted) {
		return fmt.Errorf("validation round-trip failed: plaintext mismatch")
	}

	return nil
}

// NewTestAEAD creates an AEAD with a random key for testing.
// Only use in tests: keys are not persisted or protected.
func NewTestAEAD() (AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating test key: %w", err)
	}
	return NewXChaCha(key)
}
