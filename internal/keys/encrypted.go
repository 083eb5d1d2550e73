package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// On-disk blob layout: salt(16) || nonce(12) || tag(16) || ciphertext.
// The key is derived with PBKDF2-HMAC-SHA256 at 600 000 iterations.
// AES-CBC is deliberately unsupported.
const (
	saltSize   = 16
	nonceSize  = 12
	tagSize    = 16
	keySize    = 32
	iterations = 600_000
)

// derive stretches a passphrase into an AES-256 key.
func derive(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

// Encrypt seals plaintext (a PEM private key) under a passphrase.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	block, err := aes.NewCipher(derive(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// Seal yields ciphertext||tag; the blob stores the tag before the ciphertext.
	sealed := aesGCM.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, saltSize+nonceSize+tagSize+len(ct))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. A wrong passphrase fails the
// GCM tag check and is indistinguishable from a corrupted blob.
func Decrypt(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < saltSize+nonceSize+tagSize {
		return nil, fmt.Errorf("encrypted key blob too short (%d bytes)", len(blob))
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	tag := blob[saltSize+nonceSize : saltSize+nonceSize+tagSize]
	ct := blob[saltSize+nonceSize+tagSize:]

	block, err := aes.NewCipher(derive(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aesGCM.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	return plaintext, nil
}
