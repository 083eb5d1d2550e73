package keys

import (
	"crypto"
	"fmt"
	"os"
	"path/filepath"
)

// Store loads and saves encrypted private keys under a directory.
// Files are named <name>_private.pem and hold the Encrypt blob.
type Store struct {
	dir string
}

// NewStore creates a key store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+"_private.pem")
}

// Load reads and decrypts the private key for name.
func (s *Store) Load(name string, passphrase string) (crypto.Signer, error) {
	blob, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("reading key for %s: %w", name, err)
	}
	pemBytes, err := Decrypt(blob, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypting key for %s: %w", name, err)
	}
	return ParsePrivatePEM(pemBytes)
}

// Save encrypts and writes the private key for name. Mode 0600.
func (s *Store) Save(name string, key crypto.Signer, passphrase string) error {
	pemBytes, err := MarshalPrivatePEM(key)
	if err != nil {
		return err
	}
	blob, err := Encrypt(pemBytes, passphrase)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating keys directory: %w", err)
	}
	if err := os.WriteFile(s.path(name), blob, 0o600); err != nil {
		return fmt.Errorf("writing key for %s: %w", name, err)
	}
	return nil
}

// LoadOrCreate loads the key for name, generating and persisting a fresh
// P-256 key when none exists yet.
func (s *Store) LoadOrCreate(name string, passphrase string) (crypto.Signer, error) {
	if _, err := os.Stat(s.path(name)); err == nil {
		return s.Load(name, passphrase)
	}
	key, err := GenerateP256()
	if err != nil {
		return nil, err
	}
	if err := s.Save(name, key, passphrase); err != nil {
		return nil, err
	}
	return key, nil
}
