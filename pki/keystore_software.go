package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

// ---------------------------------------------------------------------------
// SoftwareKeyStore is the default implementation, backed by in-memory keys
// ---------------------------------------------------------------------------

// SoftwareKeyStore generates ECDSA P-256 keys and holds them in memory.
// Keys are identified by an opaque string generated at creation time.
//
// Keys in this store are ephemeral; callers persist them through
// ExportPEM and load them back with ImportPEM.
type SoftwareKeyStore struct {
	mu   sync.Mutex
	keys map[string]crypto.Signer
	rand io.Reader
	seq  int
}

var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore returns a SoftwareKeyStore ready for use.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: make(map[string]crypto.Signer),
		rand: rand.Reader,
	}
}

func (s *SoftwareKeyStore) add(key crypto.Signer) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("sw-%d", s.seq)
	s.keys[id] = key
	return id
}

func (s *SoftwareKeyStore) get(keyID string) (crypto.Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return key, nil
}

// GenerateKey creates a new ECDSA P-256 key pair.
func (s *SoftwareKeyStore) GenerateKey() (string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), s.rand)
	if err != nil {
		return "", fmt.Errorf("generating ECDSA P-256 key: %w", err)
	}
	return s.add(priv), nil
}

func (s *SoftwareKeyStore) Signer(keyID string) (crypto.Signer, error) {
	return s.get(keyID)
}

func (s *SoftwareKeyStore) ExportPEM(keyID string, password []byte) ([]byte, error) {
	key, err := s.get(keyID)
	if err != nil {
		return nil, err
	}
	return EncodePrivateKey(key, password)
}

func (s *SoftwareKeyStore) ImportPEM(pemData []byte, password []byte) (string, error) {
	key, err := DecodePrivateKey(pemData, password)
	if err != nil {
		return "", err
	}
	return s.add(key), nil
}

// Delete removes the key from memory.
func (s *SoftwareKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyID)
	return nil
}
