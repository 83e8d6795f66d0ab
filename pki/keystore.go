package pki

import (
	"crypto"
	"fmt"
)

// KeyStore abstracts private-key generation and custody so that CSR
// building and root provisioning do not depend on where keys live.
//
// A KeyID uniquely identifies a key managed by the store; its format is
// implementation-defined.
type KeyStore interface {
	// GenerateKey creates a new signing key and returns an opaque identifier.
	GenerateKey() (keyID string, err error)

	// Signer returns a [crypto.Signer] for the key identified by keyID.
	// The returned Signer remains usable after Delete.
	Signer(keyID string) (crypto.Signer, error)

	// ExportPEM returns the private key as PKCS#8 PEM, encrypted when
	// password is non-empty.
	ExportPEM(keyID string, password []byte) ([]byte, error)

	// ImportPEM loads a PEM-encoded private key into the store and returns
	// its key ID.
	ImportPEM(pemData []byte, password []byte) (keyID string, err error)

	// Delete removes the key identified by keyID from the store.
	Delete(keyID string) error
}

// ErrKeyNotFound is returned when the referenced key ID does not exist.
var ErrKeyNotFound = fmt.Errorf("key not found")
