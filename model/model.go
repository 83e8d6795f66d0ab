// Package model defines the persisted CA and certificate records and a typed
// store over storage.Repository.
//
// Relations between records are identity keyed: a CA names its current
// certificate by ID and a certificate names its signing CA by ID. Nothing
// holds a pointer to another record; lookups go through the Store.
package model

import (
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/flexiant/camanager/pki"
)

const (
	CollectionAuthorities  = "certificate_authorities"
	CollectionCertificates = "certificates"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ValidationError carries the per-field errors that prevented a record from
// being saved.
type ValidationError struct {
	Entity string
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, strings.Join(e.Fields[k], ", ")))
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// CertificateAuthority is a CA record.
type CertificateAuthority struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	ConfigYAML        string    `json:"config_yaml"`
	CACertificateID   string    `json:"ca_certificate_id,omitempty"`
	OCSPCertificateID string    `json:"ocsp_certificate_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	// Version is the stored document version used for optimistic updates.
	Version uint64 `json:"-"`
}

// Persisted reports whether the record has been saved and received an ID.
func (ca *CertificateAuthority) Persisted() bool {
	return ca != nil && ca.ID != ""
}

// Config parses the stored YAML configuration.
func (ca *CertificateAuthority) Config() (*pki.Config, error) {
	return pki.LoadConfig(ca.ConfigYAML)
}

// Certificate is an immutable certificate record. Revocation state is not
// stored here; it is derived from the revocation ledger.
type Certificate struct {
	ID          string    `json:"id"`
	PublicKey   string    `json:"public_key"`
	PrivateKey  string    `json:"private_key,omitempty"`
	Password    string    `json:"password"`
	SigningCAID string    `json:"signing_ca_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Persisted reports whether the record has been saved and received an ID.
func (c *Certificate) Persisted() bool {
	return c != nil && c.ID != ""
}

// X509 parses the certificate's public PEM.
func (c *Certificate) X509() (*x509.Certificate, error) {
	return pki.ParseCertificatePEM([]byte(c.PublicKey))
}

// Serial returns the decimal serial of the certificate.
func (c *Certificate) Serial() (string, error) {
	cert, err := c.X509()
	if err != nil {
		return "", err
	}
	return pki.SerialOf(cert), nil
}

// HasPrivateKey reports whether private key material is stored.
func (c *Certificate) HasPrivateKey() bool {
	return c.PrivateKey != ""
}

// Authority loads the certificate as a signing capability. The stored key is
// decrypted with password, falling back to the stored certificate password.
// Without stored key material the authority can verify but not sign.
func (c *Certificate) Authority(password []byte) (*pki.Authority, error) {
	cert, err := c.X509()
	if err != nil {
		return nil, err
	}
	if !c.HasPrivateKey() {
		return pki.NewAuthority(cert, nil)
	}
	key, err := pki.DecodePrivateKey([]byte(c.PrivateKey), c.keyPassword(password))
	if err != nil {
		return nil, fmt.Errorf("loading private key of certificate %s: %w", c.ID, err)
	}
	return pki.NewAuthority(cert, key)
}

func (c *Certificate) keyPassword(password []byte) []byte {
	if len(password) > 0 {
		return password
	}
	if c.Password != "" {
		return []byte(c.Password)
	}
	return nil
}
