package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// CSR is a certificate request together with the key that signed it, when
// the key was generated or supplied locally.
type CSR struct {
	Request *x509.CertificateRequest
	PEM     []byte
	Key     crypto.Signer
}

// SPKI is a bare public key submitted together with the subject to certify.
type SPKI struct {
	PublicKey crypto.PublicKey
	Subject   Subject
}

// CSRBuilder builds certificate requests, generating keys through a KeyStore
// when none is supplied.
type CSRBuilder struct {
	keys KeyStore
}

// NewCSRBuilder returns a CSRBuilder drawing new keys from keys. A nil
// KeyStore selects a SoftwareKeyStore.
func NewCSRBuilder(keys KeyStore) *CSRBuilder {
	if keys == nil {
		keys = NewSoftwareKeyStore()
	}
	return &CSRBuilder{keys: keys}
}

// Build creates a CSR for subject signed by key. When key is nil a new key
// is generated.
func (b *CSRBuilder) Build(subject Subject, key crypto.Signer) (*CSR, error) {
	return b.build(&x509.CertificateRequest{Subject: subject.Name()}, key)
}

// BuildRaw creates a CSR whose subject is the DER-encoded name raw, copied
// verbatim. String types and multi-valued RDNs survive unchanged.
func (b *CSRBuilder) BuildRaw(raw []byte, key crypto.Signer) (*CSR, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("creating CSR: empty raw subject")
	}
	return b.build(&x509.CertificateRequest{RawSubject: raw}, key)
}

func (b *CSRBuilder) build(tmpl *x509.CertificateRequest, key crypto.Signer) (*CSR, error) {
	if key == nil {
		keyID, err := b.keys.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating CSR key: %w", err)
		}
		if key, err = b.keys.Signer(keyID); err != nil {
			return nil, err
		}
		// The signer stays valid; the store does not need to keep it.
		_ = b.keys.Delete(keyID)
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, fmt.Errorf("creating CSR: %w", err)
	}
	req, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("parsing CSR: %w", err)
	}
	return &CSR{Request: req, PEM: EncodeCSRPEM(der), Key: key}, nil
}

// BuildSPKI parses a PEM public key and pairs it with subject.
func BuildSPKI(pemData []byte, subject Subject) (*SPKI, error) {
	pub, err := ParsePublicKeyPEM(pemData)
	if err != nil {
		return nil, err
	}
	return &SPKI{PublicKey: pub, Subject: subject}, nil
}
