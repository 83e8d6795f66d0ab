// Package pki provides the cryptographic collaborators of the CA manager:
// subject and general-name parsing, CSR and SPKI handling, CA profile
// policy, certificate signing, CRL generation and OCSP responses.
//
// Nothing in this package persists CA or certificate records. CRL state is
// read from and written to the revocation ledger.
package pki

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexiant/camanager/internal/util"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrInvalidPassword is returned when an encrypted private key cannot be
	// decrypted with the supplied password.
	ErrInvalidPassword = errors.New("invalid private key password")

	// ErrNoPrivateKey is returned when a signing operation is attempted on
	// an authority loaded without its private key.
	ErrNoPrivateKey = errors.New("CA private key not available")

	// ErrPolicy is wrapped by every profile policy violation raised from
	// OptionsBuilder.BuildAndEnforce.
	ErrPolicy = errors.New("policy violation")

	// ErrUnknownProfile is returned when a signing request names a profile
	// the CA does not define.
	ErrUnknownProfile = fmt.Errorf("%w: unknown profile", ErrPolicy)

	// ErrDigestNotAllowed is returned when the requested message digest is
	// not in the profile's allowed list.
	ErrDigestNotAllowed = fmt.Errorf("%w: message digest not allowed", ErrPolicy)

	// ErrInvalidValidity is returned for non-positive validity periods and
	// for periods ending after 9999-12-31T23:59:59Z.
	ErrInvalidValidity = errors.New("invalid validity period")

	// ErrInvalidConfig is returned when a CA configuration cannot be parsed.
	ErrInvalidConfig = errors.New("invalid CA configuration")
)

// ---------------------------------------------------------------------------
// Certificate PEM helpers
// ---------------------------------------------------------------------------

// ParseCertificatePEM decodes a single PEM certificate.
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certificate: %w", ErrInvalidPEM)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	return cert, nil
}

// EncodeCertificatePEM returns the PEM encoding of cert.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// SerialOf returns the decimal serial of cert.
func SerialOf(cert *x509.Certificate) string {
	return util.SerialString(cert.SerialNumber)
}

// CertificateInfo is a display summary of a certificate.
type CertificateInfo struct {
	Subject           string `json:"subject"`
	Issuer            string `json:"issuer"`
	SerialNumber      string `json:"serial_number"`
	NotBefore         string `json:"not_before"`
	NotAfter          string `json:"not_after"`
	FingerprintSHA256 string `json:"fingerprint_sha256"`
	KeyAlgorithm      string `json:"key_algorithm"`
	IsCA              bool   `json:"is_ca"`
}

// Describe summarizes cert for API and CLI listings.
func Describe(cert *x509.Certificate) CertificateInfo {
	fingerprint := sha256.Sum256(cert.Raw)
	return CertificateInfo{
		Subject:           subjectString(cert.Subject),
		Issuer:            subjectString(cert.Issuer),
		SerialNumber:      SerialOf(cert),
		NotBefore:         cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:          cert.NotAfter.UTC().Format(time.RFC3339),
		FingerprintSHA256: util.HexEncode(fingerprint[:]),
		KeyAlgorithm:      keyAlgorithmString(cert),
		IsCA:              cert.IsCA,
	}
}

// subjectString formats a pkix.Name as a readable DN string.
func subjectString(name pkix.Name) string {
	var parts []string
	for _, atv := range name.Names {
		parts = append(parts, attributeShortName(atv.Type)+"="+fmt.Sprint(atv.Value))
	}
	if len(parts) == 0 {
		return name.String()
	}
	return strings.Join(parts, ", ")
}

// keyAlgorithmString returns a human-readable key algorithm description.
func keyAlgorithmString(cert *x509.Certificate) string {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return fmt.Sprintf("ECDSA %s", pub.Curve.Params().Name)
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d", pub.N.BitLen())
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return cert.PublicKeyAlgorithm.String()
	}
}
