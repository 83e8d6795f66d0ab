package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/flexiant/camanager/internal/util"
)

// Authority is the signing capability of a CA: its certificate and, when
// loaded with the key, the signer.
type Authority struct {
	cert   *x509.Certificate
	signer crypto.Signer
	serial func() (*big.Int, error)
}

// NewAuthority returns an Authority for cert. signer may be nil, in which
// case Sign fails with ErrNoPrivateKey.
func NewAuthority(cert *x509.Certificate, signer crypto.Signer) (*Authority, error) {
	if signer != nil && !publicKeysEqual(cert.PublicKey, signer.Public()) {
		return nil, fmt.Errorf("CA private key does not match certificate %s", subjectString(cert.Subject))
	}
	return &Authority{cert: cert, signer: signer, serial: util.RandomSerial}, nil
}

// Certificate returns the CA certificate.
func (a *Authority) Certificate() *x509.Certificate {
	return a.cert
}

// Signer returns the CA key, or nil when the authority was loaded without it.
func (a *Authority) Signer() crypto.Signer {
	return a.signer
}

// Sign issues a certificate from policy-enforced options.
func (a *Authority) Sign(opts *EnforcedOptions) (*x509.Certificate, error) {
	if a.signer == nil {
		return nil, ErrNoPrivateKey
	}
	serial, err := a.serial()
	if err != nil {
		return nil, err
	}
	return signCertificate(opts, serial, a.cert, a.signer)
}

// SelfSign issues a self-signed certificate for key. It is used to
// provision roots.
func SelfSign(opts *EnforcedOptions, key crypto.Signer) (*x509.Certificate, error) {
	if !publicKeysEqual(opts.PublicKey, key.Public()) {
		return nil, fmt.Errorf("self-signed certificate key mismatch")
	}
	serial, err := util.RandomSerial()
	if err != nil {
		return nil, err
	}
	return signCertificate(opts, serial, nil, key)
}

func signCertificate(opts *EnforcedOptions, serial *big.Int, parent *x509.Certificate, signer crypto.Signer) (*x509.Certificate, error) {
	if opts.Subject.Empty() {
		return nil, fmt.Errorf("signing: empty subject")
	}
	sigAlg, err := signatureAlgorithm(signer.Public(), opts.MessageDigest)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            opts.Subject.Name(),
		NotBefore:          opts.NotBefore.UTC().Truncate(time.Second),
		NotAfter:           opts.NotAfter.UTC().Truncate(time.Second),
		SignatureAlgorithm: sigAlg,
	}
	if len(opts.RawSubject) > 0 {
		tmpl.RawSubject = opts.RawSubject
	}
	for _, ext := range opts.Extensions {
		if err := ext.Apply(tmpl); err != nil {
			return nil, fmt.Errorf("applying extension: %w", err)
		}
	}
	if parent == nil {
		parent = tmpl
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, opts.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}
