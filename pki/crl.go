package pki

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/flexiant/camanager/ledger"
)

// CRLAdministrator revokes serials issued by one CA and generates its CRL
// from the revocation ledger.
type CRLAdministrator struct {
	caName string
	cert   *x509.Certificate
	signer crypto.Signer
	config *Config
	ledger *ledger.Ledger
	now    func() time.Time
}

// NewCRLAdministrator binds a CA to the ledger. signer may be nil when only
// revocation bookkeeping is needed; GenerateCRL then fails with
// ErrNoPrivateKey.
func NewCRLAdministrator(caName string, cert *x509.Certificate, signer crypto.Signer, cfg *Config, l *ledger.Ledger) *CRLAdministrator {
	if cfg == nil {
		cfg = &Config{}
	}
	return &CRLAdministrator{
		caName: caName,
		cert:   cert,
		signer: signer,
		config: cfg,
		ledger: l,
		now:    time.Now,
	}
}

// CAName returns the name of the CA the administrator is bound to.
func (a *CRLAdministrator) CAName() string {
	return a.caName
}

// RevokeCert records serial as revoked now.
func (a *CRLAdministrator) RevokeCert(ctx context.Context, serial string, reason *int) error {
	_, err := a.ledger.Revoke(ctx, a.caName, serial, reason, a.now().Unix())
	return err
}

// UnrevokeCert removes serial from the revoked set.
func (a *CRLAdministrator) UnrevokeCert(ctx context.Context, serial string) error {
	return a.ledger.Unrevoke(ctx, a.caName, serial)
}

// GenerateCRL allocates the next CRL number, signs a CRL listing every
// active revocation and returns it as PEM. The new number is written back
// only after signing succeeds.
func (a *CRLAdministrator) GenerateCRL(ctx context.Context) ([]byte, error) {
	if a.signer == nil {
		return nil, ErrNoPrivateKey
	}
	number, err := a.ledger.ReadSequence(ctx, a.caName)
	if err != nil {
		return nil, err
	}
	number++

	entries, err := a.ledger.LoadActive(ctx, a.caName)
	if err != nil {
		return nil, err
	}
	revoked := make([]x509.RevocationListEntry, 0, len(entries))
	for _, e := range entries {
		serial, ok := new(big.Int).SetString(e.Serial, 10)
		if !ok {
			continue
		}
		revoked = append(revoked, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: time.Unix(e.RevokedAt, 0).UTC(),
			ReasonCode:     e.ReasonCode(),
		})
	}

	sigAlg, err := signatureAlgorithm(a.signer.Public(), a.config.CRLDigest())
	if err != nil {
		return nil, fmt.Errorf("CRL digest: %w", err)
	}

	now := a.now().UTC()
	template := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                now,
		NextUpdate:                now.Add(a.config.CRLValidity()),
		RevokedCertificateEntries: revoked,
		SignatureAlgorithm:        sigAlg,
	}

	crlDER, err := x509.CreateRevocationList(rand.Reader, template, a.cert, a.signer)
	if err != nil {
		return nil, fmt.Errorf("creating CRL: %w", err)
	}

	if err := a.ledger.WriteSequence(ctx, a.caName, number); err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crlDER}), nil
}

// DecodeCRLPEM returns the DER bytes of a PEM CRL.
func DecodeCRLPEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "X509 CRL" {
		return nil, fmt.Errorf("CRL: %w", ErrInvalidPEM)
	}
	return block.Bytes, nil
}
