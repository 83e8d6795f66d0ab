package pki

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/flexiant/camanager/internal/util"
	"github.com/flexiant/camanager/ledger"
)

// ErrMalformedOCSPRequest is returned when an OCSP request cannot be parsed.
var ErrMalformedOCSPRequest = errors.New("malformed OCSP request")

// OCSPResponder answers OCSP requests for one CA from the revocation ledger.
// Responses are signed by the CA's OCSP certificate when one is configured,
// otherwise by the CA itself.
type OCSPResponder struct {
	caName    string
	caCert    *x509.Certificate
	responder *x509.Certificate
	signer    crypto.Signer
	config    *Config
	ledger    *ledger.Ledger
	now       func() time.Time
}

// NewOCSPResponder returns a responder for caCert. responder may be nil to
// sign with the CA certificate.
func NewOCSPResponder(caName string, caCert, responder *x509.Certificate, signer crypto.Signer, cfg *Config, l *ledger.Ledger) *OCSPResponder {
	if responder == nil {
		responder = caCert
	}
	if cfg == nil {
		cfg = &Config{}
	}
	return &OCSPResponder{
		caName:    caName,
		caCert:    caCert,
		responder: responder,
		signer:    signer,
		config:    cfg,
		ledger:    l,
		now:       time.Now,
	}
}

// Respond parses a DER OCSP request and returns a signed DER response.
// Requests for another issuer are answered with status Unknown.
func (r *OCSPResponder) Respond(ctx context.Context, reqDER []byte) ([]byte, error) {
	if r.signer == nil {
		return nil, ErrNoPrivateKey
	}
	req, err := ocsp.ParseRequest(reqDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOCSPRequest, err)
	}

	now := r.now().UTC().Truncate(time.Minute)
	tmpl := ocsp.Response{
		SerialNumber: req.SerialNumber,
		ThisUpdate:   now.Add(-r.config.OCSPStartSkew()),
		NextUpdate:   now.Add(r.config.OCSPValidity()),
		Status:       ocsp.Unknown,
	}
	if r.responder != r.caCert {
		tmpl.Certificate = r.responder
	}

	if r.issuedByCA(req) {
		entry, err := r.ledger.ActiveEntry(ctx, r.caName, util.SerialString(req.SerialNumber))
		if err != nil {
			return nil, err
		}
		if entry != nil {
			tmpl.Status = ocsp.Revoked
			tmpl.RevokedAt = time.Unix(entry.RevokedAt, 0).UTC()
			tmpl.RevocationReason = entry.ReasonCode()
		} else {
			tmpl.Status = ocsp.Good
		}
	}

	resp, err := ocsp.CreateResponse(r.caCert, r.responder, tmpl, r.signer)
	if err != nil {
		return nil, fmt.Errorf("creating OCSP response: %w", err)
	}
	return resp, nil
}

// issuedByCA matches the request's issuer hashes against the CA.
func (r *OCSPResponder) issuedByCA(req *ocsp.Request) bool {
	h := req.HashAlgorithm
	if h == 0 {
		h = crypto.SHA1
	}
	if !h.Available() {
		return false
	}

	nameHash := h.New()
	nameHash.Write(r.caCert.RawSubject)

	var spki struct {
		Algorithm asn1.RawValue
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(r.caCert.RawSubjectPublicKeyInfo, &spki); err != nil {
		return false
	}
	keyHash := h.New()
	keyHash.Write(spki.PublicKey.RightAlign())

	return bytes.Equal(nameHash.Sum(nil), req.IssuerNameHash) &&
		bytes.Equal(keyHash.Sum(nil), req.IssuerKeyHash)
}
