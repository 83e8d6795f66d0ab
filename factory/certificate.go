// Package factory issues certificates and creates or renews subordinate CAs.
//
// The CA paths persist a CA record and a certificate record in separate
// document writes. There is no transaction spanning them, so each path
// deletes the records it created when a later step fails.
package factory

import (
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/flexiant/camanager/pki"
)

// SigningCapability signs enforced options with a CA key.
type SigningCapability interface {
	Sign(opts *pki.EnforcedOptions) (*x509.Certificate, error)
}

// OptionsBuilder validates a signing request against CA profile policy.
type OptionsBuilder interface {
	BuildAndEnforce(req *pki.SigningRequest) (*pki.EnforcedOptions, error)
}

// Extensions are the caller supplied extension values. A nil slice means the
// key was not supplied.
type Extensions struct {
	SubjectAlternativeName []string `json:"subjectAlternativeName,omitempty"`
	DNSNames               []string `json:"dNSNames,omitempty"`
}

// CertificateRequest describes one certificate to issue. Exactly one of CSR
// and SPKI must be set; both are PEM.
type CertificateRequest struct {
	Profile        *string
	ValidityPeriod *int64
	CSR            []byte
	SPKI           []byte
	Extensions     *Extensions
	MessageDigest  string
}

// CertificateFactory builds signed certificates. It never persists anything.
type CertificateFactory struct {
	now func() time.Time
}

// CertificateFactoryOption configures a CertificateFactory.
type CertificateFactoryOption func(*CertificateFactory)

// WithClock overrides the time source used to anchor validity windows.
func WithClock(now func() time.Time) CertificateFactoryOption {
	return func(f *CertificateFactory) { f.now = now }
}

func NewCertificateFactory(opts ...CertificateFactoryOption) *CertificateFactory {
	f := &CertificateFactory{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build checks the request, lets builder enforce the CA profile and signs
// the result with signer. The first failed precondition is returned.
func (f *CertificateFactory) Build(signer SigningCapability, subject pki.Subject, builder OptionsBuilder, req *CertificateRequest) (*x509.Certificate, error) {
	if signer == nil {
		return nil, ErrCANotFound
	}
	if req == nil {
		req = &CertificateRequest{}
	}
	if req.Profile == nil {
		return nil, ErrProfileRequired
	}
	if req.ValidityPeriod == nil {
		return nil, ErrValidityRequired
	}
	if (len(req.CSR) == 0) == (len(req.SPKI) == 0) {
		return nil, ErrCSROrSPKIRequired
	}
	if subject.Empty() {
		return nil, ErrSubjectRequired
	}

	notBefore, notAfter, err := pki.ConvertValidityPeriod(*req.ValidityPeriod, f.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	signing := &pki.SigningRequest{
		ProfileName:   *req.Profile,
		Subject:       subject,
		Extensions:    BuildExtensions(req.Extensions),
		MessageDigest: req.MessageDigest,
		NotBefore:     notBefore,
		NotAfter:      notAfter,
	}
	if len(req.CSR) > 0 {
		csr, err := pki.ParseCSRPEM(req.CSR)
		if err != nil {
			return nil, fmt.Errorf("%w: csr: %v", ErrInvalidArgument, err)
		}
		signing.CSR = csr
	} else {
		spki, err := pki.BuildSPKI(req.SPKI, subject)
		if err != nil {
			return nil, fmt.Errorf("%w: spki: %v", ErrInvalidArgument, err)
		}
		signing.SPKI = spki
	}

	opts, err := builder.BuildAndEnforce(signing)
	if err != nil {
		return nil, err
	}
	cert, err := signer.Sign(opts)
	if err != nil {
		return nil, fmt.Errorf("signing certificate: %w", err)
	}
	return cert, nil
}

// BuildExtensions turns the request extensions into at most one
// subjectAltName extension. subjectAlternativeName wins over dNSNames.
// Empty subjectAlternativeName entries are dropped and the rest passed on
// as given; dNSNames entries are trimmed and blanks dropped. A list with no
// survivors yields nothing.
func BuildExtensions(e *Extensions) []pki.Extension {
	if e == nil {
		return nil
	}
	var names pki.GeneralNames
	switch {
	case e.SubjectAlternativeName != nil:
		names = pki.ParseGeneralNames(nonEmpty(e.SubjectAlternativeName))
	case e.DNSNames != nil:
		for _, n := range nonBlank(e.DNSNames) {
			names = append(names, pki.GeneralName{Type: pki.GeneralNameDNS, Value: n})
		}
	}
	if len(names) == 0 {
		return nil
	}
	return []pki.Extension{pki.SubjectAlternativeName{Names: names}}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
