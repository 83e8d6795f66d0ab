package pki

import (
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// GeneralNameType is the CHOICE tag of an X.509 GeneralName.
type GeneralNameType int

// Supported GeneralName tags.
const (
	GeneralNameEmail GeneralNameType = 1
	GeneralNameDNS   GeneralNameType = 2
	GeneralNameURI   GeneralNameType = 6
	GeneralNameIP    GeneralNameType = 7
)

func (t GeneralNameType) String() string {
	switch t {
	case GeneralNameEmail:
		return "rfc822Name"
	case GeneralNameDNS:
		return "dNSName"
	case GeneralNameURI:
		return "uniformResourceIdentifier"
	case GeneralNameIP:
		return "iPAddress"
	default:
		return fmt.Sprintf("GeneralName(%d)", int(t))
	}
}

// GeneralName is a single tagged name.
type GeneralName struct {
	Type  GeneralNameType
	Value string
}

// GeneralNames is an ordered set of general names.
type GeneralNames []GeneralName

// ParseGeneralNames detects the type of each name: IP addresses become
// iPAddress, values containing "://" become URIs, values containing "@"
// become rfc822Name and everything else is a dNSName. Values are kept
// verbatim.
func ParseGeneralNames(names []string) GeneralNames {
	out := make(GeneralNames, 0, len(names))
	for _, n := range names {
		switch {
		case net.ParseIP(n) != nil:
			out = append(out, GeneralName{Type: GeneralNameIP, Value: n})
		case strings.Contains(n, "://"):
			out = append(out, GeneralName{Type: GeneralNameURI, Value: n})
		case strings.Contains(n, "@"):
			out = append(out, GeneralName{Type: GeneralNameEmail, Value: n})
		default:
			out = append(out, GeneralName{Type: GeneralNameDNS, Value: n})
		}
	}
	return out
}

// Values returns the raw name strings.
func (g GeneralNames) Values() []string {
	out := make([]string, len(g))
	for i, n := range g {
		out[i] = n.Value
	}
	return out
}

// Extension mutates a certificate template before signing.
type Extension interface {
	Apply(tmpl *x509.Certificate) error
}

// SubjectAlternativeName is the subjectAltName extension.
type SubjectAlternativeName struct {
	Names GeneralNames
}

func (e SubjectAlternativeName) Apply(tmpl *x509.Certificate) error {
	for _, n := range e.Names {
		switch n.Type {
		case GeneralNameDNS:
			tmpl.DNSNames = append(tmpl.DNSNames, n.Value)
		case GeneralNameEmail:
			tmpl.EmailAddresses = append(tmpl.EmailAddresses, n.Value)
		case GeneralNameIP:
			ip := net.ParseIP(n.Value)
			if ip == nil {
				return fmt.Errorf("invalid IP address %q", n.Value)
			}
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		case GeneralNameURI:
			u, err := url.Parse(n.Value)
			if err != nil {
				return fmt.Errorf("invalid URI %q: %w", n.Value, err)
			}
			tmpl.URIs = append(tmpl.URIs, u)
		default:
			return fmt.Errorf("unsupported general name type %s", n.Type)
		}
	}
	return nil
}

// BasicConstraints is the basicConstraints extension.
type BasicConstraints struct {
	CA         bool
	PathLength *int
}

func (e BasicConstraints) Apply(tmpl *x509.Certificate) error {
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = e.CA
	if e.CA && e.PathLength != nil {
		tmpl.MaxPathLen = *e.PathLength
		tmpl.MaxPathLenZero = *e.PathLength == 0
	}
	return nil
}

var keyUsageNames = map[string]x509.KeyUsage{
	"digitalSignature": x509.KeyUsageDigitalSignature,
	"nonRepudiation":   x509.KeyUsageContentCommitment,
	"keyEncipherment":  x509.KeyUsageKeyEncipherment,
	"dataEncipherment": x509.KeyUsageDataEncipherment,
	"keyAgreement":     x509.KeyUsageKeyAgreement,
	"keyCertSign":      x509.KeyUsageCertSign,
	"cRLSign":          x509.KeyUsageCRLSign,
	"encipherOnly":     x509.KeyUsageEncipherOnly,
	"decipherOnly":     x509.KeyUsageDecipherOnly,
}

var extKeyUsageNames = map[string]x509.ExtKeyUsage{
	"serverAuth":      x509.ExtKeyUsageServerAuth,
	"clientAuth":      x509.ExtKeyUsageClientAuth,
	"codeSigning":     x509.ExtKeyUsageCodeSigning,
	"emailProtection": x509.ExtKeyUsageEmailProtection,
	"timeStamping":    x509.ExtKeyUsageTimeStamping,
	"OCSPSigning":     x509.ExtKeyUsageOCSPSigning,
	"any":             x509.ExtKeyUsageAny,
}

// KeyUsage is the keyUsage extension.
type KeyUsage struct {
	Usage x509.KeyUsage
}

func (e KeyUsage) Apply(tmpl *x509.Certificate) error {
	tmpl.KeyUsage |= e.Usage
	return nil
}

// ParseKeyUsage converts usage names such as "digitalSignature" into a
// KeyUsage extension.
func ParseKeyUsage(names []string) (KeyUsage, error) {
	var ku KeyUsage
	for _, n := range names {
		u, ok := keyUsageNames[n]
		if !ok {
			return KeyUsage{}, fmt.Errorf("%w: unknown key usage %q", ErrInvalidConfig, n)
		}
		ku.Usage |= u
	}
	return ku, nil
}

// ExtendedKeyUsage is the extKeyUsage extension.
type ExtendedKeyUsage struct {
	Usages []x509.ExtKeyUsage
}

func (e ExtendedKeyUsage) Apply(tmpl *x509.Certificate) error {
	tmpl.ExtKeyUsage = append(tmpl.ExtKeyUsage, e.Usages...)
	return nil
}

// ParseExtendedKeyUsage converts usage names such as "serverAuth".
func ParseExtendedKeyUsage(names []string) (ExtendedKeyUsage, error) {
	var eku ExtendedKeyUsage
	for _, n := range names {
		u, ok := extKeyUsageNames[n]
		if !ok {
			return ExtendedKeyUsage{}, fmt.Errorf("%w: unknown extended key usage %q", ErrInvalidConfig, n)
		}
		eku.Usages = append(eku.Usages, u)
	}
	return eku, nil
}

// CRLDistributionPoints is the cRLDistributionPoints extension.
type CRLDistributionPoints struct {
	URIs []string
}

func (e CRLDistributionPoints) Apply(tmpl *x509.Certificate) error {
	tmpl.CRLDistributionPoints = append(tmpl.CRLDistributionPoints, e.URIs...)
	return nil
}

// AuthorityInfoAccess is the authorityInfoAccess extension.
type AuthorityInfoAccess struct {
	OCSP      []string
	CAIssuers []string
}

func (e AuthorityInfoAccess) Apply(tmpl *x509.Certificate) error {
	tmpl.OCSPServer = append(tmpl.OCSPServer, e.OCSP...)
	tmpl.IssuingCertificateURL = append(tmpl.IssuingCertificateURL, e.CAIssuers...)
	return nil
}
