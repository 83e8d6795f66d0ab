package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SigningRequest is the bundle handed to OptionsBuilder.BuildAndEnforce.
// Exactly one of CSR and SPKI is set.
type SigningRequest struct {
	CSR           *x509.CertificateRequest
	SPKI          *SPKI
	ProfileName   string
	Subject       Subject
	Extensions    []Extension
	MessageDigest string
	NotBefore     time.Time
	NotAfter      time.Time
}

// EnforcedOptions is a signing request after profile policy has been
// applied. It is the only input Authority.Sign accepts.
type EnforcedOptions struct {
	PublicKey crypto.PublicKey
	Subject   Subject
	// RawSubject, when set, is the DER encoding of Subject and is written
	// to the certificate verbatim.
	RawSubject    []byte
	Extensions    []Extension
	MessageDigest string
	NotBefore     time.Time
	NotAfter      time.Time
}

// OptionsBuilder enforces a CA's profile policy on signing requests.
type OptionsBuilder struct {
	config *Config
}

// NewOptionsBuilder returns a builder enforcing cfg.
func NewOptionsBuilder(cfg *Config) *OptionsBuilder {
	if cfg == nil {
		cfg = &Config{}
	}
	return &OptionsBuilder{config: cfg}
}

// BuildAndEnforce validates req against the named profile and returns the
// options to sign with. Every violation wraps ErrPolicy.
func (b *OptionsBuilder) BuildAndEnforce(req *SigningRequest) (*EnforcedOptions, error) {
	if (req.CSR == nil) == (req.SPKI == nil) {
		return nil, fmt.Errorf("%w: exactly one of CSR or SPKI is required", ErrPolicy)
	}
	profile, ok := b.config.Profiles[req.ProfileName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, req.ProfileName)
	}

	var pub crypto.PublicKey
	if req.CSR != nil {
		if err := req.CSR.CheckSignature(); err != nil {
			return nil, fmt.Errorf("%w: CSR signature invalid: %v", ErrPolicy, err)
		}
		pub = req.CSR.PublicKey
	} else {
		pub = req.SPKI.PublicKey
	}
	if pub == nil {
		return nil, fmt.Errorf("%w: missing public key", ErrPolicy)
	}

	digest, err := enforceDigest(&profile, req.MessageDigest)
	if err != nil {
		return nil, err
	}

	subject, err := enforceSubject(&profile, req.Subject)
	if err != nil {
		return nil, err
	}

	if !req.NotAfter.After(req.NotBefore) {
		return nil, fmt.Errorf("%w: not_after must be later than not_before", ErrPolicy)
	}

	exts, err := profile.Extensions()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicy, err)
	}
	exts = append(exts, req.Extensions...)

	// Keep the requester's encoding when policy left the subject alone.
	var raw []byte
	if req.CSR != nil && len(req.CSR.RawSubject) > 0 && subject.Equal(SubjectFromName(req.CSR.Subject)) {
		raw = req.CSR.RawSubject
	}

	return &EnforcedOptions{
		PublicKey:     pub,
		Subject:       subject,
		RawSubject:    raw,
		Extensions:    exts,
		MessageDigest: digest,
		NotBefore:     req.NotBefore,
		NotAfter:      req.NotAfter,
	}, nil
}

func enforceDigest(p *Profile, requested string) (string, error) {
	digest := strings.ToUpper(strings.TrimSpace(requested))
	if digest == "" {
		digest = strings.ToUpper(p.DefaultMD)
	}
	if digest == "" {
		digest = DefaultDigest
	}
	if _, err := hashFor(digest); err != nil {
		return "", fmt.Errorf("%w: %s", ErrDigestNotAllowed, digest)
	}
	if len(p.AllowedMDs) > 0 && !slices.ContainsFunc(p.AllowedMDs, func(md string) bool {
		return strings.EqualFold(md, digest)
	}) {
		return "", fmt.Errorf("%w: %s", ErrDigestNotAllowed, digest)
	}
	return digest, nil
}

// enforceSubject applies subject_item_policy. Attributes without a policy
// entry are dropped; with no policy the subject is passed through.
func enforceSubject(p *Profile, subject Subject) (Subject, error) {
	if len(p.SubjectItemPolicy) == 0 {
		return subject, nil
	}
	policies := make(map[string]ItemPolicy, len(p.SubjectItemPolicy))
	for label, item := range p.SubjectItemPolicy {
		short, ok := CanonicalAttribute(label)
		if !ok {
			return nil, fmt.Errorf("%w: unknown subject attribute %q", ErrPolicy, label)
		}
		policies[short] = item
	}

	var out Subject
	for _, atv := range subject {
		if _, ok := policies[attributeShortName(atv.Type)]; ok {
			out = append(out, atv)
		}
	}
	for short, item := range policies {
		value, present := out.Get(short)
		switch item.Policy {
		case ItemRequired:
			if !present || value == "" {
				return nil, fmt.Errorf("%w: subject %s is required", ErrPolicy, short)
			}
		case ItemMatch:
			if !present || value != item.Value {
				return nil, fmt.Errorf("%w: subject %s must be %q", ErrPolicy, short, item.Value)
			}
		}
	}
	if out.Empty() {
		return nil, fmt.Errorf("%w: subject is empty after applying policy", ErrPolicy)
	}
	return out, nil
}

var errUnsupportedDigest = errors.New("unsupported digest")

func hashFor(digest string) (crypto.Hash, error) {
	switch strings.ToUpper(digest) {
	case "SHA256":
		return crypto.SHA256, nil
	case "SHA384":
		return crypto.SHA384, nil
	case "SHA512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnsupportedDigest, digest)
	}
}

// signatureAlgorithm picks the x509 signature algorithm for a signer key and
// digest name.
func signatureAlgorithm(pub crypto.PublicKey, digest string) (x509.SignatureAlgorithm, error) {
	if digest == "" {
		digest = DefaultDigest
	}
	h, err := hashFor(digest)
	if err != nil {
		return x509.UnknownSignatureAlgorithm, err
	}
	switch pub.(type) {
	case *ecdsa.PublicKey:
		switch h {
		case crypto.SHA384:
			return x509.ECDSAWithSHA384, nil
		case crypto.SHA512:
			return x509.ECDSAWithSHA512, nil
		}
		return x509.ECDSAWithSHA256, nil
	case *rsa.PublicKey:
		switch h {
		case crypto.SHA384:
			return x509.SHA384WithRSA, nil
		case crypto.SHA512:
			return x509.SHA512WithRSA, nil
		}
		return x509.SHA256WithRSA, nil
	case ed25519.PublicKey:
		return x509.PureEd25519, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported signer key type %T", pub)
	}
}
