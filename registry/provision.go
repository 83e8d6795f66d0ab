package registry

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/flexiant/camanager/model"
	"github.com/flexiant/camanager/pki"
)

// ImportRequest describes an existing CA certificate to store.
type ImportRequest struct {
	Name           string
	CertificatePEM []byte
	// PrivateKeyPEM is stored as given. KeyPassword is only used to check
	// that the key opens and matches the certificate.
	PrivateKeyPEM []byte
	KeyPassword   []byte
	// CertPassword is stored with the certificate as its fallback key
	// password.
	CertPassword string
	ConfigJSON   string
	// ParentName names the signing CA record. Empty means the certificate is
	// self-signed and the new CA is its own signer.
	ParentName string
}

// ImportAuthority stores a CA, its certificate and the link between them.
// The records created by the call are deleted again when a later step fails.
func (r *Registry) ImportAuthority(ctx context.Context, req *ImportRequest) (_ *model.CertificateAuthority, err error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("importing CA: name is required")
	}
	cert, err := pki.ParseCertificatePEM(req.CertificatePEM)
	if err != nil {
		return nil, fmt.Errorf("importing CA %q: %w", name, err)
	}
	if len(req.PrivateKeyPEM) > 0 {
		key, err := pki.DecodePrivateKey(req.PrivateKeyPEM, req.KeyPassword)
		if err != nil {
			return nil, fmt.Errorf("importing CA %q: %w", name, err)
		}
		if _, err := pki.NewAuthority(cert, key); err != nil {
			return nil, fmt.Errorf("importing CA %q: %w", name, err)
		}
	}
	_, configYAML, err := pki.ParseCAConfig(req.ConfigJSON)
	if err != nil {
		return nil, err
	}

	ca := &model.CertificateAuthority{Name: name, ConfigYAML: configYAML}
	rec := &model.Certificate{}
	defer func() {
		if p := recover(); p != nil {
			r.compensate(ctx, ca, rec)
			panic(p)
		}
		if err != nil {
			r.compensate(ctx, ca, rec)
		}
	}()

	if err = r.store.CreateAuthority(ctx, ca); err != nil {
		return nil, err
	}
	signingID := ca.ID
	if req.ParentName != "" {
		parent, err := r.store.FindAuthorityByName(ctx, req.ParentName)
		if err != nil {
			return nil, fmt.Errorf("parent of CA %q: %w", name, err)
		}
		signingID = parent.ID
	}

	rec = &model.Certificate{
		PublicKey:   string(pki.EncodeCertificatePEM(cert)),
		PrivateKey:  string(req.PrivateKeyPEM),
		Password:    req.CertPassword,
		SigningCAID: signingID,
	}
	if err = r.store.CreateCertificate(ctx, rec); err != nil {
		return nil, err
	}
	if err = r.store.LinkCertificate(ctx, ca, rec.ID); err != nil {
		return nil, err
	}
	return ca, nil
}

func (r *Registry) compensate(ctx context.Context, ca *model.CertificateAuthority, cert *model.Certificate) {
	ctx = context.WithoutCancel(ctx)
	if cert.Persisted() {
		if err := r.store.DeleteCertificate(ctx, cert.ID); err != nil {
			r.logger.ErrorContext(ctx, "compensating delete of certificate failed", "certificate_id", cert.ID, "error", err)
		}
	}
	if ca.Persisted() {
		if err := r.store.DeleteAuthority(ctx, ca.ID); err != nil {
			r.logger.ErrorContext(ctx, "compensating delete of CA failed", "ca", ca.Name, "error", err)
		}
	}
}

// InitRootRequest describes a new self-signed root CA.
type InitRootRequest struct {
	Name    string
	Subject pki.Subject
	// ValidityPeriod is in seconds.
	ValidityPeriod int64
	ConfigJSON     string
	// PathLength limits the depth of subordinate CAs. Nil leaves it open.
	PathLength *int
	// Password encrypts the stored key and is kept as the certificate
	// password when StorePassword is set.
	Password      []byte
	StorePassword bool
}

// InitRoot generates a key, self-signs a root certificate and imports it.
func (r *Registry) InitRoot(ctx context.Context, req *InitRootRequest) (*model.CertificateAuthority, *x509.Certificate, error) {
	if req.Subject.Empty() {
		return nil, nil, fmt.Errorf("initializing root CA: subject is required")
	}
	notBefore, notAfter, err := pki.ConvertValidityPeriod(req.ValidityPeriod, time.Now())
	if err != nil {
		return nil, nil, err
	}

	keyID, err := r.keys.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = r.keys.Delete(keyID) }()
	key, err := r.keys.Signer(keyID)
	if err != nil {
		return nil, nil, err
	}

	cert, err := pki.SelfSign(&pki.EnforcedOptions{
		PublicKey: key.Public(),
		Subject:   req.Subject,
		Extensions: []pki.Extension{
			pki.BasicConstraints{CA: true, PathLength: req.PathLength},
			pki.KeyUsage{Usage: x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature},
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,
	}, key)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := r.keys.ExportPEM(keyID, req.Password)
	if err != nil {
		return nil, nil, err
	}

	imp := &ImportRequest{
		Name:           req.Name,
		CertificatePEM: pki.EncodeCertificatePEM(cert),
		PrivateKeyPEM:  keyPEM,
		KeyPassword:    req.Password,
		ConfigJSON:     req.ConfigJSON,
	}
	if req.StorePassword {
		imp.CertPassword = string(req.Password)
	}
	ca, err := r.ImportAuthority(ctx, imp)
	if err != nil {
		return nil, nil, err
	}
	return ca, cert, nil
}
