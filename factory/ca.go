package factory

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/flexiant/camanager/model"
	"github.com/flexiant/camanager/pki"
)

// Store is the subset of model.Store the CA factory writes through.
type Store interface {
	CreateAuthority(ctx context.Context, ca *model.CertificateAuthority) error
	FindAuthorityByName(ctx context.Context, name string) (*model.CertificateAuthority, error)
	LinkCertificate(ctx context.Context, ca *model.CertificateAuthority, certID string) error
	DeleteAuthority(ctx context.Context, id string) error
	CreateCertificate(ctx context.Context, c *model.Certificate) error
	GetCertificate(ctx context.Context, id string) (*model.Certificate, error)
	DeleteCertificate(ctx context.Context, id string) error
}

// CARequest describes a new subordinate CA.
type CARequest struct {
	// ParentName is the name of the signing CA's record. An empty or unknown
	// name leaves the new certificate without a signing CA reference.
	ParentName     string
	CAName         *string
	Profile        *string
	ValidityPeriod *int64
	Extensions     *Extensions
	MessageDigest  string
	// CAConfig is the JSON profile configuration of the new CA.
	CAConfig string
	// CAPassword encrypts the new private key. Empty stores it unencrypted.
	CAPassword     []byte
	CACertPassword string
}

// RenewRequest describes the renewal of an existing CA's certificate.
type RenewRequest struct {
	ParentName     string
	CAName         *string
	Profile        *string
	ValidityPeriod *int64
	Extensions     *Extensions
	MessageDigest  string
	// CAPassword decrypts the current private key. When empty the stored
	// certificate password is tried.
	CAPassword []byte
}

// CAFactory creates and renews CAs.
type CAFactory struct {
	store  Store
	certs  *CertificateFactory
	csrs   *pki.CSRBuilder
	logger *slog.Logger
}

// CAFactoryOption configures a CAFactory.
type CAFactoryOption func(*CAFactory)

func WithCertificateFactory(cf *CertificateFactory) CAFactoryOption {
	return func(f *CAFactory) { f.certs = cf }
}

// WithCSRBuilder sets the builder that generates keys for new CAs.
func WithCSRBuilder(b *pki.CSRBuilder) CAFactoryOption {
	return func(f *CAFactory) { f.csrs = b }
}

// WithLogger sets the logger used for compensation failures.
func WithLogger(l *slog.Logger) CAFactoryOption {
	return func(f *CAFactory) { f.logger = l }
}

func NewCAFactory(store Store, opts ...CAFactoryOption) *CAFactory {
	f := &CAFactory{
		store:  store,
		certs:  NewCertificateFactory(),
		csrs:   pki.NewCSRBuilder(nil),
		logger: slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build issues a certificate for a new CA under parent and stores the CA with
// its certificate. When storing fails part way, the records created by this
// call are deleted again before the error is returned.
func (f *CAFactory) Build(ctx context.Context, parent SigningCapability, subject pki.Subject, builder OptionsBuilder, req *CARequest) (*x509.Certificate, error) {
	if req == nil || req.CAName == nil || strings.TrimSpace(*req.CAName) == "" {
		return nil, ErrCANameRequired
	}
	if subject.Empty() {
		return nil, ErrSubjectRequired
	}

	csr, err := f.csrs.Build(subject, nil)
	if err != nil {
		return nil, err
	}
	cert, err := f.certs.Build(parent, subject, builder, &CertificateRequest{
		Profile:        req.Profile,
		ValidityPeriod: req.ValidityPeriod,
		CSR:            csr.PEM,
		Extensions:     req.Extensions,
		MessageDigest:  req.MessageDigest,
	})
	if err != nil {
		return nil, err
	}
	if err := f.storeCA(ctx, req, cert, csr.Key); err != nil {
		return nil, err
	}
	return cert, nil
}

func (f *CAFactory) storeCA(ctx context.Context, req *CARequest, cert *x509.Certificate, key crypto.Signer) (err error) {
	_, configYAML, err := pki.ParseCAConfig(req.CAConfig)
	if err != nil {
		return fmt.Errorf("%w: ca_config: %v", ErrInvalidArgument, err)
	}

	ca := &model.CertificateAuthority{Name: strings.TrimSpace(*req.CAName), ConfigYAML: configYAML}
	rec := &model.Certificate{}
	defer func() {
		if r := recover(); r != nil {
			f.compensate(ctx, ca, rec)
			panic(r)
		}
		if err != nil {
			f.compensate(ctx, ca, rec)
		}
	}()

	if err = f.store.CreateAuthority(ctx, ca); err != nil {
		return err
	}

	parentID, err := f.parentID(ctx, req.ParentName)
	if err != nil {
		return err
	}
	keyPEM, err := pki.EncodePrivateKey(key, req.CAPassword)
	if err != nil {
		return err
	}

	rec = &model.Certificate{
		PublicKey:   string(pki.EncodeCertificatePEM(cert)),
		PrivateKey:  string(keyPEM),
		Password:    req.CACertPassword,
		SigningCAID: parentID,
	}
	if err = f.store.CreateCertificate(ctx, rec); err != nil {
		return err
	}
	if err = f.store.LinkCertificate(ctx, ca, rec.ID); err != nil {
		return err
	}
	return nil
}

// Renew issues a new certificate for an existing CA with the same subject
// and key and links it as the CA's current certificate. The previous
// certificate stays stored.
func (f *CAFactory) Renew(ctx context.Context, parent SigningCapability, builder OptionsBuilder, logger *slog.Logger, req *RenewRequest) (*x509.Certificate, error) {
	if req == nil {
		req = &RenewRequest{}
	}
	var errs []error
	if parent == nil {
		errs = append(errs, ErrRootCANotFound)
	}
	if req.Profile == nil {
		errs = append(errs, ErrProfileRequired)
	}
	if req.ValidityPeriod == nil {
		errs = append(errs, ErrValidityRequired)
	}
	if req.CAName == nil || strings.TrimSpace(*req.CAName) == "" {
		errs = append(errs, ErrRenewCANameRequired)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if logger == nil {
		logger = f.logger
	}

	name := strings.TrimSpace(*req.CAName)
	ca, err := f.store.FindAuthorityByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("CA to renew %q: %w", name, err)
	}
	if ca.CACertificateID == "" {
		return nil, fmt.Errorf("%w: CA %q has no certificate", ErrInvalidArgument, name)
	}
	current, err := f.store.GetCertificate(ctx, ca.CACertificateID)
	if err != nil {
		return nil, err
	}
	auth, err := current.Authority(req.CAPassword)
	if err != nil {
		return nil, err
	}
	if auth.Signer() == nil {
		return nil, fmt.Errorf("renewing CA %q: %w", name, pki.ErrNoPrivateKey)
	}

	subject := pki.SubjectFromName(auth.Certificate().Subject)
	logger.InfoContext(ctx, "renewing certificate authority", "ca", name, "subject", subject.String())

	csr, err := f.csrs.BuildRaw(auth.Certificate().RawSubject, auth.Signer())
	if err != nil {
		return nil, err
	}
	cert, err := f.certs.Build(parent, subject, builder, &CertificateRequest{
		Profile:        req.Profile,
		ValidityPeriod: req.ValidityPeriod,
		CSR:            csr.PEM,
		Extensions:     req.Extensions,
		MessageDigest:  req.MessageDigest,
	})
	if err != nil {
		return nil, err
	}
	if err := f.storeRenewedCertificate(ctx, ca, current, cert, req.ParentName); err != nil {
		return nil, err
	}
	return cert, nil
}

func (f *CAFactory) storeRenewedCertificate(ctx context.Context, ca *model.CertificateAuthority, current *model.Certificate, cert *x509.Certificate, parentName string) (err error) {
	rec := &model.Certificate{}
	defer func() {
		if r := recover(); r != nil {
			f.compensate(ctx, nil, rec)
			panic(r)
		}
		if err != nil {
			f.compensate(ctx, nil, rec)
		}
	}()

	parentID, err := f.parentID(ctx, parentName)
	if err != nil {
		return err
	}
	rec = &model.Certificate{
		PublicKey:   string(pki.EncodeCertificatePEM(cert)),
		PrivateKey:  current.PrivateKey,
		Password:    current.Password,
		SigningCAID: parentID,
	}
	if err = f.store.CreateCertificate(ctx, rec); err != nil {
		return err
	}
	if err = f.store.LinkCertificate(ctx, ca, rec.ID); err != nil {
		return err
	}
	return nil
}

// parentID resolves the signing CA record by name. A missing record is not
// an error; roots may exist only outside the store.
func (f *CAFactory) parentID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	parent, err := f.store.FindAuthorityByName(ctx, name)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return parent.ID, nil
}

// compensate deletes whichever of the records received an identity.
func (f *CAFactory) compensate(ctx context.Context, ca *model.CertificateAuthority, cert *model.Certificate) {
	ctx = context.WithoutCancel(ctx)
	if cert.Persisted() {
		if err := f.store.DeleteCertificate(ctx, cert.ID); err != nil {
			f.logger.ErrorContext(ctx, "compensating delete of certificate failed", "certificate_id", cert.ID, "error", err)
		}
	}
	if ca.Persisted() {
		if err := f.store.DeleteAuthority(ctx, ca.ID); err != nil {
			f.logger.ErrorContext(ctx, "compensating delete of CA failed", "ca", ca.Name, "error", err)
		}
	}
}
