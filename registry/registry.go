// Package registry resolves CA names to the capabilities the factories and
// the HTTP layer work with: a signing authority, a CRL administrator bound to
// the revocation ledger, a profile enforcing options builder and an OCSP
// responder. It also provisions root CAs outside the issuance flow.
package registry

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/flexiant/camanager/ledger"
	"github.com/flexiant/camanager/model"
	"github.com/flexiant/camanager/pki"
)

// ErrNoCertificate is returned for a CA record that has no linked
// certificate.
var ErrNoCertificate = errors.New("CA has no certificate")

// Registry looks up CAs in the store.
type Registry struct {
	store  *model.Store
	ledger *ledger.Ledger
	keys   pki.KeyStore
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for compensation failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithKeyStore sets where InitRoot generates root keys.
func WithKeyStore(ks pki.KeyStore) Option {
	return func(r *Registry) { r.keys = ks }
}

func New(store *model.Store, l *ledger.Ledger, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		ledger: l,
		keys:   pki.NewSoftwareKeyStore(),
		logger: slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the record store the registry reads from.
func (r *Registry) Store() *model.Store { return r.store }

// Ledger returns the revocation ledger.
func (r *Registry) Ledger() *ledger.Ledger { return r.ledger }

// lookup returns the CA record and its current certificate record.
func (r *Registry) lookup(ctx context.Context, name string) (*model.CertificateAuthority, *model.Certificate, error) {
	ca, err := r.store.FindAuthorityByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if ca.CACertificateID == "" {
		return nil, nil, fmt.Errorf("%q: %w", name, ErrNoCertificate)
	}
	cert, err := r.store.GetCertificate(ctx, ca.CACertificateID)
	if err != nil {
		return nil, nil, err
	}
	return ca, cert, nil
}

// Authority returns the signing capability of the named CA. password
// decrypts the CA key; when empty the stored certificate password is used.
func (r *Registry) Authority(ctx context.Context, name string, password []byte) (*pki.Authority, error) {
	_, cert, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return cert.Authority(password)
}

// Config returns the parsed profile configuration of the named CA.
func (r *Registry) Config(ctx context.Context, name string) (*pki.Config, error) {
	ca, err := r.store.FindAuthorityByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return ca.Config()
}

// OptionsBuilder returns a builder enforcing the named CA's profiles.
func (r *Registry) OptionsBuilder(ctx context.Context, name string) (*pki.OptionsBuilder, error) {
	cfg, err := r.Config(ctx, name)
	if err != nil {
		return nil, err
	}
	return pki.NewOptionsBuilder(cfg), nil
}

// CRL returns a CRL administrator for the named CA. Without a usable key the
// administrator can still record revocations but cannot sign a CRL.
func (r *Registry) CRL(ctx context.Context, name string, password []byte) (*pki.CRLAdministrator, error) {
	ca, certRec, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg, err := ca.Config()
	if err != nil {
		return nil, err
	}
	auth, err := certRec.Authority(password)
	if err != nil {
		return nil, err
	}
	return pki.NewCRLAdministrator(ca.Name, auth.Certificate(), auth.Signer(), cfg, r.ledger), nil
}

// GenerateCRL signs a new CRL for the named CA and stores it as the CA's
// current CRL.
func (r *Registry) GenerateCRL(ctx context.Context, name string, password []byte) ([]byte, error) {
	admin, err := r.CRL(ctx, name, password)
	if err != nil {
		return nil, err
	}
	crlPEM, err := admin.GenerateCRL(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.StoreCRL(ctx, admin.CAName(), crlPEM); err != nil {
		return nil, err
	}
	return crlPEM, nil
}

// StoredCRL returns the last CRL generated for the named CA.
func (r *Registry) StoredCRL(ctx context.Context, name string) (*ledger.StoredCRL, error) {
	return r.ledger.LoadCRL(ctx, name)
}

// OCSPResponder returns a responder for the named CA. The CA's OCSP
// certificate signs responses when it is linked and carries a key.
func (r *Registry) OCSPResponder(ctx context.Context, name string, password []byte) (*pki.OCSPResponder, error) {
	ca, certRec, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg, err := ca.Config()
	if err != nil {
		return nil, err
	}
	auth, err := certRec.Authority(password)
	if err != nil {
		return nil, err
	}

	var responder *x509.Certificate
	signer := auth.Signer()
	if ca.OCSPCertificateID != "" {
		ocspRec, err := r.store.GetCertificate(ctx, ca.OCSPCertificateID)
		if err != nil {
			return nil, err
		}
		ocspAuth, err := ocspRec.Authority(nil)
		if err != nil {
			return nil, err
		}
		if ocspAuth.Signer() != nil {
			responder, signer = ocspAuth.Certificate(), ocspAuth.Signer()
		}
	}
	return pki.NewOCSPResponder(ca.Name, auth.Certificate(), responder, signer, cfg, r.ledger), nil
}

// CertificateSerial returns the decimal serial of the named CA's current
// certificate.
func (r *Registry) CertificateSerial(ctx context.Context, name string) (string, error) {
	_, cert, err := r.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	return cert.Serial()
}

// Authorities returns every stored CA.
func (r *Registry) Authorities(ctx context.Context) ([]*model.CertificateAuthority, error) {
	return r.store.ListAuthorities(ctx)
}

// Names returns the sorted, distinct names of the stored CAs.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	cas, err := r.store.ListAuthorities(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cas))
	for _, ca := range cas {
		names = append(names, ca.Name)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}
