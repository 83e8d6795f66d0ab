package model

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/flexiant/camanager/internal/uuid"
	"github.com/flexiant/camanager/storage"
)

// RevocationChecker reports whether a serial is currently revoked by the
// named CA.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, caName, serial string) (bool, error)
}

// Store persists CA and certificate records.
type Store struct {
	repo        storage.Repository
	revocations RevocationChecker
	now         func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store over repo. revocations derives the revoked state
// of CAs for name uniqueness.
func NewStore(repo storage.Repository, revocations RevocationChecker, opts ...StoreOption) *Store {
	s := &Store{repo: repo, revocations: revocations, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// ---------------------------------------------------------------------------
// Certificate authorities
// ---------------------------------------------------------------------------

// CreateAuthority validates and saves a new CA. The ID is assigned only when
// the record was stored.
func (s *Store) CreateAuthority(ctx context.Context, ca *CertificateAuthority) error {
	if ca.Persisted() {
		return fmt.Errorf("certificate authority %s already persisted", ca.ID)
	}
	if err := s.validateAuthority(ctx, ca, ""); err != nil {
		return err
	}

	id := uuid.New()
	now := s.now().UTC()
	rec := *ca
	rec.ID, rec.CreatedAt, rec.UpdatedAt = id, now, now

	doc, err := storage.Encode(&rec, 1)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(ctx, CollectionAuthorities, id, 0, doc); err != nil {
		return fmt.Errorf("storing certificate authority %q: %w", ca.Name, err)
	}
	rec.Version = 1
	*ca = rec
	return nil
}

// UpdateAuthority validates and saves changes to a stored CA. Concurrent
// updates are detected through the document version.
func (s *Store) UpdateAuthority(ctx context.Context, ca *CertificateAuthority) error {
	if !ca.Persisted() {
		return fmt.Errorf("certificate authority %q has not been created", ca.Name)
	}
	if err := s.validateAuthority(ctx, ca, ca.ID); err != nil {
		return err
	}
	if ca.CACertificateID != "" {
		if _, err := s.GetCertificate(ctx, ca.CACertificateID); err != nil {
			return &ValidationError{Entity: "certificate authority", Fields: map[string][]string{
				"ca_certificate": {"does not exist"},
			}}
		}
	}

	rec := *ca
	rec.UpdatedAt = s.now().UTC()
	doc, err := storage.Encode(&rec, ca.Version+1)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(ctx, CollectionAuthorities, ca.ID, ca.Version, doc); err != nil {
		return fmt.Errorf("updating certificate authority %q: %w", ca.Name, err)
	}
	rec.Version = ca.Version + 1
	*ca = rec
	return nil
}

// LinkCertificate points the CA at certID as its current certificate.
// The in-memory record is left unchanged when the update fails.
func (s *Store) LinkCertificate(ctx context.Context, ca *CertificateAuthority, certID string) error {
	prev := ca.CACertificateID
	ca.CACertificateID = certID
	if err := s.UpdateAuthority(ctx, ca); err != nil {
		ca.CACertificateID = prev
		return err
	}
	return nil
}

// LinkOCSPCertificate sets the certificate that signs OCSP responses for
// the CA.
func (s *Store) LinkOCSPCertificate(ctx context.Context, ca *CertificateAuthority, certID string) error {
	if _, err := s.GetCertificate(ctx, certID); err != nil {
		return err
	}
	prev := ca.OCSPCertificateID
	ca.OCSPCertificateID = certID
	if err := s.UpdateAuthority(ctx, ca); err != nil {
		ca.OCSPCertificateID = prev
		return err
	}
	return nil
}

func (s *Store) GetAuthority(ctx context.Context, id string) (*CertificateAuthority, error) {
	doc, err := s.repo.Get(ctx, CollectionAuthorities, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound("certificate authority", id)
	}
	if err != nil {
		return nil, err
	}
	var ca CertificateAuthority
	if err := doc.Decode(&ca); err != nil {
		return nil, err
	}
	ca.Version = doc.Version
	return &ca, nil
}

// DeleteAuthority removes a CA record.
func (s *Store) DeleteAuthority(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, CollectionAuthorities, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound("certificate authority", id)
		}
		return err
	}
	return nil
}

// ListAuthorities returns every CA ordered by creation time.
func (s *Store) ListAuthorities(ctx context.Context) ([]*CertificateAuthority, error) {
	ids, err := s.repo.List(ctx, CollectionAuthorities)
	if err != nil {
		return nil, err
	}
	cas := make([]*CertificateAuthority, 0, len(ids))
	for _, id := range ids {
		ca, err := s.GetAuthority(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cas = append(cas, ca)
	}
	slices.SortFunc(cas, func(a, b *CertificateAuthority) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return cas, nil
}

// FindAuthorityByName returns the CA with the given name, preferring one
// that is not revoked. Revoked CAs keep their name, so several records may
// share it. Only records carrying the name consult the ledger.
func (s *Store) FindAuthorityByName(ctx context.Context, name string) (*CertificateAuthority, error) {
	cas, err := s.ListAuthorities(ctx)
	if err != nil {
		return nil, err
	}
	var fallback *CertificateAuthority
	for _, ca := range cas {
		if ca.Name != name {
			continue
		}
		revoked, err := s.IsAuthorityRevoked(ctx, ca)
		if err != nil {
			return nil, err
		}
		if !revoked {
			return ca, nil
		}
		if fallback == nil {
			fallback = ca
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, notFound("certificate authority", name)
}

// IsAuthorityRevoked reports whether the CA's current certificate is revoked.
// A CA without a certificate is not revoked.
func (s *Store) IsAuthorityRevoked(ctx context.Context, ca *CertificateAuthority) (bool, error) {
	if ca.CACertificateID == "" {
		return false, nil
	}
	cert, err := s.GetCertificate(ctx, ca.CACertificateID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.IsCertificateRevoked(ctx, cert)
}

func (s *Store) validateAuthority(ctx context.Context, ca *CertificateAuthority, selfID string) error {
	verr := &ValidationError{Entity: "certificate authority"}
	if strings.TrimSpace(ca.Name) == "" {
		verr.add("name", "can't be blank")
		return verr
	}

	revoked, err := s.IsAuthorityRevoked(ctx, ca)
	if err != nil {
		return err
	}
	if !revoked {
		taken, err := s.nameTaken(ctx, ca.Name, selfID)
		if err != nil {
			return err
		}
		if taken {
			verr.add("name", "is already taken")
		}
	}
	return verr.orNil()
}

// nameTaken reports whether another non-revoked CA uses name.
func (s *Store) nameTaken(ctx context.Context, name, selfID string) (bool, error) {
	cas, err := s.ListAuthorities(ctx)
	if err != nil {
		return false, err
	}
	for _, other := range cas {
		if other.ID == selfID || other.Name != name {
			continue
		}
		revoked, err := s.IsAuthorityRevoked(ctx, other)
		if err != nil {
			return false, err
		}
		if !revoked {
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Certificates
// ---------------------------------------------------------------------------

// CreateCertificate validates and saves a new certificate. The ID is
// assigned only when the record was stored.
func (s *Store) CreateCertificate(ctx context.Context, c *Certificate) error {
	if c.Persisted() {
		return fmt.Errorf("certificate %s already persisted", c.ID)
	}
	verr := &ValidationError{Entity: "certificate"}
	if strings.TrimSpace(c.PublicKey) == "" {
		verr.add("public_key", "can't be blank")
	} else if _, err := c.X509(); err != nil {
		verr.add("public_key", "is not a valid certificate")
	}
	if c.SigningCAID != "" {
		if _, err := s.GetAuthority(ctx, c.SigningCAID); err != nil {
			verr.add("signing_ca", "does not exist")
		}
	}
	if err := verr.orNil(); err != nil {
		return err
	}

	id := uuid.New()
	rec := *c
	rec.ID, rec.CreatedAt = id, s.now().UTC()

	doc, err := storage.Encode(&rec, 1)
	if err != nil {
		return err
	}
	if err := s.repo.PutCAS(ctx, CollectionCertificates, id, 0, doc); err != nil {
		return fmt.Errorf("storing certificate: %w", err)
	}
	*c = rec
	return nil
}

func (s *Store) GetCertificate(ctx context.Context, id string) (*Certificate, error) {
	doc, err := s.repo.Get(ctx, CollectionCertificates, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound("certificate", id)
	}
	if err != nil {
		return nil, err
	}
	var c Certificate
	if err := doc.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCertificate removes a certificate record.
func (s *Store) DeleteCertificate(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, CollectionCertificates, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound("certificate", id)
		}
		return err
	}
	return nil
}

// SignedCertificates returns the certificates whose signing CA is caID.
func (s *Store) SignedCertificates(ctx context.Context, caID string) ([]*Certificate, error) {
	ids, err := s.repo.List(ctx, CollectionCertificates)
	if err != nil {
		return nil, err
	}
	var certs []*Certificate
	for _, id := range ids {
		c, err := s.GetCertificate(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.SigningCAID == caID {
			certs = append(certs, c)
		}
	}
	slices.SortFunc(certs, func(a, b *Certificate) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return certs, nil
}

// SigningAuthority resolves the certificate's signing CA, or nil when it has
// none.
func (s *Store) SigningAuthority(ctx context.Context, c *Certificate) (*CertificateAuthority, error) {
	if c.SigningCAID == "" {
		return nil, nil
	}
	return s.GetAuthority(ctx, c.SigningCAID)
}

// IsCertificateRevoked asks the ledger of the signing CA whether the
// certificate's serial is revoked.
func (s *Store) IsCertificateRevoked(ctx context.Context, c *Certificate) (bool, error) {
	if s.revocations == nil {
		return false, nil
	}
	signer, err := s.SigningAuthority(ctx, c)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if signer == nil {
		return false, nil
	}
	serial, err := c.Serial()
	if err != nil {
		return false, err
	}
	return s.revocations.IsRevoked(ctx, signer.Name, serial)
}
