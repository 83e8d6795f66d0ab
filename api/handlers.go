package api

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"

	"github.com/flexiant/camanager/factory"
	"github.com/flexiant/camanager/model"
	"github.com/flexiant/camanager/pki"
)

const (
	maxOCSPRequestSize = 64 << 10
	pemContentType     = "application/x-pem-file"
)

// lockSecret moves a request password into locked memory. The returned
// release func destroys it; callers defer it for the request.
func lockSecret(s string) ([]byte, func()) {
	if s == "" {
		return nil, func() {}
	}
	buf := memguard.NewBufferFromBytes([]byte(s))
	return buf.Bytes(), buf.Destroy
}

func writePEM(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", pemContentType)
	w.WriteHeader(status)
	w.Write(data)
}

// capabilities resolves the signing capability and options builder of the
// named CA. An unknown CA yields nil capabilities so the factory reports
// its own precondition error.
func (a *API) capabilities(ctx context.Context, name string, password []byte) (factory.SigningCapability, factory.OptionsBuilder, error) {
	auth, err := a.registry.Authority(ctx, name, password)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	builder, err := a.registry.OptionsBuilder(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return auth, builder, nil
}

// requestSubject parses the subject DN. A blank DN falls back to the subject
// carried by csr.
func requestSubject(dn, csr string) (pki.Subject, error) {
	subject, err := pki.ParseSubject(dn)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", factory.ErrInvalidArgument, err)
	}
	if subject.Empty() && strings.TrimSpace(csr) != "" {
		req, err := pki.ParseCSRPEM([]byte(csr))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", factory.ErrInvalidArgument, err)
		}
		subject = pki.SubjectFromName(req.Subject)
	}
	return subject, nil
}

func optionalBytes(s string) []byte {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []byte(s)
}

// IssueCertificate handles POST /1/certificate/issue.
func (a *API) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[IssueCertificateRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.CA == "" {
		writeError(w, http.StatusBadRequest, "must provide a CA")
		return
	}
	password, release := lockSecret(req.Password)
	defer release()

	cert, err := a.issue(r.Context(), req, password)
	if err != nil {
		a.audit.logFailure(AuditIssuanceFailed, r, req.CA, err.Error())
		mapError(w, "failed to issue certificate", err)
		return
	}
	a.audit.log(AuditCertIssued, r, req.CA, pki.SerialOf(cert),
		slog.String("subject", pki.SubjectFromName(cert.Subject).String()))
	writePEM(w, http.StatusOK, pki.EncodeCertificatePEM(cert))
}

func (a *API) issue(ctx context.Context, req *IssueCertificateRequest, password []byte) (*x509.Certificate, error) {
	subject, err := requestSubject(req.Subject, req.CSR)
	if err != nil {
		return nil, err
	}
	signer, builder, err := a.capabilities(ctx, req.CA, password)
	if err != nil {
		return nil, err
	}
	return a.certs.Build(signer, subject, builder, &factory.CertificateRequest{
		Profile:        req.Profile,
		ValidityPeriod: req.ValidityPeriod,
		CSR:            optionalBytes(req.CSR),
		SPKI:           optionalBytes(req.SPKI),
		Extensions:     req.Extensions,
		MessageDigest:  req.MessageDigest,
	})
}

// RevokeCertificate handles POST /1/certificate/revoke and returns the
// regenerated CRL.
func (a *API) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RevokeCertificateRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.CA == "" || req.Serial == "" {
		writeError(w, http.StatusBadRequest, "CA and serial must be provided")
		return
	}
	a.changeRevocation(w, r, req.CA, req.Password, req.Serial, req.Reason, true, AuditCertRevoked)
}

// UnrevokeCertificate handles POST /1/certificate/unrevoke and returns the
// regenerated CRL.
func (a *API) UnrevokeCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RevokeCertificateRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.CA == "" || req.Serial == "" {
		writeError(w, http.StatusBadRequest, "CA and serial must be provided")
		return
	}
	a.changeRevocation(w, r, req.CA, req.Password, req.Serial, nil, false, AuditCertUnrevoked)
}

// RevokeCA handles POST /1/cas/revoke. The subordinate's current
// certificate is revoked on the CRL of the parent CA named by "ca".
func (a *API) RevokeCA(w http.ResponseWriter, r *http.Request) {
	a.changeCARevocation(w, r, true, AuditCARevoked)
}

// UnrevokeCA handles POST /1/cas/unrevoke.
func (a *API) UnrevokeCA(w http.ResponseWriter, r *http.Request) {
	a.changeCARevocation(w, r, false, AuditCAUnrevoked)
}

func (a *API) changeCARevocation(w http.ResponseWriter, r *http.Request, revoke bool, event AuditEvent) {
	req, ok := decodeJSON[RevokeCARequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.CA == "" || req.CAName == "" {
		writeError(w, http.StatusBadRequest, "CA and name of the subordinate CA must be provided")
		return
	}
	serial, err := a.registry.CertificateSerial(r.Context(), req.CAName)
	if err != nil {
		mapError(w, "failed to resolve subordinate CA", err)
		return
	}
	a.changeRevocation(w, r, req.CA, req.Password, serial, req.Reason, revoke, event)
}

// changeRevocation revokes or unrevokes serial on ca, then regenerates and
// stores the CA's CRL and writes it as the response.
func (a *API) changeRevocation(w http.ResponseWriter, r *http.Request, ca, rawPassword, serial string, reason *int, revoke bool, event AuditEvent) {
	password, release := lockSecret(rawPassword)
	defer release()
	ctx := r.Context()

	admin, err := a.registry.CRL(ctx, ca, password)
	if err != nil {
		mapError(w, "failed to load CRL administrator", err)
		return
	}
	if revoke {
		err = admin.RevokeCert(ctx, serial, reason)
	} else {
		err = admin.UnrevokeCert(ctx, serial)
	}
	if err != nil {
		mapError(w, "failed to update revocation state", err)
		return
	}

	var extra []slog.Attr
	if reason != nil {
		extra = append(extra, slog.Int("reason", *reason))
	}
	a.audit.log(event, r, ca, serial, extra...)

	crlPEM, err := a.registry.GenerateCRL(ctx, ca, password)
	if err != nil {
		mapError(w, "failed to generate CRL", err)
		return
	}
	a.audit.log(AuditCRLGenerated, r, ca, "")
	writePEM(w, http.StatusOK, crlPEM)
}

// CreateCA handles POST /1/cas.
func (a *API) CreateCA(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateCARequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.CA == "" {
		writeError(w, http.StatusBadRequest, "must provide a root CA")
		return
	}
	password, release := lockSecret(req.Password)
	defer release()
	caPassword, releaseCA := lockSecret(req.CAPassword)
	defer releaseCA()
	ctx := r.Context()

	subject, err := pki.ParseSubject(req.Subject)
	if err != nil {
		mapError(w, "invalid subject", fmt.Errorf("%w: subject: %v", factory.ErrInvalidArgument, err))
		return
	}
	parent, builder, err := a.capabilities(ctx, req.CA, password)
	if err != nil {
		mapError(w, "failed to load CA", err)
		return
	}
	cert, err := a.cas.Build(ctx, parent, subject, builder, &factory.CARequest{
		ParentName:     req.CA,
		CAName:         req.CAName,
		Profile:        req.Profile,
		ValidityPeriod: req.ValidityPeriod,
		Extensions:     req.Extensions,
		MessageDigest:  req.MessageDigest,
		CAConfig:       req.CAConfig,
		CAPassword:     caPassword,
		CACertPassword: req.CACertPassword,
	})
	if err != nil {
		a.audit.logFailure(AuditIssuanceFailed, r, req.CA, err.Error())
		mapError(w, "failed to create CA", err)
		return
	}
	a.audit.log(AuditCACreated, r, *req.CAName, pki.SerialOf(cert), slog.String("parent", req.CA))
	writePEM(w, http.StatusCreated, pki.EncodeCertificatePEM(cert))
}

// RenewCA handles POST /1/cas/renew.
func (a *API) RenewCA(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RenewCARequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.CA == "" {
		writeError(w, http.StatusBadRequest, "must provide a root CA")
		return
	}
	password, release := lockSecret(req.Password)
	defer release()
	caPassword, releaseCA := lockSecret(req.CAPassword)
	defer releaseCA()
	ctx := r.Context()

	parent, builder, err := a.capabilities(ctx, req.CA, password)
	if err != nil {
		mapError(w, "failed to load CA", err)
		return
	}
	cert, err := a.cas.Renew(ctx, parent, builder, a.logger, &factory.RenewRequest{
		ParentName:     req.CA,
		CAName:         req.CAName,
		Profile:        req.Profile,
		ValidityPeriod: req.ValidityPeriod,
		Extensions:     req.Extensions,
		MessageDigest:  req.MessageDigest,
		CAPassword:     caPassword,
	})
	if err != nil {
		a.audit.logFailure(AuditIssuanceFailed, r, req.CA, err.Error())
		mapError(w, "failed to renew CA", err)
		return
	}
	a.audit.log(AuditCARenewed, r, *req.CAName, pki.SerialOf(cert), slog.String("parent", req.CA))
	writePEM(w, http.StatusOK, pki.EncodeCertificatePEM(cert))
}

// ListCAs handles GET /1/cas.
func (a *API) ListCAs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := a.registry.Store()
	cas, err := a.registry.Authorities(ctx)
	if err != nil {
		writeInternalError(w, "failed to list CAs", err)
		return
	}

	summaries := make([]CASummary, 0, len(cas))
	for _, ca := range cas {
		s, err := a.summarize(ctx, store, ca)
		if err != nil {
			writeInternalError(w, "failed to list CAs", err)
			return
		}
		summaries = append(summaries, s)
	}

	limit, offset := parsePagination(r)
	page, meta := paginate(summaries, limit, offset)
	writeJSON(w, http.StatusOK, ListCAsResponse{CAs: page, PaginationMeta: meta})
}

func (a *API) summarize(ctx context.Context, store *model.Store, ca *model.CertificateAuthority) (CASummary, error) {
	s := CASummary{
		ID:        ca.ID,
		Name:      ca.Name,
		CreatedAt: ca.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ca.CACertificateID == "" {
		return s, nil
	}
	rec, err := store.GetCertificate(ctx, ca.CACertificateID)
	if errors.Is(err, model.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	cert, err := rec.X509()
	if err != nil {
		return s, err
	}
	info := pki.Describe(cert)
	s.SerialNumber = info.SerialNumber
	s.Subject = info.Subject
	s.Issuer = info.Issuer
	s.NotBefore = info.NotBefore
	s.NotAfter = info.NotAfter

	if signing, err := store.SigningAuthority(ctx, rec); err == nil && signing != nil {
		s.SigningCA = signing.Name
	}
	if s.Revoked, err = store.IsAuthorityRevoked(ctx, ca); err != nil {
		return s, err
	}
	return s, nil
}

// GetCACertificate handles GET /1/cas/{ca}/certificate.
func (a *API) GetCACertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := a.registry.Store()
	ca, err := store.FindAuthorityByName(ctx, chi.URLParam(r, "ca"))
	if err != nil {
		mapError(w, "failed to load CA", err)
		return
	}
	if ca.CACertificateID == "" {
		writeError(w, http.StatusNotFound, "CA has no certificate")
		return
	}
	rec, err := store.GetCertificate(ctx, ca.CACertificateID)
	if err != nil {
		mapError(w, "failed to load CA certificate", err)
		return
	}
	writePEM(w, http.StatusOK, []byte(rec.PublicKey))
}

// GenerateCRL handles GET /1/crl/{ca}/generate. The CA key is unlocked with
// the stored certificate password or the "password" query parameter.
func (a *API) GenerateCRL(w http.ResponseWriter, r *http.Request) {
	a.generateCRL(w, r, chi.URLParam(r, "ca"), r.URL.Query().Get("password"))
}

// GenerateCRLForm handles POST /1/crl/generate.
func (a *API) GenerateCRLForm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[GenerateCRLRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.CA == "" {
		writeError(w, http.StatusBadRequest, "CA must be provided")
		return
	}
	a.generateCRL(w, r, req.CA, req.Password)
}

func (a *API) generateCRL(w http.ResponseWriter, r *http.Request, ca, rawPassword string) {
	password, release := lockSecret(rawPassword)
	defer release()

	crlPEM, err := a.registry.GenerateCRL(r.Context(), ca, password)
	if err != nil {
		mapError(w, "failed to generate CRL", err)
		return
	}
	a.audit.log(AuditCRLGenerated, r, ca, "")
	writePEM(w, http.StatusOK, crlPEM)
}

// DistributeCRL handles GET /crls/{ca}.crl and serves the last generated
// CRL in DER form.
func (a *API) DistributeCRL(w http.ResponseWriter, r *http.Request) {
	stored, err := a.registry.StoredCRL(r.Context(), chi.URLParam(r, "ca"))
	if err != nil {
		mapError(w, "failed to load CRL", err)
		return
	}
	der, err := pki.DecodeCRLPEM([]byte(stored.CRLPEM))
	if err != nil {
		writeInternalError(w, "failed to decode stored CRL", err)
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	w.Header().Set("Last-Modified", stored.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(der)))
	w.Write(der)
}

// OCSP handles POST /1/ocsp/{ca} with a DER encoded OCSP request body.
func (a *API) OCSP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOCSPRequestSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	responder, err := a.registry.OCSPResponder(r.Context(), chi.URLParam(r, "ca"), nil)
	if err != nil {
		mapError(w, "failed to load OCSP responder", err)
		return
	}
	resp, err := responder.Respond(r.Context(), body)
	if errors.Is(err, pki.ErrMalformedOCSPRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		mapError(w, "failed to answer OCSP request", err)
		return
	}
	w.Header().Set("Content-Type", "application/ocsp-response")
	w.Write(resp)
}

// ListAuditEvents handles GET /1/audit. The optional "ca" query parameter
// filters by CA name.
func (a *API) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil || a.audit.store == nil {
		writeError(w, http.StatusNotFound, "audit trail is not persisted")
		return
	}
	entries, err := a.audit.store.list(r.Context(), r.URL.Query().Get("ca"))
	if err != nil {
		writeInternalError(w, "failed to list audit events", err)
		return
	}
	events := make([]AuditEventResponse, 0, len(entries))
	for _, e := range entries {
		events = append(events, AuditEventResponse{
			ID:        e.ID,
			Event:     string(e.Event),
			CA:        e.CA,
			Serial:    e.Serial,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	limit, offset := parsePagination(r)
	page, meta := paginate(events, limit, offset)
	writeJSON(w, http.StatusOK, ListAuditEventsResponse{Events: page, PaginationMeta: meta})
}
