package api

import "github.com/flexiant/camanager/factory"

// IssueCertificateRequest is the JSON body for POST /1/certificate/issue.
type IssueCertificateRequest struct {
	CA             string              `json:"ca"`
	Password       string              `json:"password,omitempty"`
	Subject        string              `json:"subject,omitempty"`
	Profile        *string             `json:"profile,omitempty"`
	ValidityPeriod *int64              `json:"validity_period,omitempty"`
	CSR            string              `json:"csr,omitempty"`
	SPKI           string              `json:"spki,omitempty"`
	Extensions     *factory.Extensions `json:"extensions,omitempty"`
	MessageDigest  string              `json:"message_digest,omitempty"`
}

// RevokeCertificateRequest is the JSON body for POST /1/certificate/revoke
// and POST /1/certificate/unrevoke.
type RevokeCertificateRequest struct {
	CA       string `json:"ca"`
	Password string `json:"password,omitempty"`
	Serial   string `json:"serial"`
	// Reason is a CRL reason code. Unrevoke ignores it.
	Reason *int `json:"reason,omitempty"`
}

// CreateCARequest is the JSON body for POST /1/cas.
type CreateCARequest struct {
	CA             string              `json:"ca"`
	Password       string              `json:"password,omitempty"`
	CAName         *string             `json:"ca_name,omitempty"`
	Subject        string              `json:"subject,omitempty"`
	Profile        *string             `json:"profile,omitempty"`
	ValidityPeriod *int64              `json:"validity_period,omitempty"`
	Extensions     *factory.Extensions `json:"extensions,omitempty"`
	MessageDigest  string              `json:"message_digest,omitempty"`
	CAConfig       string              `json:"ca_config,omitempty"`
	CAPassword     string              `json:"ca_password,omitempty"`
	CACertPassword string              `json:"ca_cert_password,omitempty"`
}

// RenewCARequest is the JSON body for POST /1/cas/renew.
type RenewCARequest struct {
	CA             string              `json:"ca"`
	Password       string              `json:"password,omitempty"`
	CAName         *string             `json:"ca_name,omitempty"`
	Profile        *string             `json:"profile,omitempty"`
	ValidityPeriod *int64              `json:"validity_period,omitempty"`
	Extensions     *factory.Extensions `json:"extensions,omitempty"`
	MessageDigest  string              `json:"message_digest,omitempty"`
	CAPassword     string              `json:"ca_password,omitempty"`
}

// RevokeCARequest is the JSON body for POST /1/cas/revoke and
// POST /1/cas/unrevoke.
type RevokeCARequest struct {
	CA       string `json:"ca"`
	Password string `json:"password,omitempty"`
	CAName   string `json:"ca_name"`
	Reason   *int   `json:"reason,omitempty"`
}

// GenerateCRLRequest is the JSON body for POST /1/crl/generate.
type GenerateCRLRequest struct {
	CA       string `json:"ca"`
	Password string `json:"password,omitempty"`
}

// CASummary describes a stored CA.
type CASummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Issuer       string `json:"issuer,omitempty"`
	NotBefore    string `json:"not_before,omitempty"`
	NotAfter     string `json:"not_after,omitempty"`
	SigningCA    string `json:"signing_ca,omitempty"`
	Revoked      bool   `json:"revoked"`
	CreatedAt    string `json:"created_at"`
}

// ListCAsResponse is returned from GET /1/cas.
type ListCAsResponse struct {
	CAs []CASummary `json:"cas"`
	PaginationMeta
}

// AuditEventResponse is one persisted audit event.
type AuditEventResponse struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CA        string `json:"ca,omitempty"`
	Serial    string `json:"serial,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListAuditEventsResponse is returned from GET /1/audit.
type ListAuditEventsResponse struct {
	Events []AuditEventResponse `json:"events"`
	PaginationMeta
}

// ErrorResponse is returned for all error cases. Fields carries per-field
// validation errors.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}
