package pki_test

import (
	"crypto"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/flexiant/camanager/ledger"
	"github.com/flexiant/camanager/pki"
	"github.com/flexiant/camanager/storage/memory"
)

const testConfigJSON = `{
  "crl_validity_hours": 24,
  "profiles": {
    "ca": {
      "basicConstraints": {"ca": true, "pathLength": 0},
      "keyUsage": {"value": ["keyCertSign", "cRLSign"]}
    },
    "server": {
      "basic_constraints": {"ca": false},
      "key_usage": {"value": ["digitalSignature", "keyEncipherment"]},
      "extended_key_usage": {"value": ["serverAuth"]},
      "crl_distribution_points": {"value": [{"type": "URI", "value": "http://crl.example.com/root.crl"}]},
      "authority_info_access": {"ocsp_location": [{"type": "URI", "value": "http://ocsp.example.com"}]},
      "subject_item_policy": {"CN": {"policy": "required"}, "O": {"policy": "optional"}},
      "allowed_mds": ["SHA256", "SHA512"],
      "default_md": "SHA256"
    }
  }
}`

// newTestRoot self-signs a root CA certificate and returns it with its key.
func newTestRoot(t *testing.T, cn string) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	csr, err := pki.NewCSRBuilder(nil).Build(mustSubject(t, "/CN="+cn), nil)
	require.NoError(t, err)

	now := time.Now()
	cert, err := pki.SelfSign(&pki.EnforcedOptions{
		PublicKey:  csr.Key.Public(),
		Subject:    mustSubject(t, "/CN="+cn),
		Extensions: []pki.Extension{pki.BasicConstraints{CA: true}, pki.KeyUsage{Usage: x509.KeyUsageCertSign | x509.KeyUsageCRLSign}},
		NotBefore:  now.Add(-time.Hour),
		NotAfter:   now.Add(24 * time.Hour),
	}, csr.Key)
	require.NoError(t, err)
	return cert, csr.Key
}

func mustSubject(t *testing.T, dn string) pki.Subject {
	t.Helper()
	s, err := pki.ParseSubject(dn)
	require.NoError(t, err)
	return s
}

func mustConfig(t *testing.T, jsonText string) *pki.Config {
	t.Helper()
	cfg, _, err := pki.ParseCAConfig(jsonText)
	require.NoError(t, err)
	return cfg
}

func TestSelfSign(t *testing.T) {
	cert, key := newTestRoot(t, "Test Root CA")

	assert.True(t, cert.IsCA)
	assert.Equal(t, "Test Root CA", cert.Subject.CommonName)
	require.NoError(t, cert.CheckSignatureFrom(cert))
	assert.True(t, cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool }).Equal(key.Public()))

	info := pki.Describe(cert)
	assert.Equal(t, "CN=Test Root CA", info.Subject)
	assert.Contains(t, info.KeyAlgorithm, "P-256")
	assert.Equal(t, pki.SerialOf(cert), info.SerialNumber)
	assert.True(t, info.IsCA)

	parsed, err := pki.ParseCertificatePEM(pki.EncodeCertificatePEM(cert))
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, parsed.Raw)
}

func TestAuthoritySign(t *testing.T) {
	rootCert, rootKey := newTestRoot(t, "Root")
	auth, err := pki.NewAuthority(rootCert, rootKey)
	require.NoError(t, err)

	csr, err := pki.NewCSRBuilder(nil).Build(mustSubject(t, "/CN=www.example.com/O=Example"), nil)
	require.NoError(t, err)

	builder := pki.NewOptionsBuilder(mustConfig(t, testConfigJSON))
	now := time.Now()
	opts, err := builder.BuildAndEnforce(&pki.SigningRequest{
		CSR:         csr.Request,
		ProfileName: "server",
		Subject:     mustSubject(t, "/CN=www.example.com/O=Example/L=Nowhere"),
		Extensions: []pki.Extension{
			pki.SubjectAlternativeName{Names: pki.ParseGeneralNames([]string{"www.example.com", "10.0.0.1"})},
		},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	})
	require.NoError(t, err)

	leaf, err := auth.Sign(opts)
	require.NoError(t, err)

	require.NoError(t, leaf.CheckSignatureFrom(rootCert))
	assert.Equal(t, "www.example.com", leaf.Subject.CommonName)
	assert.Equal(t, []string{"Example"}, leaf.Subject.Organization)
	assert.Empty(t, leaf.Subject.Locality, "attributes without a policy are dropped")
	assert.Equal(t, []string{"www.example.com"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.0.0.1", leaf.IPAddresses[0].String())
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, leaf.ExtKeyUsage)
	assert.Equal(t, []string{"http://crl.example.com/root.crl"}, leaf.CRLDistributionPoints)
	assert.Equal(t, []string{"http://ocsp.example.com"}, leaf.OCSPServer)
	assert.False(t, leaf.IsCA)
	assert.Equal(t, x509.ECDSAWithSHA256, leaf.SignatureAlgorithm)
	assert.Positive(t, leaf.SerialNumber.Sign())
}

func TestAuthorityWithoutKey(t *testing.T) {
	rootCert, _ := newTestRoot(t, "Root")
	auth, err := pki.NewAuthority(rootCert, nil)
	require.NoError(t, err)

	_, err = auth.Sign(&pki.EnforcedOptions{})
	assert.ErrorIs(t, err, pki.ErrNoPrivateKey)
}

func TestAuthorityKeyMismatch(t *testing.T) {
	rootCert, _ := newTestRoot(t, "Root")
	_, otherKey := newTestRoot(t, "Other")

	_, err := pki.NewAuthority(rootCert, otherKey)
	assert.Error(t, err)
}

func TestGenerateCRL(t *testing.T) {
	ctx := t.Context()
	rootCert, rootKey := newTestRoot(t, "Root")
	l := ledger.New(memory.NewRepository())
	admin := pki.NewCRLAdministrator("root", rootCert, rootKey, mustConfig(t, testConfigJSON), l)

	reason := 1
	require.NoError(t, admin.RevokeCert(ctx, "1001", &reason))
	require.NoError(t, admin.RevokeCert(ctx, "1002", nil))
	require.NoError(t, admin.UnrevokeCert(ctx, "1002"))

	crlPEM, err := admin.GenerateCRL(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(crlPEM), "BEGIN X509 CRL")

	der, err := pki.DecodeCRLPEM(crlPEM)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(der)
	require.NoError(t, err)
	require.NoError(t, crl.CheckSignatureFrom(rootCert))

	assert.Equal(t, int64(1), crl.Number.Int64())
	require.Len(t, crl.RevokedCertificateEntries, 1)
	assert.Equal(t, "1001", crl.RevokedCertificateEntries[0].SerialNumber.String())
	assert.Equal(t, 1, crl.RevokedCertificateEntries[0].ReasonCode)
	assert.WithinDuration(t, crl.ThisUpdate.Add(24*time.Hour), crl.NextUpdate, time.Second)

	// Numbers increase on each generation.
	crlPEM, err = admin.GenerateCRL(ctx)
	require.NoError(t, err)
	der, err = pki.DecodeCRLPEM(crlPEM)
	require.NoError(t, err)
	crl, err = x509.ParseRevocationList(der)
	require.NoError(t, err)
	assert.Equal(t, int64(2), crl.Number.Int64())

	n, err := l.ReadSequence(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGenerateCRLWithoutKey(t *testing.T) {
	ctx := t.Context()
	rootCert, _ := newTestRoot(t, "Root")
	l := ledger.New(memory.NewRepository())
	admin := pki.NewCRLAdministrator("root", rootCert, nil, nil, l)

	_, err := admin.GenerateCRL(ctx)
	assert.ErrorIs(t, err, pki.ErrNoPrivateKey)

	n, err := l.ReadSequence(ctx, "root")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOCSPResponder(t *testing.T) {
	ctx := t.Context()
	rootCert, rootKey := newTestRoot(t, "Root")
	auth, err := pki.NewAuthority(rootCert, rootKey)
	require.NoError(t, err)

	csr, err := pki.NewCSRBuilder(nil).Build(mustSubject(t, "/CN=leaf"), nil)
	require.NoError(t, err)
	now := time.Now()
	leaf, err := auth.Sign(&pki.EnforcedOptions{
		PublicKey: csr.Key.Public(),
		Subject:   mustSubject(t, "/CN=leaf"),
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	})
	require.NoError(t, err)

	l := ledger.New(memory.NewRepository())
	responder := pki.NewOCSPResponder("root", rootCert, nil, rootKey, nil, l)

	reqDER, err := ocsp.CreateRequest(leaf, rootCert, nil)
	require.NoError(t, err)

	respDER, err := responder.Respond(ctx, reqDER)
	require.NoError(t, err)
	resp, err := ocsp.ParseResponse(respDER, rootCert)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)
	assert.Equal(t, leaf.SerialNumber.String(), resp.SerialNumber.String())

	reason := ocsp.KeyCompromise
	_, err = l.Revoke(ctx, "root", pki.SerialOf(leaf), &reason, now.Unix())
	require.NoError(t, err)

	respDER, err = responder.Respond(ctx, reqDER)
	require.NoError(t, err)
	resp, err = ocsp.ParseResponse(respDER, rootCert)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Revoked, resp.Status)
	assert.Equal(t, ocsp.KeyCompromise, resp.RevocationReason)

	// A request naming a different issuer is answered Unknown.
	otherCert, _ := newTestRoot(t, "Other")
	otherReq, err := ocsp.CreateRequest(leaf, otherCert, nil)
	require.NoError(t, err)
	respDER, err = responder.Respond(ctx, otherReq)
	require.NoError(t, err)
	resp, err = ocsp.ParseResponse(respDER, rootCert)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Unknown, resp.Status)

	_, err = responder.Respond(ctx, []byte("garbage"))
	assert.ErrorIs(t, err, pki.ErrMalformedOCSPRequest)
}
