package pki_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiant/camanager/pki"
)

func TestPrivateKeyEncoding(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	t.Run("Unencrypted", func(t *testing.T) {
		data, err := pki.EncodePrivateKey(key, nil)
		require.NoError(t, err)
		assert.Contains(t, string(data), "BEGIN PRIVATE KEY")

		decoded, err := pki.DecodePrivateKey(data, []byte("ignored"))
		require.NoError(t, err)
		assert.True(t, key.PublicKey.Equal(decoded.Public()))
	})

	t.Run("Encrypted", func(t *testing.T) {
		data, err := pki.EncodePrivateKey(key, []byte("s3cret"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "BEGIN ENCRYPTED PRIVATE KEY")

		decoded, err := pki.DecodePrivateKey(data, []byte("s3cret"))
		require.NoError(t, err)
		assert.True(t, key.PublicKey.Equal(decoded.Public()))

		_, err = pki.DecodePrivateKey(data, []byte("wrong"))
		assert.ErrorIs(t, err, pki.ErrInvalidPassword)

		_, err = pki.DecodePrivateKey(data, nil)
		assert.ErrorIs(t, err, pki.ErrInvalidPassword)
	})

	t.Run("LegacyFormats", func(t *testing.T) {
		der, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)
		decoded, err := pki.DecodePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil)
		require.NoError(t, err)
		assert.True(t, key.PublicKey.Equal(decoded.Public()))

		rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		decoded, err = pki.DecodePrivateKey(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
		}), nil)
		require.NoError(t, err)
		assert.True(t, rsaKey.PublicKey.Equal(decoded.Public()))
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := pki.DecodePrivateKey([]byte("not pem"), nil)
		assert.ErrorIs(t, err, pki.ErrInvalidPEM)

		_, err = pki.DecodePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}), nil)
		assert.ErrorIs(t, err, pki.ErrInvalidPEM)
	})
}

func TestCSRPEM(t *testing.T) {
	csr, err := pki.NewCSRBuilder(nil).Build(mustSubject(t, "/CN=req"), nil)
	require.NoError(t, err)

	parsed, err := pki.ParseCSRPEM(csr.PEM)
	require.NoError(t, err)
	assert.Equal(t, "req", parsed.Subject.CommonName)
	require.NoError(t, parsed.CheckSignature())

	_, err = pki.ParseCSRPEM([]byte("junk"))
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)

	_, err = pki.ParsePublicKeyPEM(csr.PEM)
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}

func TestCSRBuilderReusesKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	csr, err := pki.NewCSRBuilder(nil).Build(mustSubject(t, "/CN=renew"), key)
	require.NoError(t, err)
	assert.Same(t, key, csr.Key)
	assert.True(t, key.PublicKey.Equal(csr.Request.PublicKey))
}

func TestCSRBuilderRawSubject(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	first, err := pki.NewCSRBuilder(nil).Build(mustSubject(t, "/CN=renew/O=Org"), key)
	require.NoError(t, err)

	csr, err := pki.NewCSRBuilder(nil).BuildRaw(first.Request.RawSubject, key)
	require.NoError(t, err)
	assert.Equal(t, first.Request.RawSubject, csr.Request.RawSubject)
	assert.True(t, key.PublicKey.Equal(csr.Request.PublicKey))
	require.NoError(t, csr.Request.CheckSignature())

	_, err = pki.NewCSRBuilder(nil).BuildRaw(nil, key)
	assert.Error(t, err)
}

func TestSoftwareKeyStore(t *testing.T) {
	ks := pki.NewSoftwareKeyStore()

	id, err := ks.GenerateKey()
	require.NoError(t, err)
	signer, err := ks.Signer(id)
	require.NoError(t, err)

	exported, err := ks.ExportPEM(id, []byte("pw"))
	require.NoError(t, err)

	imported, err := ks.ImportPEM(exported, []byte("pw"))
	require.NoError(t, err)
	assert.NotEqual(t, id, imported)

	signer2, err := ks.Signer(imported)
	require.NoError(t, err)
	assert.True(t, signer.Public().(*ecdsa.PublicKey).Equal(signer2.Public()))

	require.NoError(t, ks.Delete(id))
	_, err = ks.Signer(id)
	assert.ErrorIs(t, err, pki.ErrKeyNotFound)

	_, err = ks.ExportPEM(id, nil)
	assert.ErrorIs(t, err, pki.ErrKeyNotFound)
}
