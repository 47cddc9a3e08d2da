package keystore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKeyPair(t *testing.T, dir, alias string) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, alias+".key"), keyPEM, 0o600))

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: alias},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, alias+".crt"), certPEM, 0o644))

	return key
}

func TestFileProvider_GetSigner(t *testing.T) {
	dir := t.TempDir()
	key := writeTestKeyPair(t, dir, "gateway")

	p, err := NewFileProvider(dir, "")
	require.NoError(t, err)
	defer p.Close()

	signer, err := p.GetSigner(context.Background(), "gateway")
	require.NoError(t, err)
	require.NotNil(t, signer.Certificate())
	assert.Equal(t, "gateway", signer.Certificate().Subject.CommonName)
	assert.Equal(t, "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256", signer.Algorithm())

	digest := sha256.Sum256([]byte("payload"))
	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

func TestFileProvider_UnknownAlias(t *testing.T) {
	p, err := NewFileProvider(t.TempDir(), "")
	require.NoError(t, err)
	defer p.Close()

	_, err = p.GetSigner(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFileProvider_ListAliases(t *testing.T) {
	dir := t.TempDir()
	writeTestKeyPair(t, dir, "alpha")
	writeTestKeyPair(t, dir, "beta")

	p, err := NewFileProvider(dir, "")
	require.NoError(t, err)
	defer p.Close()

	keys, err := p.ListAliases(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 2)

	aliases := []string{keys[0].Alias, keys[1].Alias}
	assert.Contains(t, aliases, "alpha")
	assert.Contains(t, aliases, "beta")
	assert.Equal(t, "RSA", keys[0].Algorithm)
	assert.Equal(t, 2048, keys[0].KeySize)
}

func TestFileProvider_MissingDirectory(t *testing.T) {
	_, err := NewFileProvider("/nonexistent/keys", "")
	assert.Error(t, err)
}
