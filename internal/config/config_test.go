package config

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
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

	"github.com/KORe4/phase4/pkg/compression"
	"github.com/KORe4/phase4/pkg/pmode"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
keystore:
  path: /etc/as4/keys
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "/as4", cfg.Server.BasePath)
	assert.Equal(t, "file", cfg.Keystore.Type)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_KEYSTORE_PW", "s3cret")

	path := writeConfig(t, `
keystore:
  path: /etc/as4/keys
  password: ${TEST_KEYSTORE_PW}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Keystore.Password)
}

func TestLoad_MissingKeystorePath(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keystore.path")
}

func TestLoad_UnknownKeystoreType(t *testing.T) {
	path := writeConfig(t, `
keystore:
  type: vault
  path: /etc/as4/keys
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keystore.type")
}

func TestLoad_CallbackRequiresReplyTo(t *testing.T) {
	path := writeConfig(t, `
keystore:
  path: /etc/as4/keys
pmodes:
  - id: orders
    service: urn:services:orders
    action: submitOrder
    receipt:
      replyPattern: callback
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replyTo")
}

func TestProcessingModes(t *testing.T) {
	path := writeConfig(t, `
keystore:
  path: /etc/as4/keys
duplicates:
  window: 48h
pmodes:
  - id: orders
    agreement: urn:agreements:orders
    service: urn:services:orders
    action: submitOrder
    endpoint: https://partner.example.com/as4
    sign: true
    compress: true
    receipt:
      nonRepudiation: true
    retry:
      maxRetries: 3
      interval: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	pms, err := cfg.ProcessingModes()
	require.NoError(t, err)
	require.Len(t, pms, 1)

	pm := pms[0]
	assert.Equal(t, "orders", pm.ID)
	assert.Equal(t, "urn:agreements:orders", pm.Agreement.Value)
	assert.Equal(t, pmode.MEPOneWay, pm.MEP)

	leg := pm.Leg1()
	require.NotNil(t, leg)
	assert.Equal(t, "https://partner.example.com/as4", leg.Protocol.Address)
	assert.Equal(t, "urn:services:orders", leg.BusinessInfo.Service)
	assert.NotNil(t, leg.Security.Sign)
	assert.Nil(t, leg.Security.Encrypt)
	assert.True(t, leg.Security.SendReceipt.NonRepudiation)
	assert.Equal(t, pmode.ReplyPatternResponse, leg.Security.SendReceipt.ReplyPattern)
	assert.Equal(t, compression.CompressionTypeGzip, leg.PayloadService.CompressionType)

	require.NotNil(t, pm.ReceptionAwareness)
	assert.Equal(t, 3, pm.ReceptionAwareness.Retry.MaxRetries)
	assert.Equal(t, time.Minute, pm.ReceptionAwareness.Retry.RetryInterval)
	assert.Equal(t, 48*time.Hour, pm.ReceptionAwareness.DuplicateDetection.Window)
}

func writeTestCertificate(t *testing.T, path string) *x509.Certificate {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "partner-gateway"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return cert
}

func TestProcessingModes_SignCert(t *testing.T) {
	certPath := filepath.Join(t.TempDir(), "partner.crt")
	cert := writeTestCertificate(t, certPath)

	path := writeConfig(t, `
keystore:
  path: /etc/as4/keys
pmodes:
  - id: orders
    service: urn:services:orders
    action: submitOrder
    sign: true
    signCert: `+certPath+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	pms, err := cfg.ProcessingModes()
	require.NoError(t, err)
	require.Len(t, pms, 1)

	sign := pms[0].Leg1().Security.Sign
	require.NotNil(t, sign)
	require.NotNil(t, sign.Certificate)
	assert.Equal(t, cert.Subject.CommonName, sign.Certificate.Subject.CommonName)
}

func TestProcessingModes_MissingSignCert(t *testing.T) {
	path := writeConfig(t, `
keystore:
  path: /etc/as4/keys
pmodes:
  - id: orders
    service: urn:services:orders
    action: submitOrder
    sign: true
    signCert: /nonexistent/partner.crt
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.ProcessingModes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate")
}

func TestKeystoreProviderConfig(t *testing.T) {
	path := writeConfig(t, `
keystore:
  type: pkcs11
  path: /usr/lib/softhsm/libsofthsm2.so
  password: "1234"
  slotLabel: as4-signing
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	kc := cfg.KeystoreProviderConfig()
	assert.Equal(t, "pkcs11", kc.Type)
	assert.Equal(t, "/usr/lib/softhsm/libsofthsm2.so", kc.Path)
	assert.Equal(t, "1234", kc.Password)
	assert.Equal(t, "as4-signing", kc.SlotLabel)
}
