package security

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KORe4/phase4/internal/keystore"
	"github.com/KORe4/phase4/pkg/message"
	"github.com/KORe4/phase4/pkg/pmode"
)

// testSigner implements keystore.Signer for in-memory test keys.
type testSigner struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

func (s *testSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

func (s *testSigner) Public() crypto.PublicKey       { return s.key.Public() }
func (s *testSigner) Certificate() *x509.Certificate { return s.cert }
func (s *testSigner) Algorithm() string              { return AlgorithmRSASHA256 }

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-gateway"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testSigner{key: key, cert: cert}
}

func testEnvelopeXML(t *testing.T) []byte {
	t.Helper()

	env, _, err := message.NewUserMessage(
		message.WithFrom("sender", "urn:test"),
		message.WithTo("receiver", "urn:test"),
		message.WithService("urn:services:orders"),
		message.WithAction("submitOrder"),
	).BuildEnvelope()
	require.NoError(t, err)
	env.Body.Content = []byte("<Order><Item>widget</Item></Order>")

	data, err := message.Serialize(env)
	require.NoError(t, err)
	return data
}

func TestSigningParams_ApplyFromLeg(t *testing.T) {
	leg := &pmode.Leg{
		Security: &pmode.Security{
			Sign: &pmode.SignRequirement{
				Algorithm:       AlgorithmRSASHA512,
				DigestAlgorithm: AlgorithmSHA512,
				SignAttachments: true,
			},
		},
	}

	p := &SigningParams{}
	p.ApplyFromLeg(leg)
	assert.Equal(t, AlgorithmRSASHA512, p.Algorithm)
	assert.Equal(t, AlgorithmSHA512, p.DigestAlgorithm)
	assert.True(t, p.SignAttachments)

	// Explicit values survive leg inheritance.
	p = &SigningParams{Algorithm: AlgorithmRSASHA256}
	p.SetSignAttachments(false)
	p.ApplyFromLeg(leg)
	assert.Equal(t, AlgorithmRSASHA256, p.Algorithm)
	assert.Equal(t, AlgorithmSHA512, p.DigestAlgorithm)
	assert.False(t, p.SignAttachments)
}

func TestSigningParams_UnsupportedAlgorithm(t *testing.T) {
	p := &SigningParams{Algorithm: "urn:bogus:algo"}
	assert.ErrorIs(t, p.Validate(), ErrUnsupportedAlgorithm)

	p = &SigningParams{DigestAlgorithm: "urn:bogus:digest"}
	assert.ErrorIs(t, p.Validate(), ErrUnsupportedAlgorithm)

	p = &SigningParams{}
	require.NoError(t, p.Validate())
	assert.Equal(t, AlgorithmRSASHA256, p.Algorithm)
	assert.Equal(t, AlgorithmSHA256, p.DigestAlgorithm)
}

func TestCryptParams_ApplyFromLegAndValidate(t *testing.T) {
	leg := &pmode.Leg{
		Security: &pmode.Security{
			Encrypt: &pmode.EncryptRequirement{
				KeyAgreement:   AlgorithmX25519,
				DataEncryption: AlgorithmAES128GCM,
			},
		},
	}

	p := &CryptParams{}
	p.ApplyFromLeg(leg)
	require.NoError(t, p.Validate())
	assert.Equal(t, AlgorithmX25519, p.KeyAgreement)

	p = &CryptParams{DataEncryption: "urn:bogus"}
	assert.ErrorIs(t, p.Validate(), ErrUnsupportedAlgorithm)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	es, err := NewEnvelopeSigner(&SigningParams{}, signer)
	require.NoError(t, err)

	signed, err := es.SignEnvelope(testEnvelopeXML(t))
	require.NoError(t, err)
	assert.True(t, IsSigned(signed))

	// Verify against the pinned certificate.
	require.NoError(t, NewEnvelopeVerifier(signer.cert).VerifyEnvelope(signed))

	// Verify against the certificate embedded in the token.
	require.NoError(t, NewEnvelopeVerifier(nil).VerifyEnvelope(signed))
}

func TestVerify_TamperedEnvelopeFails(t *testing.T) {
	signer := newTestSigner(t)
	es, err := NewEnvelopeSigner(&SigningParams{}, signer)
	require.NoError(t, err)

	signed, err := es.SignEnvelope(testEnvelopeXML(t))
	require.NoError(t, err)

	tampered := bytes.Replace(signed, []byte("widget"), []byte("gadget"), 1)
	require.NotEqual(t, signed, tampered)

	assert.Error(t, NewEnvelopeVerifier(signer.cert).VerifyEnvelope(tampered))
}

func TestSignVerify_Attachments(t *testing.T) {
	signer := newTestSigner(t)
	params := &SigningParams{}
	params.SetSignAttachments(true)
	es, err := NewEnvelopeSigner(params, signer)
	require.NoError(t, err)

	atts := []Attachment{{
		ContentID:   "part-1@test",
		ContentType: "application/xml",
		Data:        []byte("<doc>payload</doc>"),
	}}

	signed, err := es.SignEnvelopeWithAttachments(testEnvelopeXML(t), atts)
	require.NoError(t, err)

	v := NewEnvelopeVerifier(signer.cert)
	require.NoError(t, v.VerifyEnvelopeWithAttachments(signed, atts))

	// A modified attachment must fail the digest check.
	modified := []Attachment{{
		ContentID: "part-1@test",
		Data:      []byte("<doc>tampered</doc>"),
	}}
	assert.Error(t, v.VerifyEnvelopeWithAttachments(signed, modified))

	// An attachment the signature never covered must fail too.
	unknown := []Attachment{{ContentID: "other@test", Data: []byte("x")}}
	assert.Error(t, v.VerifyEnvelopeWithAttachments(signed, unknown))
}

func TestEncryptDecryptEnvelope_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	original := testEnvelopeXML(t)

	encrypted, err := EncryptEnvelope(original, pub)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "widget")

	decrypted, err := DecryptEnvelope(encrypted, priv)
	require.NoError(t, err)
	assert.False(t, IsEncrypted(decrypted))
	assert.Contains(t, string(decrypted), "widget")
}

func TestDecryptEnvelope_WrongKeyFails(t *testing.T) {
	pub, _, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	_, wrongPriv, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	encrypted, err := EncryptEnvelope(testEnvelopeXML(t), pub)
	require.NoError(t, err)

	_, err = DecryptEnvelope(encrypted, wrongPriv)
	assert.Error(t, err)
}

func TestVerify_CiphertextFails(t *testing.T) {
	signer := newTestSigner(t)
	es, err := NewEnvelopeSigner(&SigningParams{}, signer)
	require.NoError(t, err)

	signed, err := es.SignEnvelope(testEnvelopeXML(t))
	require.NoError(t, err)

	pub, priv, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	encrypted, err := EncryptEnvelope(signed, pub)
	require.NoError(t, err)

	// Encryption replaced the Body content, so the Body digest no
	// longer matches.
	v := NewEnvelopeVerifier(signer.cert)
	assert.Error(t, v.VerifyEnvelope(encrypted))

	// After decryption the signature verifies again.
	decrypted, err := DecryptEnvelope(encrypted, priv)
	require.NoError(t, err)
	assert.NoError(t, v.VerifyEnvelope(decrypted))
}

func TestPayloadCipher_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	plaintext := []byte("attachment bytes")
	ciphertext, ephemeral, nonce, err := NewPayloadEncryptor(pub).Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	restored, err := NewPayloadDecryptor(priv).Decrypt(ciphertext, ephemeral, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, restored)
}

func TestPayloadCipher_RejectsZeroKey(t *testing.T) {
	var zero [32]byte
	_, _, _, err := NewPayloadEncryptor(zero).Encrypt([]byte("x"))
	assert.Error(t, err)
}

// countingProvider counts GetSigner calls to observe factory caching.
type countingProvider struct {
	signer keystore.Signer
	mu     sync.Mutex
	calls  int
}

func (p *countingProvider) GetSigner(ctx context.Context, alias string) (keystore.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if alias != "gateway" {
		return nil, keystore.ErrKeyNotFound
	}
	return p.signer, nil
}

func (p *countingProvider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	return p.signer.Certificate(), nil
}

func (p *countingProvider) ListAliases(ctx context.Context) ([]keystore.KeyInfo, error) {
	return nil, nil
}

func (p *countingProvider) Close() error { return nil }

func TestCryptoFactory_UnconfiguredFails(t *testing.T) {
	f := NewCryptoFactory()
	_, err := f.Context(context.Background())
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestCryptoFactory_MissingAliasFails(t *testing.T) {
	f := NewCryptoFactory().SetProvider(&countingProvider{signer: newTestSigner(t)})
	_, err := f.Context(context.Background())
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestCryptoFactory_UnknownKeyFails(t *testing.T) {
	f := NewCryptoFactory().
		SetProvider(&countingProvider{signer: newTestSigner(t)}).
		SetKeyAlias("missing")
	_, err := f.Context(context.Background())
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestCryptoFactory_CachesContext(t *testing.T) {
	provider := &countingProvider{signer: newTestSigner(t)}
	f := NewCryptoFactory().SetProvider(provider).SetKeyAlias("gateway")

	ctx1, err := f.Context(context.Background())
	require.NoError(t, err)
	ctx2, err := f.Context(context.Background())
	require.NoError(t, err)

	assert.Same(t, ctx1, ctx2)
	assert.Equal(t, 1, provider.calls)
}

func TestCryptoFactory_SetterInvalidatesCache(t *testing.T) {
	provider := &countingProvider{signer: newTestSigner(t)}
	f := NewCryptoFactory().SetProvider(provider).SetKeyAlias("gateway")

	_, err := f.Context(context.Background())
	require.NoError(t, err)

	f.SetKeyAlias("gateway")
	_, err = f.Context(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls)
}

func TestCryptoFactory_KeystoreDiscardsProvider(t *testing.T) {
	provider := &countingProvider{signer: newTestSigner(t)}
	f := NewCryptoFactory().SetProvider(provider).SetKeyAlias("gateway")

	_, err := f.Context(context.Background())
	require.NoError(t, err)

	// Switching to a keystore configuration drops the injected
	// provider; the bogus path then fails to open.
	f.SetKeystorePath("/nonexistent/keys")
	_, err = f.Context(context.Background())
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestCryptoFactory_CarriesDecryptionKey(t *testing.T) {
	_, priv, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	f := NewCryptoFactory().
		SetProvider(&countingProvider{signer: newTestSigner(t)}).
		SetKeyAlias("gateway").
		SetDecryptionKey(&priv)

	cctx, err := f.Context(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cctx.DecryptionKey)
	assert.Equal(t, priv, *cctx.DecryptionKey)
	assert.NotNil(t, cctx.Certificate())
}
