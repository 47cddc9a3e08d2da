//go:build pkcs11

package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"io"
	"sync"

	"github.com/ThalesGroup/crypto11"
)

// PKCS11Provider implements Provider using a PKCS#11 token.
type PKCS11Provider struct {
	ctx *crypto11.Context

	mu      sync.RWMutex
	signers map[string]*pkcs11Signer
}

// NewPKCS11Provider opens the PKCS#11 module named in cfg.Path.
func NewPKCS11Provider(cfg *Config) (*PKCS11Provider, error) {
	p11 := &crypto11.Config{
		Path: cfg.Path,
		Pin:  cfg.Password,
	}
	if cfg.SlotID != nil {
		slot := int(*cfg.SlotID)
		p11.SlotNumber = &slot
	}
	if cfg.SlotLabel != "" {
		p11.TokenLabel = cfg.SlotLabel
	}

	ctx, err := crypto11.Configure(p11)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}

	return &PKCS11Provider{
		ctx:     ctx,
		signers: make(map[string]*pkcs11Signer),
	}, nil
}

// GetSigner returns the signer for the given key label.
func (p *PKCS11Provider) GetSigner(ctx context.Context, alias string) (Signer, error) {
	p.mu.RLock()
	if signer, ok := p.signers[alias]; ok {
		p.mu.RUnlock()
		return signer, nil
	}
	p.mu.RUnlock()

	signer, err := p.loadSigner(alias)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.signers[alias] = signer
	p.mu.Unlock()

	return signer, nil
}

// GetCertificate returns the certificate stored under the key label.
func (p *PKCS11Provider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	cert, err := p.ctx.FindCertificate(nil, []byte(alias), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, ErrKeyNotFound
	}
	return cert, nil
}

// ListAliases is not supported on PKCS#11; token enumeration is HSM
// specific.
func (p *PKCS11Provider) ListAliases(ctx context.Context) ([]KeyInfo, error) {
	return nil, nil
}

// Close releases the PKCS#11 session.
func (p *PKCS11Provider) Close() error {
	return p.ctx.Close()
}

func (p *PKCS11Provider) loadSigner(alias string) (*pkcs11Signer, error) {
	key, err := p.ctx.FindKeyPair(nil, []byte(alias))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	cert, err := p.ctx.FindCertificate(nil, []byte(alias), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}

	algorithm := "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	if _, ok := key.Public().(*ecdsa.PublicKey); ok {
		algorithm = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	}

	return &pkcs11Signer{key: key, cert: cert, algorithm: algorithm}, nil
}

type pkcs11Signer struct {
	key       crypto.Signer
	cert      *x509.Certificate
	algorithm string
}

func (s *pkcs11Signer) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

func (s *pkcs11Signer) Public() crypto.PublicKey { return s.key.Public() }

func (s *pkcs11Signer) Certificate() *x509.Certificate { return s.cert }

func (s *pkcs11Signer) Algorithm() string { return s.algorithm }
