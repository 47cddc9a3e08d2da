//go:build !pkcs11

package keystore

import (
	"context"
	"crypto/x509"
	"errors"
)

// ErrPKCS11NotSupported is returned when PKCS#11 operations are
// attempted but the binary was not compiled with the pkcs11 tag.
var ErrPKCS11NotSupported = errors.New("PKCS#11 support not compiled in (build with -tags pkcs11)")

// PKCS11Provider is a stub compiled without PKCS#11 support.
type PKCS11Provider struct{}

// NewPKCS11Provider returns ErrPKCS11NotSupported.
func NewPKCS11Provider(cfg *Config) (*PKCS11Provider, error) {
	return nil, ErrPKCS11NotSupported
}

func (p *PKCS11Provider) GetSigner(ctx context.Context, alias string) (Signer, error) {
	return nil, ErrPKCS11NotSupported
}

func (p *PKCS11Provider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	return nil, ErrPKCS11NotSupported
}

func (p *PKCS11Provider) ListAliases(ctx context.Context) ([]KeyInfo, error) {
	return nil, ErrPKCS11NotSupported
}

func (p *PKCS11Provider) Close() error { return nil }
