// Package keystore provides private key access for AS4 message
// protection.
//
// Two backends exist: PEM files on disk for development, and PKCS#11
// tokens for production HSM deployments (build with -tags pkcs11).
// Both address keys by alias, matching how the keystore is referenced
// from security configuration.
package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"io"
	"time"
)

var (
	ErrKeyNotFound   = errors.New("signing key not found")
	ErrKeyLocked     = errors.New("signing key is locked")
	ErrBadPassphrase = errors.New("key passphrase is incorrect")
)

// Provider resolves keys and certificates by alias.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// GetSigner returns the signer for the given alias.
	GetSigner(ctx context.Context, alias string) (Signer, error)

	// GetCertificate returns the X.509 certificate for the alias.
	GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error)

	// ListAliases enumerates the keys the provider can serve.
	ListAliases(ctx context.Context) ([]KeyInfo, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Signer performs signing with an aliased private key.
type Signer interface {
	// Sign signs the digest using the underlying private key.
	Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error)

	// Public returns the corresponding public key.
	Public() crypto.PublicKey

	// Certificate returns the X.509 certificate for this signer.
	Certificate() *x509.Certificate

	// Algorithm returns the XMLDSig signature algorithm URI suited to
	// the key type.
	Algorithm() string
}

// KeyInfo describes one keystore entry.
type KeyInfo struct {
	Alias              string
	Algorithm          string
	KeySize            int
	NotBefore          time.Time
	NotAfter           time.Time
	CertificateSubject string
}

// Config selects and parameterizes a keystore backend.
type Config struct {
	// Type is "file" or "pkcs11".
	Type string

	// Path is the key directory (file) or PKCS#11 module path.
	Path string

	// Password unlocks the store: key passphrase for file stores,
	// user PIN for PKCS#11 tokens.
	Password string

	// KeyPassword unlocks individual keys when it differs from the
	// store password.
	KeyPassword string

	// SlotLabel selects the PKCS#11 token by label.
	SlotLabel string

	// SlotID selects the PKCS#11 slot by number when non-nil.
	SlotID *uint
}
