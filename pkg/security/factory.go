package security

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/KORe4/phase4/internal/keystore"
)

// CryptoFactory resolves the key material used to protect and
// unprotect messages. It is configured from exactly one source: either
// a keystore configuration that the factory opens itself, or an
// already constructed keystore provider injected by the caller.
// Setting any keystore attribute discards an injected provider, and
// vice versa.
//
// The resolved CryptoContext is cached; every setter invalidates the
// cache so the next Context call sees the new configuration.
type CryptoFactory struct {
	mu sync.Mutex

	storeCfg *keystore.Config
	provider keystore.Provider
	keyAlias string

	// decryptionKey is the X25519 private key for inbound decryption.
	decryptionKey *[32]byte

	cached       *CryptoContext
	ownsProvider bool
}

// CryptoContext is the resolved key material for one configuration.
type CryptoContext struct {
	// Signer holds the signing key and its certificate.
	Signer keystore.Signer

	// DecryptionKey is the X25519 private key for inbound decryption,
	// nil when the endpoint does not receive encrypted messages.
	DecryptionKey *[32]byte
}

// Certificate returns the signing certificate.
func (c *CryptoContext) Certificate() *x509.Certificate {
	if c == nil || c.Signer == nil {
		return nil
	}
	return c.Signer.Certificate()
}

// NewCryptoFactory creates an unconfigured factory.
func NewCryptoFactory() *CryptoFactory {
	return &CryptoFactory{}
}

// SetKeystore configures the factory from a keystore configuration,
// discarding any injected provider.
func (f *CryptoFactory) SetKeystore(cfg keystore.Config) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeCfg = &cfg
	f.dropProviderLocked()
	f.invalidateLocked()
	return f
}

// SetKeystorePath sets the keystore path, discarding any injected
// provider.
func (f *CryptoFactory) SetKeystorePath(path string) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureStoreCfgLocked().Path = path
	f.invalidateLocked()
	return f
}

// SetKeystoreType sets the keystore backend type, discarding any
// injected provider.
func (f *CryptoFactory) SetKeystoreType(typ string) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureStoreCfgLocked().Type = typ
	f.invalidateLocked()
	return f
}

// SetKeystorePassword sets the keystore password, discarding any
// injected provider.
func (f *CryptoFactory) SetKeystorePassword(password string) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureStoreCfgLocked().Password = password
	f.invalidateLocked()
	return f
}

// SetKeyPassword sets the per-key passphrase, discarding any injected
// provider.
func (f *CryptoFactory) SetKeyPassword(password string) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureStoreCfgLocked().KeyPassword = password
	f.invalidateLocked()
	return f
}

// SetKeyAlias selects the signing key. The alias applies to both
// configuration sources.
func (f *CryptoFactory) SetKeyAlias(alias string) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyAlias = alias
	f.invalidateLocked()
	return f
}

// SetProvider injects a ready-made keystore provider, discarding any
// keystore configuration. The caller keeps ownership of the provider.
func (f *CryptoFactory) SetProvider(p keystore.Provider) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropProviderLocked()
	f.provider = p
	f.ownsProvider = false
	f.storeCfg = nil
	f.invalidateLocked()
	return f
}

// SetDecryptionKey sets the X25519 private key used for inbound
// decryption.
func (f *CryptoFactory) SetDecryptionKey(key *[32]byte) *CryptoFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decryptionKey = key
	f.invalidateLocked()
	return f
}

// Context resolves and caches the crypto context. Configuration
// problems surface here as ErrConfigInvalid.
func (f *CryptoFactory) Context(ctx context.Context) (*CryptoContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil {
		return f.cached, nil
	}

	provider, err := f.resolveProviderLocked()
	if err != nil {
		return nil, err
	}

	alias := f.keyAlias
	if alias == "" {
		return nil, fmt.Errorf("%w: key alias not set", ErrConfigInvalid)
	}

	signer, err := provider.GetSigner(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving key %s: %v", ErrConfigInvalid, alias, err)
	}
	if signer.Certificate() == nil {
		return nil, fmt.Errorf("%w: key %s has no certificate", ErrConfigInvalid, alias)
	}

	f.cached = &CryptoContext{
		Signer:        signer,
		DecryptionKey: f.decryptionKey,
	}
	return f.cached, nil
}

// Close releases a provider the factory opened itself.
func (f *CryptoFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateLocked()
	err := f.closeOwnedProviderLocked()
	f.provider = nil
	return err
}

func (f *CryptoFactory) resolveProviderLocked() (keystore.Provider, error) {
	if f.provider != nil {
		return f.provider, nil
	}
	if f.storeCfg == nil {
		return nil, fmt.Errorf("%w: neither keystore nor provider configured", ErrConfigInvalid)
	}

	provider, err := keystore.NewProvider(f.storeCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: opening keystore: %v", ErrConfigInvalid, err)
	}
	f.provider = provider
	f.ownsProvider = true
	return provider, nil
}

func (f *CryptoFactory) ensureStoreCfgLocked() *keystore.Config {
	f.dropProviderLocked()
	if f.storeCfg == nil {
		f.storeCfg = &keystore.Config{}
	}
	return f.storeCfg
}

// dropProviderLocked discards the injected or opened provider when the
// configuration source changes.
func (f *CryptoFactory) dropProviderLocked() {
	f.closeOwnedProviderLocked()
	f.provider = nil
}

func (f *CryptoFactory) closeOwnedProviderLocked() error {
	if f.provider != nil && f.ownsProvider {
		err := f.provider.Close()
		f.ownsProvider = false
		return err
	}
	return nil
}

func (f *CryptoFactory) invalidateLocked() {
	f.cached = nil
}
