package keystore

import "fmt"

// NewProvider creates a Provider from configuration.
func NewProvider(cfg *Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("keystore configuration is required")
	}
	switch cfg.Type {
	case "", "file":
		return NewFileProvider(cfg.Path, cfg.KeyPassphrase())
	case "pkcs11":
		return NewPKCS11Provider(cfg)
	default:
		return nil, fmt.Errorf("unknown keystore type: %s", cfg.Type)
	}
}

// KeyPassphrase returns the passphrase protecting individual keys,
// falling back to the store password.
func (c *Config) KeyPassphrase() string {
	if c.KeyPassword != "" {
		return c.KeyPassword
	}
	return c.Password
}
