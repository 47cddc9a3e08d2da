// Package config handles configuration loading for an AS4 endpoint.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like keystore passphrases and database credentials to be injected at
// runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, TLS certificates)
//   - keystore: signing key management (file or pkcs11)
//   - storage: duplicate detection backend (in-memory or MongoDB)
//   - duplicates: detection window
//   - pmodes: processing modes governing each exchange
//
// # Example Configuration
//
//	server:
//	  port: 8443
//	  tls:
//	    certFile: /etc/ssl/server.crt
//	    keyFile: /etc/ssl/server.key
//
//	keystore:
//	  type: file
//	  path: /etc/as4/keys
//	  password: ${KEYSTORE_PASSWORD}
//
//	storage:
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: as4
//
//	pmodes:
//	  - id: orders
//	    agreement: urn:agreements:orders
//	    service: urn:services:orders
//	    action: submitOrder
//	    endpoint: https://partner.example.com/as4
//	    sign: true
//	    signCert: /etc/as4/partner.crt
//	    compress: true
//
// See [Load] for loading configuration from a file.
package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KORe4/phase4/internal/keystore"
	"github.com/KORe4/phase4/pkg/compression"
	"github.com/KORe4/phase4/pkg/pmode"
)

// Duration wraps time.Duration so YAML values can use the familiar
// "30s" / "24h" syntax.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Keystore   KeystoreConfig   `yaml:"keystore"`
	Storage    StorageConfig    `yaml:"storage"`
	Duplicates DuplicatesConfig `yaml:"duplicates"`
	PModes     []PModeConfig    `yaml:"pmodes"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"basePath"`
	TLS      struct {
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// KeystoreConfig holds signing key management settings
type KeystoreConfig struct {
	// Type determines how signing keys are managed
	// - "file": keys loaded from PEM files in a directory
	// - "pkcs11": keys held in a PKCS#11 token (HSM/smart card)
	Type string `yaml:"type"`

	// Path is the key directory (file) or module path (pkcs11)
	Path string `yaml:"path"`

	// Password unlocks the store (can be an env reference like ${HSM_PIN})
	Password string `yaml:"password"`

	// KeyPassword unlocks individual keys when it differs
	KeyPassword string `yaml:"keyPassword"`

	// Alias names the signing key to use
	Alias string `yaml:"alias"`

	// PKCS11 token selection
	SlotLabel string `yaml:"slotLabel"`
	SlotID    *uint  `yaml:"slotId"`
}

// StorageConfig holds duplicate store backend settings. An empty
// MongoDB URI selects the in-memory store.
type StorageConfig struct {
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DuplicatesConfig holds duplicate detection settings
type DuplicatesConfig struct {
	// Window is how long message IDs are remembered
	Window Duration `yaml:"window"`
}

// PModeConfig describes one processing mode in YAML form.
type PModeConfig struct {
	ID        string `yaml:"id"`
	Agreement string `yaml:"agreement"`
	Service   string `yaml:"service"`
	Action    string `yaml:"action"`
	Endpoint  string `yaml:"endpoint"`
	MPC       string `yaml:"mpc"`

	Sign bool `yaml:"sign"`
	// SignCert is a PEM file holding the partner's signing certificate.
	// When set, inbound signatures must verify against it.
	SignCert string `yaml:"signCert"`
	Encrypt  bool   `yaml:"encrypt"`
	Compress bool   `yaml:"compress"`

	Receipt ReceiptConfig `yaml:"receipt"`

	Retry RetryConfig `yaml:"retry"`
}

// ReceiptConfig holds receipt settings for a processing mode
type ReceiptConfig struct {
	// ReplyPattern is "response" (default) or "callback"
	ReplyPattern   string `yaml:"replyPattern"`
	ReplyTo        string `yaml:"replyTo"`
	NonRepudiation bool   `yaml:"nonRepudiation"`
}

// RetryConfig holds retransmission settings for a processing mode
type RetryConfig struct {
	MaxRetries int      `yaml:"maxRetries"`
	Interval   Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/as4"
	}
	if c.Keystore.Type == "" {
		c.Keystore.Type = "file"
	}
	if c.Storage.MongoDB.URI != "" && c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "as4"
	}
	for i := range c.PModes {
		if c.PModes[i].Receipt.ReplyPattern == "" {
			c.PModes[i].Receipt.ReplyPattern = pmode.ReplyPatternResponse
		}
		if c.PModes[i].Retry.Interval == 0 {
			c.PModes[i].Retry.Interval = Duration(30 * time.Second)
		}
	}
}

func (c *Config) validate() error {
	switch c.Keystore.Type {
	case "file", "pkcs11":
	default:
		return fmt.Errorf("keystore.type must be 'file' or 'pkcs11', got '%s'", c.Keystore.Type)
	}
	if c.Keystore.Path == "" {
		return fmt.Errorf("keystore.path is required")
	}

	for i, pc := range c.PModes {
		if pc.ID == "" {
			return fmt.Errorf("pmodes[%d]: id is required", i)
		}
		if pc.Service == "" || pc.Action == "" {
			return fmt.Errorf("pmode %s: service and action are required", pc.ID)
		}
		switch pc.Receipt.ReplyPattern {
		case pmode.ReplyPatternResponse, pmode.ReplyPatternCallback:
		default:
			return fmt.Errorf("pmode %s: receipt.replyPattern must be 'response' or 'callback', got '%s'",
				pc.ID, pc.Receipt.ReplyPattern)
		}
		if pc.Receipt.ReplyPattern == pmode.ReplyPatternCallback && pc.Receipt.ReplyTo == "" {
			return fmt.Errorf("pmode %s: receipt.replyTo is required for the callback pattern", pc.ID)
		}
	}

	return nil
}

// loadCertificate reads a PEM encoded X.509 certificate.
func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate PEM in %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate %s: %w", path, err)
	}
	return cert, nil
}

// KeystoreProviderConfig converts the YAML section into the keystore
// package's configuration.
func (c *Config) KeystoreProviderConfig() *keystore.Config {
	return &keystore.Config{
		Type:        c.Keystore.Type,
		Path:        c.Keystore.Path,
		Password:    c.Keystore.Password,
		KeyPassword: c.Keystore.KeyPassword,
		SlotLabel:   c.Keystore.SlotLabel,
		SlotID:      c.Keystore.SlotID,
	}
}

// ProcessingModes builds validated processing modes from the pmodes
// section.
func (c *Config) ProcessingModes() ([]*pmode.ProcessingMode, error) {
	pms := make([]*pmode.ProcessingMode, 0, len(c.PModes))
	for _, pc := range c.PModes {
		pm, err := pc.processingMode(time.Duration(c.Duplicates.Window))
		if err != nil {
			return nil, err
		}
		pms = append(pms, pm)
	}
	return pms, nil
}

func (pc *PModeConfig) processingMode(window time.Duration) (*pmode.ProcessingMode, error) {
	leg := pmode.Leg{
		Protocol: &pmode.Protocol{
			Address:     pc.Endpoint,
			SOAPVersion: pmode.SOAP12,
		},
		BusinessInfo: &pmode.BusinessInfo{
			Service: pc.Service,
			Action:  pc.Action,
			MPC:     pc.MPC,
		},
		Security: &pmode.Security{
			SendReceipt: &pmode.SendReceipt{
				ReplyPattern:   pc.Receipt.ReplyPattern,
				ReplyTo:        pc.Receipt.ReplyTo,
				NonRepudiation: pc.Receipt.NonRepudiation,
			},
		},
	}
	if pc.Sign {
		sign := &pmode.SignRequirement{}
		if pc.SignCert != "" {
			cert, err := loadCertificate(pc.SignCert)
			if err != nil {
				return nil, fmt.Errorf("pmode %s: %w", pc.ID, err)
			}
			sign.Certificate = cert
		}
		leg.Security.Sign = sign
	}
	if pc.Encrypt {
		leg.Security.Encrypt = &pmode.EncryptRequirement{}
	}
	if pc.Compress {
		leg.PayloadService = &pmode.PayloadService{
			CompressionType: compression.CompressionTypeGzip,
		}
	}

	pm := &pmode.ProcessingMode{
		ID:         pc.ID,
		MEP:        pmode.MEPOneWay,
		MEPBinding: pmode.MEPBindingPush,
		Legs:       []pmode.Leg{leg},
		ReceptionAwareness: &pmode.ReceptionAwareness{
			Retry: &pmode.RetryConfig{
				MaxRetries:    pc.Retry.MaxRetries,
				RetryInterval: time.Duration(pc.Retry.Interval),
			},
		},
	}
	if window > 0 {
		pm.ReceptionAwareness.DuplicateDetection = &pmode.DuplicateDetection{Window: window}
	}
	if pc.Agreement != "" {
		pm.Agreement = &pmode.Agreement{Value: pc.Agreement}
	}
	if err := pm.Validate(); err != nil {
		return nil, fmt.Errorf("pmode %s: %w", pc.ID, err)
	}
	return pm, nil
}
