package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/youmark/pkcs8"
)

// FileProvider implements Provider using PEM files on disk.
//
// Intended for development and testing. Key files live at
// {keyDir}/{alias}.key, certificates at {keyDir}/{alias}.crt.
type FileProvider struct {
	keyDir     string
	passphrase string

	mu      sync.RWMutex
	signers map[string]*fileSigner
}

// NewFileProvider creates a file-based provider rooted at keyDir.
func NewFileProvider(keyDir, passphrase string) (*FileProvider, error) {
	info, err := os.Stat(keyDir)
	if err != nil {
		return nil, fmt.Errorf("checking key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key directory is not a directory: %s", keyDir)
	}

	return &FileProvider{
		keyDir:     keyDir,
		passphrase: passphrase,
		signers:    make(map[string]*fileSigner),
	}, nil
}

// GetSigner returns the signer for the given alias, loading and
// caching it on first use.
func (p *FileProvider) GetSigner(ctx context.Context, alias string) (Signer, error) {
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

// GetCertificate returns the certificate for the given alias.
func (p *FileProvider) GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error) {
	return loadCertificate(filepath.Join(p.keyDir, alias+".crt"))
}

// ListAliases enumerates keys that have a matching certificate.
func (p *FileProvider) ListAliases(ctx context.Context) ([]KeyInfo, error) {
	entries, err := os.ReadDir(p.keyDir)
	if err != nil {
		return nil, fmt.Errorf("reading key directory: %w", err)
	}

	var keys []KeyInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".key" {
			continue
		}
		alias := entry.Name()[:len(entry.Name())-4]

		cert, err := loadCertificate(filepath.Join(p.keyDir, alias+".crt"))
		if err != nil {
			continue
		}

		keys = append(keys, KeyInfo{
			Alias:              alias,
			Algorithm:          keyAlgorithmName(cert.PublicKey),
			KeySize:            keySize(cert.PublicKey),
			NotBefore:          cert.NotBefore,
			NotAfter:           cert.NotAfter,
			CertificateSubject: cert.Subject.String(),
		})
	}

	return keys, nil
}

// Close drops cached signers.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signers = make(map[string]*fileSigner)
	return nil
}

func (p *FileProvider) loadSigner(alias string) (*fileSigner, error) {
	keyPEM, err := os.ReadFile(filepath.Join(p.keyDir, alias+".key"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := parsePrivateKey(keyPEM, p.passphrase)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", alias, err)
	}

	cert, err := loadCertificate(filepath.Join(p.keyDir, alias+".crt"))
	if err != nil {
		return nil, fmt.Errorf("loading certificate %s: %w", alias, err)
	}

	return &fileSigner{
		key:       key,
		cert:      cert,
		algorithm: algorithmForKey(key),
	}, nil
}

// fileSigner implements Signer for PEM-loaded keys.
type fileSigner struct {
	key       crypto.Signer
	cert      *x509.Certificate
	algorithm string
}

func (s *fileSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

func (s *fileSigner) Public() crypto.PublicKey { return s.key.Public() }

func (s *fileSigner) Certificate() *x509.Certificate { return s.cert }

func (s *fileSigner) Algorithm() string { return s.algorithm }

func parsePrivateKey(pemData []byte, passphrase string) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "ENCRYPTED PRIVATE KEY":
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, ErrBadPassphrase
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		return signer, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	return x509.ParseCertificate(block.Bytes)
}

func algorithmForKey(key crypto.Signer) string {
	switch key.(type) {
	case *ecdsa.PrivateKey:
		return "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	default:
		return "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	}
}

func keyAlgorithmName(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	case *rsa.PublicKey:
		return "RSA"
	default:
		return "Unknown"
	}
}

func keySize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	default:
		return 0
	}
}
