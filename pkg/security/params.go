package security

import (
	"errors"
	"fmt"

	"github.com/KORe4/phase4/pkg/pmode"
)

var (
	// ErrConfigInvalid reports security configuration that cannot yield
	// a usable crypto context: missing keystore, unknown alias, or
	// conflicting sources.
	ErrConfigInvalid = errors.New("security configuration invalid")

	// ErrUnsupportedAlgorithm reports an algorithm URI outside the
	// supported set.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// signatureAlgorithms is the closed set of accepted signature
// algorithm URIs.
var signatureAlgorithms = map[string]bool{
	AlgorithmRSASHA256:   true,
	AlgorithmRSASHA384:   true,
	AlgorithmRSASHA512:   true,
	AlgorithmECDSASHA256: true,
}

// digestAlgorithms is the closed set of accepted digest algorithm URIs.
var digestAlgorithms = map[string]bool{
	AlgorithmSHA256: true,
	AlgorithmSHA384: true,
	AlgorithmSHA512: true,
}

// keyAgreementAlgorithms is the closed set of accepted key agreement
// URIs.
var keyAgreementAlgorithms = map[string]bool{
	AlgorithmX25519: true,
}

// dataEncryptionAlgorithms is the closed set of accepted symmetric
// encryption URIs.
var dataEncryptionAlgorithms = map[string]bool{
	AlgorithmAES128GCM: true,
}

// SigningParams selects the key and algorithms used to sign outbound
// messages. Zero-value fields are filled from the P-Mode leg via
// ApplyFromLeg; explicitly set fields win over leg defaults.
type SigningParams struct {
	KeyAlias        string
	Algorithm       string
	DigestAlgorithm string
	SignAttachments bool

	signAttachmentsSet bool
}

// SetSignAttachments sets attachment signing explicitly, shielding the
// value from leg inheritance.
func (p *SigningParams) SetSignAttachments(v bool) {
	p.SignAttachments = v
	p.signAttachmentsSet = true
}

// ApplyFromLeg fills unset parameters from the leg's signing
// requirement. A leg without a signing requirement leaves the
// parameters untouched.
func (p *SigningParams) ApplyFromLeg(leg *pmode.Leg) {
	if leg == nil || leg.Security == nil || leg.Security.Sign == nil {
		return
	}
	sign := leg.Security.Sign
	if p.Algorithm == "" {
		p.Algorithm = sign.Algorithm
	}
	if p.DigestAlgorithm == "" {
		p.DigestAlgorithm = sign.DigestAlgorithm
	}
	if !p.signAttachmentsSet {
		p.SignAttachments = sign.SignAttachments
	}
}

// Validate checks the parameters against the supported algorithm set.
// Empty algorithms default to RSA-SHA256 / SHA-256.
func (p *SigningParams) Validate() error {
	if p.Algorithm == "" {
		p.Algorithm = AlgorithmRSASHA256
	}
	if p.DigestAlgorithm == "" {
		p.DigestAlgorithm = AlgorithmSHA256
	}
	if !signatureAlgorithms[p.Algorithm] {
		return fmt.Errorf("%w: signature algorithm %s", ErrUnsupportedAlgorithm, p.Algorithm)
	}
	if !digestAlgorithms[p.DigestAlgorithm] {
		return fmt.Errorf("%w: digest algorithm %s", ErrUnsupportedAlgorithm, p.DigestAlgorithm)
	}
	return nil
}

// CryptParams selects the algorithms used to encrypt outbound messages
// for a recipient.
type CryptParams struct {
	KeyAgreement       string
	DataEncryption     string
	EncryptAttachments bool

	encryptAttachmentsSet bool
}

// SetEncryptAttachments sets attachment encryption explicitly,
// shielding the value from leg inheritance.
func (p *CryptParams) SetEncryptAttachments(v bool) {
	p.EncryptAttachments = v
	p.encryptAttachmentsSet = true
}

// ApplyFromLeg fills unset parameters from the leg's encryption
// requirement.
func (p *CryptParams) ApplyFromLeg(leg *pmode.Leg) {
	if leg == nil || leg.Security == nil || leg.Security.Encrypt == nil {
		return
	}
	enc := leg.Security.Encrypt
	if p.KeyAgreement == "" {
		p.KeyAgreement = enc.KeyAgreement
	}
	if p.DataEncryption == "" {
		p.DataEncryption = enc.DataEncryption
	}
	if !p.encryptAttachmentsSet {
		p.EncryptAttachments = enc.EncryptAttachments
	}
}

// Validate checks the parameters against the supported algorithm set.
// Empty algorithms default to X25519 / AES-128-GCM.
func (p *CryptParams) Validate() error {
	if p.KeyAgreement == "" {
		p.KeyAgreement = AlgorithmX25519
	}
	if p.DataEncryption == "" {
		p.DataEncryption = AlgorithmAES128GCM
	}
	if !keyAgreementAlgorithms[p.KeyAgreement] {
		return fmt.Errorf("%w: key agreement %s", ErrUnsupportedAlgorithm, p.KeyAgreement)
	}
	if !dataEncryptionAlgorithms[p.DataEncryption] {
		return fmt.Errorf("%w: data encryption %s", ErrUnsupportedAlgorithm, p.DataEncryption)
	}
	return nil
}
