// Package pmode implements AS4 Processing Mode configuration.
//
// A ProcessingMode (P-Mode) is the negotiated contract between two
// message-handling endpoints: which exchange pattern is used, which legs
// exist, what security each leg requires, and how reliably messages are
// retransmitted. P-Modes are registered once and treated as immutable;
// both the sending and the receiving side resolve the governing P-Mode
// before touching a message.
package pmode

import (
	"crypto/x509"
	"fmt"
	"time"
)

// MEP and binding URIs from the ebMS3 core specification.
const (
	MEPOneWay = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/oneWay"
	MEPTwoWay = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/twoWay"

	MEPBindingPush     = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/push"
	MEPBindingPushPush = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pushAndPush"
	MEPBindingPull     = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pull"
)

// SOAP versions. AS4 mandates 1.2; 1.1 is kept for legacy trading partners.
const (
	SOAP11 = "1.1"
	SOAP12 = "1.2"
)

// Reply patterns for receipts and errors.
const (
	// ReplyPatternResponse returns the signal on the HTTP response of the
	// transmission that carried the acknowledged message.
	ReplyPatternResponse = "response"
	// ReplyPatternCallback pushes the signal to the sender's endpoint in a
	// separate transmission (two-way push-and-push).
	ReplyPatternCallback = "callback"
)

// ProcessingMode is a registered agreement between two parties.
// Once handed to a Manager it must not be mutated.
type ProcessingMode struct {
	ID         string
	Agreement  *Agreement
	MEP        string
	MEPBinding string

	// One leg for one-way exchanges, two for two-way push-and-push.
	Legs []Leg

	ReceptionAwareness *ReceptionAwareness
}

// Agreement references the business agreement a P-Mode implements.
type Agreement struct {
	Value string
	Type  string
}

// Leg describes one direction of the exchange. A Leg belongs to exactly
// one ProcessingMode and is never shared.
type Leg struct {
	Protocol      *Protocol
	BusinessInfo  *BusinessInfo
	Security      *Security
	ErrorHandling *ErrorHandling

	PayloadService *PayloadService
}

// Protocol carries transport parameters for a leg.
type Protocol struct {
	Address     string
	SOAPVersion string
}

// BusinessInfo identifies the business operation of a leg.
type BusinessInfo struct {
	Service     string
	ServiceType string
	Action      string
	MPC         string // message partition channel, pull legs only
}

// Security declares what protection a leg requires. A nil Security means
// the leg exchanges plain messages.
type Security struct {
	// Sign, when non-nil, makes an XML signature mandatory on this leg.
	Sign *SignRequirement
	// Encrypt, when non-nil, makes body/attachment encryption mandatory.
	Encrypt *EncryptRequirement

	SendReceipt *SendReceipt
}

// SignRequirement selects the signature algorithm suite for a leg.
type SignRequirement struct {
	Algorithm       string // XMLDSig algorithm URI
	DigestAlgorithm string // digest algorithm URI
	SignAttachments bool

	// Certificate pins the trading partner's signing certificate.
	// Inbound signatures on this leg must verify against it. When nil
	// the certificate embedded in the message's own security token is
	// trusted, which authenticates nothing beyond possession of some
	// key.
	Certificate *x509.Certificate
}

// EncryptRequirement selects the encryption algorithm suite for a leg.
type EncryptRequirement struct {
	KeyAgreement       string // key agreement/transport algorithm URI
	DataEncryption     string // symmetric data encryption algorithm URI
	EncryptAttachments bool
}

// SendReceipt configures receipt generation for messages received on a leg.
type SendReceipt struct {
	ReplyPattern   string // "response" or "callback"
	ReplyTo        string // callback URL, required for the callback pattern
	NonRepudiation bool
}

// ErrorHandling configures how processing errors are reported.
type ErrorHandling struct {
	ReportAsResponse     bool
	ReceiverErrorsTo     string
	NotifyProducerOnFail bool
}

// PayloadService configures payload handling for a leg.
type PayloadService struct {
	CompressionType string // "application/gzip" or empty
}

// ReceptionAwareness carries the reliability contract: how often a missing
// receipt triggers retransmission, and how long the receiver remembers
// message IDs for duplicate suppression.
type ReceptionAwareness struct {
	Retry              *RetryConfig
	DuplicateDetection *DuplicateDetection
}

// RetryConfig bounds retransmission. MaxRetries counts retries after the
// initial attempt, so a persistently failing transport sees exactly
// MaxRetries+1 attempts.
type RetryConfig struct {
	MaxRetries    int
	RetryInterval time.Duration
}

// DuplicateDetection bounds the receiver's duplicate cache.
type DuplicateDetection struct {
	Window time.Duration
}

// Validate checks that the P-Mode is internally consistent before
// registration.
func (pm *ProcessingMode) Validate() error {
	if pm.ID == "" {
		return fmt.Errorf("pmode: ID is required")
	}
	switch pm.MEP {
	case MEPOneWay:
		if len(pm.Legs) != 1 {
			return fmt.Errorf("pmode %s: one-way MEP requires exactly 1 leg, got %d", pm.ID, len(pm.Legs))
		}
	case MEPTwoWay:
		if len(pm.Legs) != 2 {
			return fmt.Errorf("pmode %s: two-way MEP requires exactly 2 legs, got %d", pm.ID, len(pm.Legs))
		}
	default:
		return fmt.Errorf("pmode %s: unsupported MEP %q", pm.ID, pm.MEP)
	}
	for i := range pm.Legs {
		leg := &pm.Legs[i]
		if leg.Protocol != nil && leg.Protocol.SOAPVersion != "" &&
			leg.Protocol.SOAPVersion != SOAP11 && leg.Protocol.SOAPVersion != SOAP12 {
			return fmt.Errorf("pmode %s leg %d: unsupported SOAP version %q", pm.ID, i+1, leg.Protocol.SOAPVersion)
		}
		if sec := leg.Security; sec != nil && sec.SendReceipt != nil {
			if sec.SendReceipt.ReplyPattern == ReplyPatternCallback && sec.SendReceipt.ReplyTo == "" {
				return fmt.Errorf("pmode %s leg %d: callback reply pattern requires a ReplyTo address", pm.ID, i+1)
			}
		}
	}
	return nil
}

// Leg1 returns the first (request) leg, or nil for an empty P-Mode.
func (pm *ProcessingMode) Leg1() *Leg {
	if len(pm.Legs) == 0 {
		return nil
	}
	return &pm.Legs[0]
}

// Leg2 returns the second (response) leg of a two-way P-Mode, or nil.
func (pm *ProcessingMode) Leg2() *Leg {
	if len(pm.Legs) < 2 {
		return nil
	}
	return &pm.Legs[1]
}

// RetryPolicy returns the effective retry configuration, defaulting to no
// retries when reception awareness is not configured.
func (pm *ProcessingMode) RetryPolicy() RetryConfig {
	if pm.ReceptionAwareness != nil && pm.ReceptionAwareness.Retry != nil {
		return *pm.ReceptionAwareness.Retry
	}
	return RetryConfig{}
}

// DuplicateWindow returns the configured duplicate detection window, or
// zero when none is configured.
func (pm *ProcessingMode) DuplicateWindow() time.Duration {
	if pm.ReceptionAwareness != nil && pm.ReceptionAwareness.DuplicateDetection != nil {
		return pm.ReceptionAwareness.DuplicateDetection.Window
	}
	return 0
}

// RequiresSignature reports whether the leg mandates a signed message.
func (l *Leg) RequiresSignature() bool {
	return l != nil && l.Security != nil && l.Security.Sign != nil
}

// RequiresEncryption reports whether the leg mandates encryption.
func (l *Leg) RequiresEncryption() bool {
	return l != nil && l.Security != nil && l.Security.Encrypt != nil
}
