// Package client builds and dispatches outbound AS4 messages.
//
// A Builder turns business payloads into a BuiltMessage: the ebMS3
// envelope is assembled, signed, encrypted and packaged exactly once,
// and the resulting bytes are immutable. Retransmissions replay those
// bytes so the receiver's duplicate detection and signature checks see
// an identical message on every attempt.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KORe4/phase4/pkg/compression"
	"github.com/KORe4/phase4/pkg/message"
	"github.com/KORe4/phase4/pkg/mime"
	"github.com/KORe4/phase4/pkg/pmode"
	"github.com/KORe4/phase4/pkg/security"
)

// ErrBuildFailed wraps any failure while assembling a message.
var ErrBuildFailed = errors.New("message build failed")

// ContentTypeSOAP labels a plain SOAP message without attachments.
const ContentTypeSOAP = "application/soap+xml; charset=utf-8"

// Payload is one business document to carry in the message.
type Payload struct {
	Data        []byte
	ContentType string
}

// BuiltMessage is a fully packaged outbound message. It must not be
// modified after Build returns; the dispatcher replays Body verbatim
// on every attempt.
type BuiltMessage struct {
	MessageID   string
	ContentType string
	Body        []byte
}

// Builder assembles outbound messages under a P-Mode.
type Builder struct {
	pm        *pmode.ProcessingMode
	crypto    *security.CryptoFactory
	recipient *[32]byte
	idFactory message.IDFactory
	logger    *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCrypto supplies the crypto factory used for signing. Required
// when the P-Mode leg mandates a signature.
func WithCrypto(f *security.CryptoFactory) BuilderOption {
	return func(b *Builder) { b.crypto = f }
}

// WithRecipientKey supplies the receiver's X25519 public key. Required
// when the P-Mode leg mandates encryption.
func WithRecipientKey(key [32]byte) BuilderOption {
	return func(b *Builder) { b.recipient = &key }
}

// WithIDFactory overrides message ID generation.
func WithIDFactory(f message.IDFactory) BuilderOption {
	return func(b *Builder) { b.idFactory = f }
}

// WithLogger sets the build logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder creates a Builder governed by the P-Mode.
func NewBuilder(pm *pmode.ProcessingMode, opts ...BuilderOption) *Builder {
	b := &Builder{
		pm:        pm,
		idFactory: message.NewIDFactory("as4.gateway"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles, protects and packages one message. Envelope
// protection is sign first, then encrypt: the signature covers the
// plaintext, and verification on intake follows decryption.
func (b *Builder) Build(ctx context.Context, payloads []Payload, opts ...message.Option) (*BuiltMessage, error) {
	leg := b.pm.Leg1()
	if leg == nil {
		return nil, fmt.Errorf("%w: pmode %s has no sending leg", ErrBuildFailed, b.pm.ID)
	}

	mb := message.NewUserMessage(b.messageOptions(leg, opts)...)

	compress := leg.PayloadService != nil && leg.PayloadService.CompressionType == compression.CompressionTypeGzip
	compressor := compression.NewCompressor()
	for _, p := range payloads {
		data := p.Data
		if compress && compression.ShouldCompress(p.ContentType) {
			compressed, err := compressor.Compress(data)
			if err != nil {
				return nil, fmt.Errorf("%w: compressing payload: %v", ErrBuildFailed, err)
			}
			data = compressed
			mb.AddPayload(data, compression.CompressionTypeGzip)
			mb.AddPartProperty("CompressionType", compression.CompressionTypeGzip)
			mb.AddPartProperty("MimeType", p.ContentType)
			continue
		}
		mb.AddPayload(data, p.ContentType)
	}

	env, parts, err := mb.BuildEnvelope()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	messageID := env.Header.Messaging.UserMessage.MessageInfo.MessageId

	envelopeXML, err := message.Serialize(env)
	if err != nil {
		return nil, fmt.Errorf("%w: serializing envelope: %v", ErrBuildFailed, err)
	}

	attachments := attachmentsOf(parts)

	if leg.RequiresSignature() {
		envelopeXML, err = b.sign(ctx, leg, envelopeXML, attachments)
		if err != nil {
			return nil, err
		}
	}

	if leg.RequiresEncryption() {
		envelopeXML, err = b.encrypt(leg, envelopeXML)
		if err != nil {
			return nil, err
		}
	}

	body, contentType, err := b.packageMessage(envelopeXML, parts)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("message built",
		"message_id", messageID,
		"pmode", b.pm.ID,
		"payloads", len(parts),
		"signed", leg.RequiresSignature(),
		"encrypted", leg.RequiresEncryption())

	return &BuiltMessage{
		MessageID:   messageID,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// messageOptions derives envelope metadata from the leg, then applies
// caller options so explicit values win.
func (b *Builder) messageOptions(leg *pmode.Leg, opts []message.Option) []message.Option {
	all := []message.Option{message.WithIDFactory(b.idFactory)}
	if bi := leg.BusinessInfo; bi != nil {
		if bi.Service != "" {
			all = append(all, message.WithServiceType(bi.Service, bi.ServiceType))
		}
		if bi.Action != "" {
			all = append(all, message.WithAction(bi.Action))
		}
		if bi.MPC != "" {
			all = append(all, message.WithMPC(bi.MPC))
		}
	}
	if b.pm.Agreement != nil {
		all = append(all, message.WithAgreementRef(b.pm.Agreement.Value))
	}
	all = append(all, message.WithPModeID(b.pm.ID))
	return append(all, opts...)
}

func (b *Builder) sign(ctx context.Context, leg *pmode.Leg, envelopeXML []byte, attachments []security.Attachment) ([]byte, error) {
	if b.crypto == nil {
		return nil, fmt.Errorf("%w: leg requires a signature but no crypto factory is configured", ErrBuildFailed)
	}

	cctx, err := b.crypto.Context(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	params := &security.SigningParams{}
	params.ApplyFromLeg(leg)

	signer, err := security.NewEnvelopeSigner(params, cctx.Signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	if params.SignAttachments && len(attachments) > 0 {
		envelopeXML, err = signer.SignEnvelopeWithAttachments(envelopeXML, attachments)
	} else {
		envelopeXML, err = signer.SignEnvelope(envelopeXML)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: signing envelope: %v", ErrBuildFailed, err)
	}
	return envelopeXML, nil
}

func (b *Builder) encrypt(leg *pmode.Leg, envelopeXML []byte) ([]byte, error) {
	if b.recipient == nil {
		return nil, fmt.Errorf("%w: leg requires encryption but no recipient key is configured", ErrBuildFailed)
	}

	params := &security.CryptParams{}
	params.ApplyFromLeg(leg)
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	encrypted, err := security.EncryptEnvelope(envelopeXML, *b.recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypting envelope: %v", ErrBuildFailed, err)
	}
	return encrypted, nil
}

// packageMessage wraps the envelope in MIME multipart when payloads
// are attached, else ships it as plain SOAP.
func (b *Builder) packageMessage(envelopeXML []byte, parts []message.PayloadPart) ([]byte, string, error) {
	if len(parts) == 0 {
		return envelopeXML, ContentTypeSOAP, nil
	}

	payloads := make([]mime.Payload, 0, len(parts))
	for _, p := range parts {
		payloads = append(payloads, mime.NewPayload(p.Data, p.ContentType, p.ContentID))
	}

	body, contentType, err := mime.NewMessage(envelopeXML, payloads, b.idFactory).Serialize()
	if err != nil {
		return nil, "", fmt.Errorf("%w: packaging message: %v", ErrBuildFailed, err)
	}
	return body, contentType, nil
}

func attachmentsOf(parts []message.PayloadPart) []security.Attachment {
	attachments := make([]security.Attachment, 0, len(parts))
	for _, p := range parts {
		attachments = append(attachments, security.Attachment{
			ContentID:   p.ContentID,
			ContentType: p.ContentType,
			Data:        p.Data,
		})
	}
	return attachments
}
