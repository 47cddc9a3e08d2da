package msh

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KORe4/phase4/pkg/compression"
	"github.com/KORe4/phase4/pkg/duplicate"
	"github.com/KORe4/phase4/pkg/message"
	"github.com/KORe4/phase4/pkg/mime"
	"github.com/KORe4/phase4/pkg/pmode"
	"github.com/KORe4/phase4/pkg/security"
)

// ContentTypeSOAP labels plain SOAP response bodies.
const ContentTypeSOAP = "application/soap+xml; charset=utf-8"

// Handler is the receiving Message Service Handler. It satisfies
// transport.MessageHandler.
type Handler struct {
	pmodes     *pmode.Manager
	duplicates *duplicate.Manager
	crypto     *security.CryptoFactory
	processor  Processor

	signalHandler SignalHandler
	sender        Sender
	idFactory     message.IDFactory
	logger        *slog.Logger

	signals *signalCache
	pull    *pullQueues
}

// HandlerConfig wires the Handler's collaborators.
type HandlerConfig struct {
	PModes     *pmode.Manager
	Duplicates *duplicate.Manager
	Processor  Processor

	// Crypto is required when any leg mandates signing, receipt
	// signing or decryption.
	Crypto *security.CryptoFactory

	// Sender delivers callback signals. Required only for P-Modes
	// using the callback reply pattern.
	Sender Sender

	// SignalHandler is notified of standalone inbound signals.
	SignalHandler SignalHandler

	// IDFactory mints signal message IDs. Defaults to uuid@as4.gateway.
	IDFactory message.IDFactory

	Logger *slog.Logger
}

// NewHandler builds the receiving pipeline.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.PModes == nil {
		return nil, fmt.Errorf("pmode manager is required")
	}
	if cfg.Duplicates == nil {
		return nil, fmt.Errorf("duplicate manager is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if cfg.IDFactory == nil {
		cfg.IDFactory = message.NewIDFactory("as4.gateway")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Handler{
		pmodes:        cfg.PModes,
		duplicates:    cfg.Duplicates,
		crypto:        cfg.Crypto,
		processor:     cfg.Processor,
		signalHandler: cfg.SignalHandler,
		sender:        cfg.Sender,
		idFactory:     cfg.IDFactory,
		logger:        cfg.Logger,
		signals:       newSignalCache(cfg.Duplicates.Window()),
		pull:          newPullQueues(),
	}, nil
}

// HandleMessage runs one inbound transmission through the pipeline and
// returns the signal response.
func (h *Handler) HandleMessage(ctx context.Context, body []byte, contentType string) ([]byte, string, error) {
	envelopeXML, mimeMsg, err := unpack(body, contentType)
	if err != nil {
		return nil, "", fmt.Errorf("unpacking message: %w", err)
	}

	env, err := message.Parse(envelopeXML)
	if err != nil {
		return nil, "", fmt.Errorf("parsing envelope: %w", err)
	}

	if sig := message.SignalMessageOf(env); sig != nil {
		return h.handleSignal(ctx, sig)
	}

	um := message.UserMessageOf(env)
	if um == nil {
		return nil, "", fmt.Errorf("envelope carries neither a user message nor a signal")
	}

	return h.handleUserMessage(ctx, um, envelopeXML, mimeMsg)
}

func (h *Handler) handleUserMessage(ctx context.Context, um *message.UserMessage, envelopeXML []byte, mimeMsg *mime.Message) ([]byte, string, error) {
	messageID := um.MessageInfo.MessageId
	logger := h.logger.With(slog.String("message_id", messageID))
	logger.Info("user message received", "phase", phaseReceived)

	seen, err := h.duplicates.CheckAndRecord(ctx, messageID)
	if err != nil {
		return nil, "", fmt.Errorf("duplicate check: %w", err)
	}
	if seen {
		return h.answerDuplicate(ctx, um, logger)
	}
	logger.Debug("first sight", "phase", phaseDuplicateChecked)

	pm := h.resolvePMode(um)
	if pm == nil {
		logger.Warn("no pmode governs message",
			"service", um.CollaborationInfo.Service.Value,
			"action", um.CollaborationInfo.Action)
		return h.errorResponse(ctx, nil, messageID, message.ErrValueNotRecognized, ErrNoPMode.Error())
	}
	leg := pm.Leg1()

	envelopeXML, err = h.decryptIfRequired(ctx, leg, envelopeXML)
	if err != nil {
		logger.Warn("decryption failed", "error", err)
		return h.errorResponse(ctx, leg, messageID, message.ErrFailedDecryption, err.Error())
	}
	if err := h.verifyIfRequired(leg, envelopeXML, mimeMsg); err != nil {
		logger.Warn("signature verification failed", "error", err)
		return h.errorResponse(ctx, leg, messageID, message.ErrFailedAuth, err.Error())
	}
	logger.Debug("security verified", "phase", phaseSecurityVerified,
		"signed", leg.RequiresSignature(), "encrypted", leg.RequiresEncryption())

	payloads, err := h.decodePayloads(um, mimeMsg)
	if err != nil {
		logger.Warn("payload decoding failed", "error", err)
		return h.errorResponse(ctx, leg, messageID, message.ErrDecompressionFailure, err.Error())
	}

	inbound := &InboundMessage{
		MessageID:      messageID,
		ConversationID: um.CollaborationInfo.ConversationId,
		UserMessage:    um,
		PMode:          pm,
		Payloads:       payloads,
	}
	if err := h.processor.ProcessUserMessage(ctx, inbound); err != nil {
		logger.Error("processor rejected message", "error", err)
		return h.errorResponse(ctx, leg, messageID, message.ErrDeliveryFailure, err.Error())
	}
	logger.Info("message processed", "phase", phaseProcessed,
		"conversation_id", inbound.ConversationID, "payloads", len(payloads))

	return h.generateReceipt(ctx, leg, messageID, envelopeXML, logger)
}

// answerDuplicate re-emits the signal generated for the original
// transmission, delivered per the leg's reply pattern. The message is
// not redelivered.
func (h *Handler) answerDuplicate(ctx context.Context, um *message.UserMessage, logger *slog.Logger) ([]byte, string, error) {
	logger.Info("duplicate suppressed", "phase", phaseDuplicateChecked)

	messageID := um.MessageInfo.MessageId
	var leg *pmode.Leg
	if pm := h.resolvePMode(um); pm != nil {
		leg = pm.Leg1()
	}

	body, ok := h.signals.get(messageID)
	if !ok {
		// The cache entry may have expired, or the retransmission
		// landed while the first copy was still in flight. Either way
		// a plain receipt is minted, even if the original processing
		// ends in an Error signal.
		sig := message.NewReceipt(messageID, h.idFactory, nil)
		serialized, err := message.Serialize(message.SignalEnvelope(sig))
		if err != nil {
			return nil, "", fmt.Errorf("serializing receipt: %w", err)
		}
		if serialized, err = h.signSignal(ctx, leg, serialized); err != nil {
			return nil, "", err
		}
		body = serialized
	}

	if receiptCfg := sendReceiptOf(leg); receiptCfg != nil && receiptCfg.ReplyPattern == pmode.ReplyPatternCallback {
		return h.pushCallback(ctx, receiptCfg.ReplyTo, messageID, body, logger)
	}
	return body, ContentTypeSOAP, nil
}

// resolvePMode locates the governing P-Mode: the pmode attribute of
// the AgreementRef wins, then the agreement value, then the
// service/action pair.
func (h *Handler) resolvePMode(um *message.UserMessage) *pmode.ProcessingMode {
	if ref := um.CollaborationInfo.AgreementRef; ref != nil {
		if ref.Pmode != "" {
			if pm := h.pmodes.Get(ref.Pmode); pm != nil {
				return pm
			}
		}
		if ref.Value != "" {
			if pm := h.pmodes.GetByAgreement(ref.Value); pm != nil {
				return pm
			}
		}
	}
	return h.pmodes.Find(um.CollaborationInfo.Service.Value, um.CollaborationInfo.Action)
}

// decryptIfRequired restores the plaintext envelope on encrypting
// legs. Signature verification always happens on the decrypted bytes.
func (h *Handler) decryptIfRequired(ctx context.Context, leg *pmode.Leg, envelopeXML []byte) ([]byte, error) {
	if !leg.RequiresEncryption() {
		return envelopeXML, nil
	}

	if !security.IsEncrypted(envelopeXML) {
		return nil, fmt.Errorf("%w: leg requires encryption, message is plaintext", ErrSecurityMismatch)
	}
	cctx, err := h.cryptoContext(ctx)
	if err != nil {
		return nil, err
	}
	if cctx.DecryptionKey == nil {
		return nil, fmt.Errorf("no decryption key configured")
	}
	decrypted, err := security.DecryptEnvelope(envelopeXML, *cctx.DecryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting envelope: %w", err)
	}
	return decrypted, nil
}

func (h *Handler) verifyIfRequired(leg *pmode.Leg, envelopeXML []byte, mimeMsg *mime.Message) error {
	if !leg.RequiresSignature() {
		return nil
	}

	if !security.IsSigned(envelopeXML) {
		return fmt.Errorf("%w: leg requires a signature, message is unsigned", ErrSecurityMismatch)
	}

	verifier := security.NewEnvelopeVerifier(leg.Security.Sign.Certificate)
	if leg.Security.Sign.SignAttachments && mimeMsg != nil && len(mimeMsg.Payloads) > 0 {
		attachments := make([]security.Attachment, 0, len(mimeMsg.Payloads))
		for _, p := range mimeMsg.Payloads {
			attachments = append(attachments, security.Attachment{
				ContentID:   p.ContentID,
				ContentType: p.ContentType,
				Data:        p.Data,
			})
		}
		if err := verifier.VerifyEnvelopeWithAttachments(envelopeXML, attachments); err != nil {
			return fmt.Errorf("%w: %v", ErrSecurityMismatch, err)
		}
		return nil
	}
	if err := verifier.VerifyEnvelope(envelopeXML); err != nil {
		return fmt.Errorf("%w: %v", ErrSecurityMismatch, err)
	}
	return nil
}

func (h *Handler) cryptoContext(ctx context.Context) (*security.CryptoContext, error) {
	if h.crypto == nil {
		return nil, fmt.Errorf("no crypto factory configured")
	}
	return h.crypto.Context(ctx)
}

// decodePayloads correlates MIME parts with PartInfo and reverses
// payload compression.
func (h *Handler) decodePayloads(um *message.UserMessage, mimeMsg *mime.Message) ([]Payload, error) {
	if mimeMsg == nil {
		return nil, nil
	}

	mimeMsg.CorrelateWithPartInfo(um)

	compressor := compression.NewCompressor()
	payloads := make([]Payload, 0, len(mimeMsg.Payloads))
	for _, p := range mimeMsg.Payloads {
		data := p.Data
		contentType := p.ContentType
		if p.CompressionType == compression.CompressionTypeGzip {
			decompressed, err := compressor.Decompress(data)
			if err != nil {
				return nil, fmt.Errorf("decompressing part %s: %w", p.ContentID, err)
			}
			data = decompressed
			if p.MimeType != "" {
				contentType = p.MimeType
			}
		}
		payloads = append(payloads, Payload{
			ContentID:   p.ContentID,
			ContentType: contentType,
			Data:        data,
		})
	}
	return payloads, nil
}

// generateReceipt builds, optionally signs, caches and delivers the
// receipt for a processed message.
func (h *Handler) generateReceipt(ctx context.Context, leg *pmode.Leg, messageID string, envelopeXML []byte, logger *slog.Logger) ([]byte, string, error) {
	receiptCfg := sendReceiptOf(leg)
	if receiptCfg == nil {
		// The leg does not acknowledge messages.
		return nil, ContentTypeSOAP, nil
	}

	var nri []byte
	if receiptCfg.NonRepudiation && security.IsSigned(envelopeXML) {
		var err error
		nri, err = nonRepudiationInfo(envelopeXML)
		if err != nil {
			return nil, "", fmt.Errorf("building non-repudiation info: %w", err)
		}
	}

	sig := message.NewReceipt(messageID, h.idFactory, nri)
	body, err := message.Serialize(message.SignalEnvelope(sig))
	if err != nil {
		return nil, "", fmt.Errorf("serializing receipt: %w", err)
	}

	body, err = h.signSignal(ctx, leg, body)
	if err != nil {
		return nil, "", err
	}

	// Signal IDs are tracked alongside user message IDs so the whole
	// exchange shares one duplicate namespace.
	if _, err := h.duplicates.CheckAndRecord(ctx, sig.MessageInfo.MessageId); err != nil {
		return nil, "", fmt.Errorf("recording receipt ID: %w", err)
	}

	h.signals.put(messageID, body)
	logger.Info("receipt generated", "phase", phaseSignalGenerated,
		"non_repudiation", nri != nil,
		"reply_pattern", receiptCfg.ReplyPattern)

	if receiptCfg.ReplyPattern == pmode.ReplyPatternCallback {
		return h.pushCallback(ctx, receiptCfg.ReplyTo, messageID, body, logger)
	}
	return body, ContentTypeSOAP, nil
}

// errorResponse folds a processing failure into an ebMS Error signal,
// caches it for retransmissions and delivers it per the leg's reply
// pattern. The error travels inside a 200 response; transport-level
// failure is reserved for unparseable input.
func (h *Handler) errorResponse(ctx context.Context, leg *pmode.Leg, messageID string, spec message.ErrorSpec, detail string) ([]byte, string, error) {
	sig := message.NewErrorSignal(messageID, h.idFactory, spec, detail)
	body, err := message.Serialize(message.SignalEnvelope(sig))
	if err != nil {
		return nil, "", fmt.Errorf("serializing error signal: %w", err)
	}

	body, err = h.signSignal(ctx, leg, body)
	if err != nil {
		return nil, "", err
	}

	if _, err := h.duplicates.CheckAndRecord(ctx, sig.MessageInfo.MessageId); err != nil {
		return nil, "", fmt.Errorf("recording signal ID: %w", err)
	}

	h.signals.put(messageID, body)

	if receiptCfg := sendReceiptOf(leg); receiptCfg != nil && receiptCfg.ReplyPattern == pmode.ReplyPatternCallback {
		return h.pushCallback(ctx, receiptCfg.ReplyTo, messageID, body, h.logger)
	}
	return body, ContentTypeSOAP, nil
}

// signSignal signs outgoing signals on legs that mandate signatures.
func (h *Handler) signSignal(ctx context.Context, leg *pmode.Leg, body []byte) ([]byte, error) {
	if leg == nil || !leg.RequiresSignature() || h.crypto == nil {
		return body, nil
	}

	cctx, err := h.cryptoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("signing signal: %w", err)
	}

	params := &security.SigningParams{}
	params.ApplyFromLeg(leg)
	signer, err := security.NewEnvelopeSigner(params, cctx.Signer)
	if err != nil {
		return nil, fmt.Errorf("signing signal: %w", err)
	}
	signed, err := signer.SignEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("signing signal: %w", err)
	}
	return signed, nil
}

// pushCallback delivers the signal over a separate transmission and
// answers the original request with an empty body.
func (h *Handler) pushCallback(ctx context.Context, replyTo, messageID string, body []byte, logger *slog.Logger) ([]byte, string, error) {
	if h.sender == nil {
		return nil, "", fmt.Errorf("callback reply pattern requires a sender")
	}
	if _, err := h.sender.Send(ctx, replyTo, body, ContentTypeSOAP); err != nil {
		return nil, "", fmt.Errorf("pushing callback signal for %s: %w", messageID, err)
	}
	logger.Info("callback signal pushed", "reply_to", replyTo)
	return nil, ContentTypeSOAP, nil
}

func sendReceiptOf(leg *pmode.Leg) *pmode.SendReceipt {
	if leg == nil || leg.Security == nil {
		return nil
	}
	return leg.Security.SendReceipt
}

// unpack splits a transmission into envelope bytes and, for multipart
// bodies, the parsed MIME message.
func unpack(body []byte, contentType string) ([]byte, *mime.Message, error) {
	if !strings.Contains(strings.ToLower(contentType), "multipart/") {
		return body, nil, nil
	}

	mimeMsg, err := mime.Parse(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, nil, err
	}
	return mimeMsg.EnvelopeXML, mimeMsg, nil
}
