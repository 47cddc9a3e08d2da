// Package msh implements the receiving side of the Message Service
// Handler: it unpacks inbound transmissions, runs them through the
// processing pipeline and answers with the appropriate ebMS3 signal.
//
// Every user message walks the same phases: received, duplicate
// checked, security verified, processed, signal generated. A duplicate
// short-circuits after the second phase and is answered with the same
// signal bytes as the original transmission, so retransmissions are
// idempotent from the sender's point of view.
package msh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KORe4/phase4/pkg/message"
	"github.com/KORe4/phase4/pkg/pmode"
)

// ErrSecurityMismatch is returned when an inbound message does not
// carry the protection its leg mandates.
var ErrSecurityMismatch = errors.New("message does not meet leg security requirements")

// ErrNoPMode is returned when no registered P-Mode governs an inbound
// message.
var ErrNoPMode = errors.New("no processing mode found for message")

// Pipeline phases, in order.
const (
	phaseReceived         = "RECEIVED"
	phaseDuplicateChecked = "DUPLICATE_CHECKED"
	phaseSecurityVerified = "SECURITY_VERIFIED"
	phaseProcessed        = "PROCESSED"
	phaseSignalGenerated  = "SIGNAL_GENERATED"
)

// Payload is one decoded business document from an inbound message.
type Payload struct {
	ContentID   string
	ContentType string
	Data        []byte
}

// InboundMessage is handed to the Processor after security checks and
// payload decoding succeeded.
type InboundMessage struct {
	MessageID      string
	ConversationID string
	UserMessage    *message.UserMessage
	PMode          *pmode.ProcessingMode
	Payloads       []Payload
}

// Processor consumes delivered user messages. Returning an error folds
// into an ebMS Error signal back to the sender; the message is still
// recorded as seen.
type Processor interface {
	ProcessUserMessage(ctx context.Context, msg *InboundMessage) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, msg *InboundMessage) error

func (f ProcessorFunc) ProcessUserMessage(ctx context.Context, msg *InboundMessage) error {
	return f(ctx, msg)
}

// SignalHandler is notified of receipts and error signals that arrive
// as standalone transmissions (callback reply pattern).
type SignalHandler func(ctx context.Context, sig *message.SignalMessage)

// Sender pushes callback signals to the sender's endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte, contentType string) ([]byte, error)
}

// signalCache retains generated signal bytes per inbound message ID so
// a retransmission is answered identically. Entries expire with the
// duplicate window.
type signalCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]cachedSignal
}

type cachedSignal struct {
	body    []byte
	expires time.Time
}

func newSignalCache(window time.Duration) *signalCache {
	return &signalCache{
		window:  window,
		entries: make(map[string]cachedSignal),
	}
}

func (c *signalCache) put(messageID string, body []byte) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, id)
		}
	}
	c.entries[messageID] = cachedSignal{body: body, expires: now.Add(c.window)}
}

func (c *signalCache) get(messageID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[messageID]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.body, true
}
