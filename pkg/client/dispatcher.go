package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KORe4/phase4/pkg/message"
	"github.com/KORe4/phase4/pkg/pmode"
)

// ErrRetriesExhausted is returned when every transmission attempt
// failed at the transport level.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Sender delivers one message to an endpoint. transport.HTTPSClient
// satisfies it.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte, contentType string) ([]byte, error)
}

// SentMessage records the outcome of a successful transmission.
type SentMessage struct {
	MessageID    string
	Attempts     int
	ResponseBody []byte

	// Response is the parsed signal envelope from the receiver, nil
	// when the receiver answered with an empty body (callback reply
	// pattern).
	Response *message.Envelope
}

// Receipt returns the receipt signal from the response, or nil.
func (s *SentMessage) Receipt() *message.SignalMessage {
	if sig := s.signal(); sig != nil && sig.IsReceipt() {
		return sig
	}
	return nil
}

// ErrorSignal returns the error signal from the response, or nil.
func (s *SentMessage) ErrorSignal() *message.SignalMessage {
	if sig := s.signal(); sig != nil && sig.IsError() {
		return sig
	}
	return nil
}

func (s *SentMessage) signal() *message.SignalMessage {
	if s.Response == nil {
		return nil
	}
	return message.SignalMessageOf(s.Response)
}

// Dispatcher transmits built messages with reception-awareness
// retries.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given transport.
func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, logger: logger}
}

// Send transmits the message, retrying per the retry policy. A policy
// with MaxRetries=N yields exactly N+1 attempts, each replaying the
// same bytes. A transport failure triggers a retry after the interval;
// a response that arrives but cannot be parsed is terminal. The
// context deadline is honored both during and between attempts.
func (d *Dispatcher) Send(ctx context.Context, endpoint string, built *BuiltMessage, retry pmode.RetryConfig) (*SentMessage, error) {
	attempts := retry.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		}

		responseBody, err := d.sender.Send(ctx, endpoint, built.Body, built.ContentType)
		if err == nil {
			return d.finish(built, attempt, responseBody)
		}
		lastErr = err

		d.logger.Warn("transmission attempt failed",
			"message_id", built.MessageID,
			"endpoint", endpoint,
			"attempt", attempt,
			"of", attempts,
			"error", err)

		if attempt == attempts {
			break
		}
		if err := wait(ctx, retry.RetryInterval); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
}

// finish parses the receiver's reply. An empty body is legitimate
// under the callback reply pattern; anything else must be a signal
// envelope referencing the sent message.
func (d *Dispatcher) finish(built *BuiltMessage, attempt int, responseBody []byte) (*SentMessage, error) {
	sent := &SentMessage{
		MessageID:    built.MessageID,
		Attempts:     attempt,
		ResponseBody: responseBody,
	}

	if len(responseBody) == 0 {
		return sent, nil
	}

	env, err := message.Parse(responseBody)
	if err != nil {
		return nil, fmt.Errorf("malformed response for message %s: %w", built.MessageID, err)
	}
	sent.Response = env

	if sig := sent.signal(); sig != nil {
		if ref := sig.RefToMessageId(); ref != "" && ref != built.MessageID {
			return nil, fmt.Errorf("response signal references %s, sent %s", ref, built.MessageID)
		}
	}

	d.logger.Info("message delivered",
		"message_id", built.MessageID,
		"attempts", attempt,
		"receipt", sent.Receipt() != nil,
		"error_signal", sent.ErrorSignal() != nil)

	return sent, nil
}

func wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
