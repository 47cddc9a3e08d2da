package msh

import (
	"context"
	"fmt"
	"sync"

	"github.com/KORe4/phase4/pkg/message"
)

// StagedMessage is a fully built message parked on a partition channel
// until a PullRequest releases it.
type StagedMessage struct {
	MessageID   string
	Body        []byte
	ContentType string
}

// pullQueues holds per-MPC FIFO queues of staged messages.
type pullQueues struct {
	mu     sync.Mutex
	queues map[string][]StagedMessage
}

func newPullQueues() *pullQueues {
	return &pullQueues{queues: make(map[string][]StagedMessage)}
}

func (q *pullQueues) push(mpc string, msg StagedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[mpc] = append(q.queues[mpc], msg)
}

func (q *pullQueues) pop(mpc string) (StagedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.queues[mpc]
	if len(queue) == 0 {
		return StagedMessage{}, false
	}
	msg := queue[0]
	q.queues[mpc] = queue[1:]
	return msg, true
}

// StageForPull parks a built message on the partition channel. The
// next PullRequest for that MPC releases it. An empty MPC stages on
// the default channel.
func (h *Handler) StageForPull(mpc string, msg StagedMessage) {
	if mpc == "" {
		mpc = message.DefaultMPC
	}
	h.pull.push(mpc, msg)
	h.logger.Debug("message staged for pull", "mpc", mpc, "message_id", msg.MessageID)
}

// handleSignal answers standalone inbound signals: a PullRequest
// releases a staged message, receipts and errors are forwarded to the
// signal handler.
func (h *Handler) handleSignal(ctx context.Context, sig *message.SignalMessage) ([]byte, string, error) {
	switch {
	case sig.IsPullRequest():
		return h.handlePullRequest(sig)

	case sig.IsReceipt(), sig.IsError():
		h.logger.Info("signal received",
			"signal_message_id", sig.MessageInfo.MessageId,
			"ref_to_message_id", sig.RefToMessageId(),
			"receipt", sig.IsReceipt())
		if h.signalHandler != nil {
			h.signalHandler(ctx, sig)
		}
		return nil, ContentTypeSOAP, nil

	default:
		return nil, "", fmt.Errorf("unrecognized signal message %s", sig.MessageInfo.MessageId)
	}
}

func (h *Handler) handlePullRequest(sig *message.SignalMessage) ([]byte, string, error) {
	mpc := sig.PullRequest.MPC
	if mpc == "" {
		mpc = message.DefaultMPC
	}

	staged, ok := h.pull.pop(mpc)
	if !ok {
		h.logger.Debug("pull on empty partition", "mpc", mpc)
		empty := message.NewErrorSignal(sig.MessageInfo.MessageId, h.idFactory,
			message.ErrEmptyPartition, fmt.Sprintf("no message available on MPC %s", mpc))
		body, err := message.Serialize(message.SignalEnvelope(empty))
		if err != nil {
			return nil, "", fmt.Errorf("serializing empty partition signal: %w", err)
		}
		return body, ContentTypeSOAP, nil
	}

	h.logger.Info("message released by pull", "mpc", mpc, "message_id", staged.MessageID)
	return staged.Body, staged.ContentType, nil
}
