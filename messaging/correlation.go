package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ReplyFrame is one frame of a request/response exchange carried over
// the reply_to pub/sub topic, per spec.md §4.7's "Request/response
// streaming over messaging". Terminal marks the final frame; the
// caller tears down its subscription upon receiving it.
type ReplyFrame struct {
	Data     json.RawMessage `json:"data"`
	Terminal bool            `json:"terminal"`
	Error    string          `json:"error,omitempty"`
}

// ReplyTopic returns the pub/sub channel a caller listens on for
// responses to one correlated request: agent.<caller>.response.<corr>.
func ReplyTopic(callerAgent, correlationID string) string {
	return "agent." + callerAgent + ".response." + correlationID
}

// OpenRequestReply starts a streaming request/response exchange: it
// subscribes to the caller's reply topic first (so no frame can be
// missed), then sends the request message with a fresh correlation id
// and reply_to set to that topic. The caller reads frames off the
// returned Subscription's Events channel and must Close it itself upon
// the terminal frame or when abandoning the exchange.
func OpenRequestReply(ctx context.Context, bus Bus, fromAgent, toAgent, messageType string, payload json.RawMessage) (Subscription, string, error) {
	correlationID := uuid.NewString()
	topic := ReplyTopic(fromAgent, correlationID)

	sub, err := bus.Subscribe(ctx, []string{topic}, false)
	if err != nil {
		return nil, "", fmt.Errorf("messaging: subscribe reply topic: %w", err)
	}

	_, err = bus.Send(ctx, Message{
		FromAgent:     fromAgent,
		ToAgent:       toAgent,
		MessageType:   messageType,
		Payload:       payload,
		ReplyTo:       topic,
		CorrelationID: correlationID,
	})
	if err != nil {
		_ = sub.Close()
		return nil, "", fmt.Errorf("messaging: send request: %w", err)
	}

	return sub, correlationID, nil
}

// PublishFrame is called by the callee to deliver one partial or
// terminal frame of a streaming response to replyTo.
func PublishFrame(ctx context.Context, bus Bus, replyTo, fromAgent string, data json.RawMessage, terminal bool) error {
	encoded, err := json.Marshal(ReplyFrame{Data: data, Terminal: terminal})
	if err != nil {
		return fmt.Errorf("messaging: marshal reply frame: %w", err)
	}
	if _, err := bus.Publish(ctx, replyTo, encoded, fromAgent); err != nil {
		return fmt.Errorf("messaging: publish reply frame: %w", err)
	}
	return nil
}

// PublishErrorFrame delivers a terminal error frame, used when the
// callee cannot complete the request.
func PublishErrorFrame(ctx context.Context, bus Bus, replyTo, fromAgent, errMsg string) error {
	encoded, err := json.Marshal(ReplyFrame{Terminal: true, Error: errMsg})
	if err != nil {
		return fmt.Errorf("messaging: marshal error frame: %w", err)
	}
	if _, err := bus.Publish(ctx, replyTo, encoded, fromAgent); err != nil {
		return fmt.Errorf("messaging: publish error frame: %w", err)
	}
	return nil
}
