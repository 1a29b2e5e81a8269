// Package messaging implements the gateway's agent-to-agent messaging
// layer (C8): durable per-agent inbox streams with plain and
// consumer-group reads, and a pub/sub broadcast channel, per spec.md
// §4.7.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// Priority orders delivery hints carried on a Message. The bus
	// itself makes no ordering guarantee based on priority; it is
	// advisory metadata for the receiver.
	Priority string

	// Message is the unit of agent-to-agent communication. Id is
	// assigned by the bus at send time and is unique per inbox.
	// Immutable after enqueue, per spec.md §3 invariant (iii).
	Message struct {
		ID            string          `json:"id"`
		FromAgent     string          `json:"from_agent"`
		ToAgent       string          `json:"to_agent"`
		MessageType   string          `json:"message_type"`
		Payload       json.RawMessage `json:"payload"`
		Timestamp     time.Time       `json:"timestamp"`
		Priority      Priority        `json:"priority"`
		TTLSeconds    int64           `json:"ttl_seconds,omitempty"`
		ReplyTo       string          `json:"reply_to,omitempty"`
		CorrelationID string          `json:"correlation_id,omitempty"`
	}

	// Subscription is a live pub/sub listener. Channel delivers
	// published events until Close is called or the bus shuts down.
	// Subscriptions are best-effort: no replay of events published
	// before Subscribe returned, per spec.md §4.7.
	Subscription interface {
		Events() <-chan Event
		Close() error
	}

	// Event is one pub/sub delivery.
	Event struct {
		Topic string          `json:"topic"`
		From  string          `json:"from,omitempty"`
		Data  json.RawMessage `json:"data"`
	}

	// Bus is the messaging layer's contract: durable per-agent
	// inboxes plus topic-based broadcast. Two implementations satisfy
	// it — redisBus (production, Redis Streams + Pub/Sub) and memBus
	// (development/testing, in-process channels and ring buffers).
	Bus interface {
		// Send appends msg to ToAgent's inbox and fans out a
		// notification on agent.<to_agent>.new_message so long-pollers
		// wake promptly. Returns the bus-assigned message id.
		Send(ctx context.Context, msg Message) (string, error)

		// Receive performs a plain read: the oldest up to n records
		// for agentID, including ones an earlier Receive already
		// returned. Records remain in the inbox until Ack'd, which in
		// plain-read mode deletes them.
		Receive(ctx context.Context, agentID string, n int) ([]Message, error)

		// Ack retires messages read via Receive by deleting them from
		// the inbox.
		Ack(ctx context.Context, agentID string, ids ...string) error

		// ReceiveGroup performs a consumer-group read: group is
		// created lazily on first use; a record is delivered to
		// exactly one consumer within the group. Unacknowledged
		// records reappear in the group's pending list for redelivery.
		ReceiveGroup(ctx context.Context, agentID, group, consumer string, n int) ([]Message, error)

		// AckGroup retires messages read via ReceiveGroup for group,
		// removing them from its pending list.
		AckGroup(ctx context.Context, agentID, group string, ids ...string) error

		// QueueDepth reports the number of records currently in
		// agentID's inbox, pending or not.
		QueueDepth(ctx context.Context, agentID string) (int64, error)

		// Publish fans out data to every current subscriber of topic
		// and returns the recipient count.
		Publish(ctx context.Context, topic string, data json.RawMessage, from string) (int64, error)

		// Subscribe attaches a long-running listener on topics. When
		// pattern is true, topics are glob patterns (e.g.
		// "agent.*.events").
		Subscribe(ctx context.Context, topics []string, pattern bool) (Subscription, error)

		// Close releases resources held by the bus. Callers typically
		// own the underlying Redis connection and Close does not
		// close it.
		Close() error
	}
)

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"

	// DefaultInboxMaxLen is the default capped length of a per-agent
	// inbox stream, per spec.md §4.7.
	DefaultInboxMaxLen = 10000
)

// ErrQueueUnavailable marks a failure to reach the underlying store,
// per spec.md §4.7's "Store unavailability → UPSTREAM_ERROR" failure
// semantics. Callers translate it to fabricerr.CodeUpstreamError at
// the boundary where they have a fabricerr-aware context to do so.
var ErrQueueUnavailable = errors.New("messaging: queue store unavailable")

// inboxKey returns the Redis/in-memory key for an agent's inbox.
func inboxKey(agentID string) string {
	return "agent:" + agentID + ":inbox"
}

// notificationTopic returns the pub/sub topic a new message to
// agentID is announced on.
func notificationTopic(agentID string) string {
	return "agent." + agentID + ".new_message"
}
