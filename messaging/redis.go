package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisBus implements Bus directly over Redis Streams and Pub/Sub,
// grounded on original_source/fabric_message_bus.py's XADD/XREAD/
// XREADGROUP/XACK/PUBLISH usage. It talks to go-redis directly rather
// than through the Pulse stream wrapper used elsewhere in the gateway
// (registry/health_tracker.go, the streaming channel) because Pulse's
// Sink always creates a consumer group — it has no analogue for the
// plain-read, delete-on-ack mode spec.md §4.7 requires, and exposes no
// XPENDING equivalent for inspecting a group's backlog.
type redisBus struct {
	rdb         *redis.Client
	inboxMaxLen int64
}

// Options configures a Redis-backed Bus.
type Options struct {
	// Redis is the connection used for both streams and pub/sub.
	// Required.
	Redis *redis.Client
	// InboxMaxLen caps the length of each per-agent inbox stream.
	// Defaults to DefaultInboxMaxLen.
	InboxMaxLen int64
}

// NewRedisBus constructs a Bus backed by Redis Streams and Pub/Sub.
func NewRedisBus(opts Options) (Bus, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("messaging: redis client is required")
	}
	maxLen := opts.InboxMaxLen
	if maxLen <= 0 {
		maxLen = DefaultInboxMaxLen
	}
	return &redisBus{rdb: opts.Redis, inboxMaxLen: maxLen}, nil
}

func (b *redisBus) Send(ctx context.Context, msg Message) (string, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("messaging: marshal message: %w", err)
	}

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: inboxKey(msg.ToAgent),
		MaxLen: b.inboxMaxLen,
		Approx: true,
		Values: map[string]any{"data": encoded},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd: %v", ErrQueueUnavailable, err)
	}

	notice, err := json.Marshal(Event{
		Topic: notificationTopic(msg.ToAgent),
		From:  msg.FromAgent,
		Data:  encoded,
	})
	if err == nil {
		// Notification is best-effort: a publish failure does not
		// unwind the send, since the message is already durably
		// queued.
		_ = b.rdb.Publish(ctx, notificationTopic(msg.ToAgent), notice).Err()
	}

	return id, nil
}

func (b *redisBus) Receive(ctx context.Context, agentID string, n int) ([]Message, error) {
	streams, err := b.rdb.XRange(ctx, inboxKey(agentID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: xrange: %v", ErrQueueUnavailable, err)
	}
	if len(streams) > n {
		streams = streams[:n]
	}
	return decodeEntries(streams)
}

func (b *redisBus) Ack(ctx context.Context, agentID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.rdb.XDel(ctx, inboxKey(agentID), ids...).Err(); err != nil {
		return fmt.Errorf("%w: xdel: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func (b *redisBus) ReceiveGroup(ctx context.Context, agentID, group, consumer string, n int) ([]Message, error) {
	key := inboxKey(agentID)
	if err := b.ensureGroup(ctx, key, group); err != nil {
		return nil, err
	}

	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{key, ">"},
		Count:    int64(n),
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: xreadgroup: %v", ErrQueueUnavailable, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return decodeEntries(res[0].Messages)
}

func (b *redisBus) AckGroup(ctx context.Context, agentID, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.rdb.XAck(ctx, inboxKey(agentID), group, ids...).Err(); err != nil {
		return fmt.Errorf("%w: xack: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func (b *redisBus) QueueDepth(ctx context.Context, agentID string) (int64, error) {
	n, err := b.rdb.XLen(ctx, inboxKey(agentID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: xlen: %v", ErrQueueUnavailable, err)
	}
	return n, nil
}

func (b *redisBus) Publish(ctx context.Context, topic string, data json.RawMessage, from string) (int64, error) {
	encoded, err := json.Marshal(Event{Topic: topic, From: from, Data: data})
	if err != nil {
		return 0, fmt.Errorf("messaging: marshal event: %w", err)
	}
	n, err := b.rdb.Publish(ctx, topic, encoded).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: publish: %v", ErrQueueUnavailable, err)
	}
	return n, nil
}

func (b *redisBus) Subscribe(ctx context.Context, topics []string, pattern bool) (Subscription, error) {
	var pubsub *redis.PubSub
	if pattern {
		pubsub = b.rdb.PSubscribe(ctx, topics...)
	} else {
		pubsub = b.rdb.Subscribe(ctx, topics...)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrQueueUnavailable, err)
	}

	sub := &redisSubscription{pubsub: pubsub, events: make(chan Event, 64)}
	go sub.listen()
	return sub, nil
}

func (b *redisBus) Close() error {
	return nil
}

// ensureGroup creates the consumer group at the start of the stream if
// it doesn't already exist. BUSYGROUP is the expected error on
// subsequent calls and is swallowed, matching fabric_message_bus.py's
// try/except around xgroup_create.
func (b *redisBus) ensureGroup(ctx context.Context, key, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, key, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("%w: xgroup create: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// redisSubscription adapts a *redis.PubSub into the messaging.Subscription
// contract, decoding each delivery's JSON envelope on a background
// goroutine.
type redisSubscription struct {
	pubsub *redis.PubSub
	events chan Event
}

func (s *redisSubscription) listen() {
	defer close(s.events)
	ch := s.pubsub.Channel()
	for msg := range ch {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			// Malformed payload: drop it and keep listening, matching
			// fabric_message_bus.py's per-message callback error
			// isolation — one bad delivery must not kill the listener.
			continue
		}
		if ev.Topic == "" {
			ev.Topic = msg.Channel
		}
		s.events <- ev
	}
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

func decodeEntries(entries []redis.XMessage) ([]Message, error) {
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["data"].(string)
		if !ok {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("messaging: decode entry %s: %w", entry.ID, err)
		}
		if msg.ID == "" {
			msg.ID = entry.ID
		}
		out = append(out, msg)
	}
	return out, nil
}
