package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// memBus is an in-process Bus implementation for development and unit
// testing without Redis, per SPEC_FULL.md §4.7's "Go-native addition"
// — the same dual memory/durable split already used for the agent
// registry (registry/store/memory, registry/store/mongo).
type memBus struct {
	mu      sync.Mutex
	nextID  atomic.Int64
	maxLen  int
	inboxes map[string]*memInbox

	subMu sync.Mutex
	subs  map[*memSubscription]struct{}
}

type memInbox struct {
	entries []memEntry
	groups  map[string]*memGroup
}

type memEntry struct {
	id  string
	msg Message
}

// memGroup tracks a consumer group's read cursor and pending
// (delivered, unacknowledged) entries, mirroring Redis XREADGROUP/XACK
// semantics closely enough for tests and local development.
type memGroup struct {
	nextIndex int
	pending   map[string]memEntry
}

// NewMemoryBus constructs an in-process Bus. maxLen caps each inbox's
// retained entries; zero uses DefaultInboxMaxLen.
func NewMemoryBus(maxLen int) Bus {
	if maxLen <= 0 {
		maxLen = DefaultInboxMaxLen
	}
	return &memBus{
		maxLen:  maxLen,
		inboxes: make(map[string]*memInbox),
		subs:    make(map[*memSubscription]struct{}),
	}
}

func (b *memBus) inboxFor(agentID string) *memInbox {
	ib, ok := b.inboxes[agentID]
	if !ok {
		ib = &memInbox{groups: make(map[string]*memGroup)}
		b.inboxes[agentID] = ib
	}
	return ib
}

func (b *memBus) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	id := strconv.FormatInt(b.nextID.Add(1), 10)
	msg.ID = id
	ib := b.inboxFor(msg.ToAgent)
	ib.entries = append(ib.entries, memEntry{id: id, msg: msg})
	if len(ib.entries) > b.maxLen {
		ib.entries = ib.entries[len(ib.entries)-b.maxLen:]
	}
	b.mu.Unlock()

	encoded, err := json.Marshal(msg.Payload)
	if err == nil {
		_, _ = b.Publish(ctx, notificationTopic(msg.ToAgent), encoded, msg.FromAgent)
	}
	return id, nil
}

func (b *memBus) Receive(ctx context.Context, agentID string, n int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ib := b.inboxFor(agentID)
	limit := n
	if limit > len(ib.entries) {
		limit = len(ib.entries)
	}
	out := make([]Message, limit)
	for i := 0; i < limit; i++ {
		out[i] = ib.entries[i].msg
	}
	return out, nil
}

func (b *memBus) Ack(ctx context.Context, agentID string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ib := b.inboxFor(agentID)
	toDelete := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		toDelete[id] = struct{}{}
	}
	kept := ib.entries[:0]
	for _, e := range ib.entries {
		if _, del := toDelete[e.id]; !del {
			kept = append(kept, e)
		}
	}
	ib.entries = kept
	return nil
}

func (b *memBus) ReceiveGroup(ctx context.Context, agentID, group, consumer string, n int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ib := b.inboxFor(agentID)
	g, ok := ib.groups[group]
	if !ok {
		g = &memGroup{pending: make(map[string]memEntry)}
		ib.groups[group] = g
	}

	var out []Message
	for g.nextIndex < len(ib.entries) && len(out) < n {
		e := ib.entries[g.nextIndex]
		g.nextIndex++
		g.pending[e.id] = e
		out = append(out, e.msg)
	}
	return out, nil
}

func (b *memBus) AckGroup(ctx context.Context, agentID, group string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ib := b.inboxFor(agentID)
	g, ok := ib.groups[group]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (b *memBus) QueueDepth(ctx context.Context, agentID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.inboxFor(agentID).entries)), nil
}

func (b *memBus) Publish(ctx context.Context, topic string, data json.RawMessage, from string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ev := Event{Topic: topic, From: from, Data: data}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	var delivered int64
	for sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.events <- ev:
			delivered++
		default:
			// Best-effort delivery: a slow subscriber does not block
			// the publisher or other subscribers.
		}
	}
	return delivered, nil
}

func (b *memBus) Subscribe(ctx context.Context, topics []string, pattern bool) (Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("messaging: at least one topic is required")
	}
	sub := &memSubscription{
		bus:     b,
		topics:  topics,
		pattern: pattern,
		events:  make(chan Event, 64),
	}
	b.subMu.Lock()
	b.subs[sub] = struct{}{}
	b.subMu.Unlock()
	return sub, nil
}

func (b *memBus) Close() error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for sub := range b.subs {
		close(sub.events)
	}
	b.subs = make(map[*memSubscription]struct{})
	return nil
}

// memSubscription is the in-process Subscription implementation.
type memSubscription struct {
	bus     *memBus
	topics  []string
	pattern bool
	events  chan Event
}

func (s *memSubscription) matches(topic string) bool {
	for _, t := range s.topics {
		if s.pattern {
			if globMatch(t, topic) {
				return true
			}
			continue
		}
		if t == topic {
			return true
		}
	}
	return false
}

func (s *memSubscription) Events() <-chan Event {
	return s.events
}

func (s *memSubscription) Close() error {
	s.bus.subMu.Lock()
	defer s.bus.subMu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		close(s.events)
	}
	return nil
}

// globMatch reports whether topic matches a Redis-style glob pattern
// (only "*" is supported, matching the patterns spec.md §4.7 actually
// uses — "agent.*.events").
func globMatch(pattern, topic string) bool {
	pi, ti := 0, 0
	starIdx, match := -1, 0
	for ti < len(topic) {
		if pi < len(pattern) && (pattern[pi] == topic[ti]) {
			pi++
			ti++
		} else if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			match = ti
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			match++
			ti = match
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
