package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSendThenReceiveRoundTrips verifies Property: a sent message is
// delivered to a plain Receive in FIFO order for a single producer.
func TestSendThenReceiveRoundTrips(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("messages sent to an agent arrive via Receive in send order", prop.ForAll(
		func(payloads []string) bool {
			ctx := context.Background()
			bus := NewMemoryBus(0)
			defer bus.Close()

			for _, p := range payloads {
				encoded, _ := json.Marshal(p)
				if _, err := bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", MessageType: "task", Payload: encoded}); err != nil {
					return false
				}
			}

			got, err := bus.Receive(ctx, "atlas", len(payloads)+1)
			if err != nil || len(got) != len(payloads) {
				return false
			}
			for i, p := range payloads {
				var decoded string
				if err := json.Unmarshal(got[i].Payload, &decoded); err != nil || decoded != p {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestAckDeletesPlainReadEntries verifies that acknowledging a
// plain-read message removes it from the inbox, per spec.md §4.7's
// "returned records remain in the stream until explicitly acknowledged
// (which in this mode means deletion)".
func TestAckDeletesPlainReadEntries(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(0)
	defer bus.Close()

	id, err := bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", Payload: json.RawMessage(`"hi"`)})
	require.NoError(t, err)

	depth, err := bus.QueueDepth(ctx, "atlas")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	require.NoError(t, bus.Ack(ctx, "atlas", id))

	depth, err = bus.QueueDepth(ctx, "atlas")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

// TestConsumerGroupDeliversEachMessageOnce verifies that two consumers
// in the same group split a backlog with no overlap, and that a third
// read finds no undelivered entries left for the group.
func TestConsumerGroupDeliversEachMessageOnce(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(0)
	defer bus.Close()

	for i := 0; i < 4; i++ {
		_, err := bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", Payload: json.RawMessage(`1`)})
		require.NoError(t, err)
	}

	first, err := bus.ReceiveGroup(ctx, "atlas", "workers", "c1", 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := bus.ReceiveGroup(ctx, "atlas", "workers", "c2", 2)
	require.NoError(t, err)
	assert.Len(t, second, 2)

	third, err := bus.ReceiveGroup(ctx, "atlas", "workers", "c1", 2)
	require.NoError(t, err)
	assert.Empty(t, third, "no more undelivered entries remain for the group")
}

// TestGroupCreatedLazilyPerAgent verifies a group is scoped to one
// agent's inbox and does not see entries sent to a different agent.
func TestGroupCreatedLazilyPerAgent(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(0)
	defer bus.Close()

	_, err := bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", Payload: json.RawMessage(`1`)})
	require.NoError(t, err)
	_, err = bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "nimbus", Payload: json.RawMessage(`2`)})
	require.NoError(t, err)

	got, err := bus.ReceiveGroup(ctx, "atlas", "workers", "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

// TestInboxCapsLength verifies the capped-length overflow semantics:
// the oldest entries are trimmed silently, no error to the sender.
func TestInboxCapsLength(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(2)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(i)
		_, err := bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", Payload: payload})
		require.NoError(t, err)
	}

	got, err := bus.Receive(ctx, "atlas", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	var first, second int
	require.NoError(t, json.Unmarshal(got[0].Payload, &first))
	require.NoError(t, json.Unmarshal(got[1].Payload, &second))
	assert.Equal(t, 3, first)
	assert.Equal(t, 4, second)
}

// TestPublishDeliversToMatchingSubscribers verifies plain-topic and
// glob-pattern subscriptions both receive published events, and that a
// subscriber on an unrelated topic does not.
func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(0)
	defer bus.Close()

	plain, err := bus.Subscribe(ctx, []string{"agent.atlas.new_message"}, false)
	require.NoError(t, err)
	defer plain.Close()

	glob, err := bus.Subscribe(ctx, []string{"agent.*.new_message"}, true)
	require.NoError(t, err)
	defer glob.Close()

	unrelated, err := bus.Subscribe(ctx, []string{"agent.nimbus.new_message"}, false)
	require.NoError(t, err)
	defer unrelated.Close()

	n, err := bus.Publish(ctx, "agent.atlas.new_message", json.RawMessage(`{"x":1}`), "caller")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	select {
	case ev := <-plain.Events():
		assert.Equal(t, "agent.atlas.new_message", ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("plain subscriber did not receive the event")
	}
	select {
	case ev := <-glob.Events():
		assert.Equal(t, "agent.atlas.new_message", ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("glob subscriber did not receive the event")
	}
	select {
	case <-unrelated.Events():
		t.Fatal("unrelated subscriber should not have received the event")
	default:
	}
}

// TestSendFansOutNotification verifies that Send also publishes to the
// agent's new_message topic so long-pollers wake up.
func TestSendFansOutNotification(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(0)
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, []string{"agent.atlas.new_message"}, false)
	require.NoError(t, err)
	defer sub.Close()

	_, err = bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", Payload: json.RawMessage(`"hi"`)})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "caller", ev.From)
	case <-time.After(time.Second):
		t.Fatal("expected a new_message notification")
	}
}

// TestGlobMatchSupportsSingleWildcardSegment exercises globMatch
// directly against the pattern shape spec.md §4.7 actually uses.
func TestGlobMatchSupportsSingleWildcardSegment(t *testing.T) {
	assert.True(t, globMatch("agent.*.events", "agent.atlas.events"))
	assert.False(t, globMatch("agent.*.events", "agent.atlas.other"))
	assert.True(t, globMatch("*", "anything"))
}
