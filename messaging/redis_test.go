package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}

	os.Exit(code)
}

// getRedis returns the shared Redis client and flushes the database
// for test isolation. Skips the test if Docker/Redis is not available.
func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedisClient
}

// TestRedisBusSendAndReceive verifies the plain-read path round trips
// through real Redis Streams.
func TestRedisBusSendAndReceive(t *testing.T) {
	rdb := getRedis(t)
	bus, err := NewRedisBus(Options{Redis: rdb})
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	payload, _ := json.Marshal(map[string]string{"task": "summarize"})
	id, err := bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", MessageType: "task", Payload: payload})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := bus.Receive(ctx, "atlas", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "caller", got[0].FromAgent)
	assert.Equal(t, "task", got[0].MessageType)

	require.NoError(t, bus.Ack(ctx, "atlas", got[0].ID))

	depth, err := bus.QueueDepth(ctx, "atlas")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

// TestRedisBusConsumerGroupAckRetiresDelivery verifies that a message is
// delivered once to a consumer group read, and that after AckGroup a
// fresh read from the same group returns nothing. Redelivery of an
// unacknowledged message is not exercised.
func TestRedisBusConsumerGroupAckRetiresDelivery(t *testing.T) {
	rdb := getRedis(t)
	bus, err := NewRedisBus(Options{Redis: rdb})
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	_, err = bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", Payload: json.RawMessage(`1`)})
	require.NoError(t, err)

	first, err := bus.ReceiveGroup(ctx, "atlas", "workers", "c1", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// c1 crashes before acking: a second consumer in the same group
	// reading with ">" will NOT see it again (it was already
	// delivered); it remains in the pending list until acked or
	// claimed, which this test does not exercise further — it only
	// asserts the first delivery succeeded and an explicit ack
	// retires it.
	require.NoError(t, bus.AckGroup(ctx, "atlas", "workers", first[0].ID))

	again, err := bus.ReceiveGroup(ctx, "atlas", "workers", "c2", 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

// TestRedisBusPublishSubscribe verifies pub/sub delivery over real
// Redis, including glob-pattern subscriptions.
func TestRedisBusPublishSubscribe(t *testing.T) {
	rdb := getRedis(t)
	bus, err := NewRedisBus(Options{Redis: rdb})
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, []string{"agent.*.new_message"}, true)
	require.NoError(t, err)
	defer sub.Close()

	// Give the subscription a moment to register with Redis before
	// publishing, since PSubscribe confirmation races the publisher.
	time.Sleep(100 * time.Millisecond)

	n, err := bus.Publish(ctx, "agent.atlas.new_message", json.RawMessage(`{"x":1}`), "caller")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "agent.atlas.new_message", ev.Topic)
		assert.Equal(t, "caller", ev.From)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

// TestRedisBusInboxCapsLength verifies the Redis-backed inbox honors
// InboxMaxLen, trimming the oldest entries.
func TestRedisBusInboxCapsLength(t *testing.T) {
	rdb := getRedis(t)
	bus, err := NewRedisBus(Options{Redis: rdb, InboxMaxLen: 2})
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(i)
		_, err := bus.Send(ctx, Message{FromAgent: "caller", ToAgent: "atlas", Payload: payload})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		depth, err := bus.QueueDepth(ctx, "atlas")
		return err == nil && depth <= 2
	}, 2*time.Second, 50*time.Millisecond, "redis MAXLEN ~ trimming is approximate and asynchronous")
}
