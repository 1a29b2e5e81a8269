package stream

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethara/fabric-gateway/adapter"
)

type noopFlusher struct{ flushes int }

func (f *noopFlusher) Flush() { f.flushes++ }

func TestEncodeFrameMapsEventTypesToWireNames(t *testing.T) {
	cases := []struct {
		event adapter.StreamEvent
		want  string
	}{
		{adapter.ChunkEvent{Base: adapter.Base{EventType: adapter.EventChunk}}, "token"},
		{adapter.ToolCallEvent{Base: adapter.Base{EventType: adapter.EventToolCall}}, "progress"},
		{adapter.TerminalEvent{Base: adapter.Base{EventType: adapter.EventTerminal}}, "final"},
		{adapter.ErrorEvent{Base: adapter.Base{EventType: adapter.EventError}}, "error"},
	}
	for _, c := range cases {
		frame, err := EncodeFrame(c.event)
		require.NoError(t, err)
		assert.Equal(t, c.want, frame.Event)
		assert.NotEmpty(t, frame.Data)
	}
}

func TestWriteSSEWritesEventsAndFlushesEachOne(t *testing.T) {
	events := make(chan adapter.StreamEvent, 2)
	events <- adapter.ChunkEvent{Base: adapter.Base{EventType: adapter.EventChunk}, Output: map[string]any{"n": 1}}
	events <- adapter.TerminalEvent{Base: adapter.Base{EventType: adapter.EventTerminal}, Result: &adapter.Result{Output: map[string]any{"ok": true}}}
	close(events)

	var buf strings.Builder
	fl := &noopFlusher{}
	err := WriteSSE(context.Background(), &buf, fl, events)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "data: {\"event\":\"token\"")
	assert.Contains(t, out, "data: {\"event\":\"final\"")
	assert.Equal(t, 2, fl.flushes)
}

func TestWriteSSEStopsOnContextCancellation(t *testing.T) {
	events := make(chan adapter.StreamEvent)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf strings.Builder
	err := WriteSSE(ctx, &buf, nil, events)
	require.Error(t, err)
}

type fakeRecorder struct {
	recorded []adapter.StreamEvent
	closed   bool
}

func (r *fakeRecorder) Record(ctx context.Context, ev adapter.StreamEvent) error {
	r.recorded = append(r.recorded, ev)
	return nil
}

func (r *fakeRecorder) Close(ctx context.Context) error {
	r.closed = true
	return nil
}

func TestTeeForwardsEventsAndRecordsEachOne(t *testing.T) {
	src := make(chan adapter.StreamEvent, 2)
	src <- adapter.ChunkEvent{Base: adapter.Base{EventType: adapter.EventChunk}}
	src <- adapter.TerminalEvent{Base: adapter.Base{EventType: adapter.EventTerminal}}
	close(src)

	rec := &fakeRecorder{}
	out := Tee(context.Background(), src, rec)

	var got []adapter.StreamEvent
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Len(t, rec.recorded, 2)
}

func TestTeeReturnsSourceUnchangedWhenRecorderNil(t *testing.T) {
	src := make(chan adapter.StreamEvent, 1)
	src <- adapter.ChunkEvent{Base: adapter.Base{EventType: adapter.EventChunk}}
	close(src)

	out := Tee(context.Background(), src, nil)
	ev, ok := <-out
	require.True(t, ok)
	assert.Equal(t, adapter.EventChunk, ev.Type())
}
