package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStreamLane(t *testing.T) *StreamLane {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStreamLane(client, "cubebuilder:wake")
}

func TestPushThenPopRoundTripsTheMessage(t *testing.T) {
	ctx := context.Background()
	lane := newTestStreamLane(t)

	require.NoError(t, lane.Push(ctx, StreamMessage{Action: "blend", DatacubeID: "mycube_10"}))

	msg, err := lane.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, "blend", msg.Action)
	require.Equal(t, "mycube_10", msg.DatacubeID)
}

func TestPopReturnsNilOnTimeoutWithNoMessage(t *testing.T) {
	ctx := context.Background()
	lane := newTestStreamLane(t)

	msg, err := lane.Pop(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestPopDrainsFIFOOrder(t *testing.T) {
	ctx := context.Background()
	lane := newTestStreamLane(t)

	require.NoError(t, lane.Push(ctx, StreamMessage{Action: "merge", DatacubeID: "first"}))
	require.NoError(t, lane.Push(ctx, StreamMessage{Action: "merge", DatacubeID: "second"}))

	first, err := lane.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", first.DatacubeID)

	second, err := lane.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "second", second.DatacubeID)
}
