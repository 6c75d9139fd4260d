package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamMessage is the §6 stream callback payload: {"action": "merge" |
// "blend" | "publish" | "solo", ...activity fields}. "solo" carries its
// own payload batch rather than referencing a single ledger row.
type StreamMessage struct {
	Action     string          `json:"action"`
	ActivityID string          `json:"activity_id,omitempty"`
	DatacubeID string          `json:"datacube_id,omitempty"`
	TileID     string          `json:"tile_id,omitempty"`
	Band       string          `json:"band,omitempty"`
	Period     string          `json:"period,omitempty"`
	Batch      json.RawMessage `json:"batch,omitempty"` // populated only for action == "solo"
}

// ActionSolo marks a stream-lane message carrying its own payload batch
// rather than a single ledger-backed activity (§6).
const ActionSolo = "solo"

// StreamLane is the Redis-backed low-latency lane (§2 C2), grounded on
// the teacher's internal/cache Redis wrapper. It carries wake-up messages;
// no consumer in this repository processes a "solo" Batch.
type StreamLane struct {
	client *redis.Client
	key    string
}

func NewStreamLane(client *redis.Client, key string) *StreamLane {
	return &StreamLane{client: client, key: key}
}

// Push enqueues a message onto the stream lane.
func (l *StreamLane) Push(ctx context.Context, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stream message: %w", err)
	}
	if err := l.client.LPush(ctx, l.key, data).Err(); err != nil {
		return fmt.Errorf("push stream message: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next message, or returns (nil, nil) on
// timeout with no message available.
func (l *StreamLane) Pop(ctx context.Context, timeout time.Duration) (*StreamMessage, error) {
	res, err := l.client.BRPop(ctx, timeout, l.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop stream message: %w", err)
	}
	// res is [key, value]
	if len(res) < 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply shape")
	}
	var msg StreamMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal stream message: %w", err)
	}
	return &msg, nil
}
