package redisstore

import (
	"context"
	"fmt"
	"time"

	"orderflow/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ ports.Notifier = (*StreamNotifier)(nil)

// StreamNotifier appends operator notifications to a redis stream so other
// tooling can consume them.
type StreamNotifier struct {
	C      *Client
	Stream string
}

func NewStreamNotifier(c *Client) *StreamNotifier {
	return &StreamNotifier{C: c, Stream: c.Cfg.NotifyStream}
}

func (n *StreamNotifier) Notify(ctx context.Context, message string) error {
	err := n.C.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: n.Stream,
		Values: map[string]interface{}{
			"id":      uuid.NewString(),
			"message": message,
			"at":      time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", n.Stream, err)
	}
	return nil
}
