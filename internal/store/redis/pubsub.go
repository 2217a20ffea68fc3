package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"goldscalper/internal/session"
)

const latestTTL = 30 * time.Minute

// Publish writes one session event to the event stream, the latest key and
// the pub/sub channel in a single pipeline. While the circuit is open the
// event is dropped and ErrCircuitOpen returned.
func (s *Store) Publish(ctx context.Context, ev session.Event) error {
	data := string(ev.JSON())
	return s.cb.Execute(func() error {
		pipe := s.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: s.streamKey,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, s.latestKey, data, latestTTL)
		pipe.Publish(ctx, s.channel, data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis publish event seq=%d: %w", ev.Seq, err)
		}
		return nil
	})
}
