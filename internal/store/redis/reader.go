package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// RecentEvents returns up to n of the newest published events, oldest first.
func (s *Store) RecentEvents(ctx context.Context, n int64) ([]json.RawMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := s.client.XRevRangeN(ctx, s.streamKey, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", s.streamKey, err)
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if data, ok := msgs[i].Values["data"].(string); ok {
			out = append(out, json.RawMessage(data))
		}
	}
	return out, nil
}

// LatestEvent returns the most recent event, or nil when none is stored.
func (s *Store) LatestEvent(ctx context.Context) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, s.latestKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", s.latestKey, err)
	}
	return data, nil
}

// Subscribe relays events from the pub/sub channel into out until ctx is
// cancelled. Slow consumers lose events rather than block the relay.
func (s *Store) Subscribe(ctx context.Context, out chan<- []byte) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}
	log.Printf("[redis] subscribed to %s", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				log.Printf("[redis] subscriber full, dropping event")
			}
		}
	}
}
