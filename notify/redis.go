package notify

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
)

// RedisSink publishes each event on a per-user pub/sub channel,
// "<prefix>:<userId>", so a subscriber only receives its own changes.
type RedisSink struct {
	rc     redis.UniversalClient
	prefix string
}

// NewRedisSink publishes on channels named after prefix, "task-events" when empty.
func NewRedisSink(rc redis.UniversalClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "task-events"
	}
	return &RedisSink{rc: rc, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

// Channel returns the channel events of userID are published on.
func (s *RedisSink) Channel(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisSink) Send(ctx context.Context, ev domain.TaskEvent, payload []byte) error {
	return s.rc.Publish(ctx, s.Channel(ev.UserID), payload).Err()
}

// Subscribe streams the raw payloads published for userID until ctx ends or
// the returned stop function is called.
func (s *RedisSink) Subscribe(ctx context.Context, userID string) (<-chan []byte, func(), error) {
	sub := s.rc.Subscribe(ctx, s.Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// slow reader; it resyncs from the next event
				}
			}
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, stop, nil
}
