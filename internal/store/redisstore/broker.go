package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/support-chat/internal/chat"
	"github.com/suPer8Hu/support-chat/internal/logging"
)

// Broker publishes appended messages on a per-session Redis channel so that replies
// recorded by the worker process reach live subscribers of the API process.
type Broker struct {
	client *redis.Client
}

func NewBroker(client *redis.Client) *Broker {
	return &Broker{client: client}
}

func (b *Broker) Publish(ctx context.Context, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.client.Publish(ctx, liveChannel(msg.SessionID), data).Err()
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) (<-chan chat.Message, func(), error) {
	ps := b.client.Subscribe(ctx, liveChannel(sessionID))
	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	out := make(chan chat.Message, 32)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case rm, ok := <-in:
				if !ok {
					return
				}
				var m chat.Message
				if err := json.Unmarshal([]byte(rm.Payload), &m); err != nil {
					logging.Logger().Warn("bad live payload", "session_id", sessionID, "err", err)
					continue
				}
				select {
				case out <- m:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
