package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/support-chat/internal/chat"
)

const DefaultMessageTTL = 24 * time.Hour

// MessageCache keeps each session log as a Redis list of JSON messages, oldest first.
type MessageCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMessageCache(client *redis.Client, ttl time.Duration) *MessageCache {
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return &MessageCache{client: client, ttl: ttl}
}

func (c *MessageCache) Load(ctx context.Context, sessionID string) ([]chat.Message, bool, error) {
	raw, err := c.client.LRange(ctx, messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lrange messages: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	msgs := make([]chat.Message, 0, len(raw))
	for _, r := range raw {
		var m chat.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, false, fmt.Errorf("unmarshal cached message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, true, nil
}

func (c *MessageCache) Store(ctx context.Context, sessionID string, msgs []chat.Message) error {
	key := messagesKey(sessionID)
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		values = append(values, b)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *MessageCache) Append(ctx context.Context, sessionID string, msg chat.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := messagesKey(sessionID)
	n, err := c.client.RPushX(ctx, key, b).Result()
	if err != nil {
		return fmt.Errorf("rpushx message: %w", err)
	}
	if n > 0 {
		return c.client.Expire(ctx, key, c.ttl).Err()
	}
	return nil
}

func (c *MessageCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, messagesKey(sessionID)).Err()
}
