// Package redis caches the most recent messages of each conversation.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GetStream/direct-messaging/chat"
)

// Redis provides caching in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	conversationPrefix = "conversations"
	messagePrefix      = "messages"
	// maxSize is the number of messages kept per conversation.
	maxSize = 50
	ttl     = 24 * time.Hour
)

func conversationKey(key string) string {
	return fmt.Sprintf("%s:%s", conversationPrefix, key)
}

func messageKey(id string) string {
	return fmt.Sprintf("%s:%s", messagePrefix, id)
}

// ListMessages returns the cached messages of the conversation with the given
// channel key, newest first.
func (r *Redis) ListMessages(ctx context.Context, key string) ([]chat.Message, error) {
	vals, err := r.cli.ZRevRange(ctx, conversationKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}

	out := make([]chat.Message, 0, len(vals))
	for _, mkey := range vals {
		res := r.cli.HGetAll(ctx, mkey)
		if err := res.Err(); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		// The hash expired or was evicted while still indexed.
		if len(res.Val()) == 0 {
			continue
		}
		var m message
		if err := res.Scan(&m); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		msg, err := m.chatMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}

	return out, nil
}

// InsertMessage stores the message under messages:MESSAGE_ID and indexes it in
// the sorted set of its conversation. Storing a message again replaces it.
func (r *Redis) InsertMessage(ctx context.Context, key string, msg chat.Message) error {
	m, err := newMessage(msg)
	if err != nil {
		return err
	}
	ckey := conversationKey(key)
	mkey := messageKey(m.ID)

	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, mkey)
			pipe.HSet(ctx, mkey, m)
			pipe.Expire(ctx, mkey, ttl)
			pipe.ZAdd(ctx, ckey, redis.Z{
				Score:  float64(m.CreatedAt),
				Member: mkey,
			})
			pipe.Expire(ctx, ckey, ttl)
			return nil
		})
		return err
	}, mkey)

	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	if err := r.evictOldest(ctx, ckey); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// RemoveMessage drops a message from the conversation cache.
func (r *Redis) RemoveMessage(ctx context.Context, key, msgID string) error {
	mkey := messageKey(msgID)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, conversationKey(key), mkey)
		pipe.Del(ctx, mkey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis remove message: %w", err)
	}
	return nil
}

// Invalidate drops every cached message of the conversation.
func (r *Redis) Invalidate(ctx context.Context, key string) error {
	ckey := conversationKey(key)
	vals, err := r.cli.ZRange(ctx, ckey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	keys := append(vals, ckey)
	if err := r.cli.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, ckey string) error {
	vals, err := r.cli.ZRange(ctx, ckey, 0, int64(-maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, mkey := range vals {
		_ = r.cli.ZRem(ctx, ckey, mkey).Err()
		_ = r.cli.Del(ctx, mkey).Err()
	}

	return nil
}
