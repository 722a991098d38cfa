package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "livedesk:rt:"
	redisChangeChannel = "livedesk:rt-changes"
)

// RedisStore is the real-time presence tier over Redis. Every tree path maps
// to one key holding a JSON value; change notifications ride a single
// pub/sub channel carrying the mutated path, and subscribers re-read their
// own path on every related change.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect realtime store: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(path string) string {
	return redisKeyPrefix + strings.Trim(path, "/")
}

// Get returns the value at path. When the path has no direct value, its
// children are assembled into a nested map keyed by child segment.
func (r *RedisStore) Get(ctx context.Context, path string) (any, error) {
	raw, err := r.client.Get(ctx, redisKey(path)).Result()
	if err == nil {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return v, nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return r.assemble(ctx, path)
}

func (r *RedisStore) assemble(ctx context.Context, path string) (any, error) {
	prefix := redisKey(path) + "/"
	tree := make(map[string]any)
	iter := r.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", path, err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		insertAt(tree, splitPath(strings.TrimPrefix(key, prefix)), v)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if len(tree) == 0 {
		return nil, nil
	}
	return tree, nil
}

func insertAt(tree map[string]any, segs []string, v any) {
	for i, s := range segs {
		if i == len(segs)-1 {
			tree[s] = v
			return
		}
		next, ok := tree[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			tree[s] = next
		}
		tree = next
	}
}

// Set replaces the value at path and announces the change.
func (r *RedisStore) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := r.client.Set(ctx, redisKey(path), raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return r.announce(ctx, path)
}

// Update merges fields into the map at path, creating it when absent.
func (r *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	raw, err := r.client.Get(ctx, redisKey(path)).Result()
	current := make(map[string]any)
	if err == nil {
		if uerr := json.Unmarshal([]byte(raw), &current); uerr != nil {
			current = make(map[string]any)
		}
	} else if err != redis.Nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := r.client.Set(ctx, redisKey(path), merged, 0).Err(); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return r.announce(ctx, path)
}

// Delete removes the value at path and everything below it.
func (r *RedisStore) Delete(ctx context.Context, path string) error {
	keys := []string{redisKey(path)}
	iter := r.client.Scan(ctx, 0, redisKey(path)+"/*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return r.announce(ctx, path)
}

// Push stores value under a generated time-ordered child key.
func (r *RedisStore) Push(ctx context.Context, path string, value any) (string, error) {
	key := pushKey(time.Now())
	if err := r.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Subscribe re-reads path and invokes fn on every related change. The
// callback fires once with the current value before Subscribe returns.
func (r *RedisStore) Subscribe(ctx context.Context, path string, fn func(any)) (func(), error) {
	pubsub := r.client.Subscribe(ctx, redisChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	initial, err := r.Get(ctx, path)
	if err != nil {
		pubsub.Close()
		return nil, err
	}
	fn(initial)

	go func() {
		for msg := range pubsub.Channel() {
			if !pathsRelated(msg.Payload, strings.Trim(path, "/")) {
				continue
			}
			v, err := r.Get(ctx, path)
			if err != nil {
				continue
			}
			fn(v)
		}
	}()

	return func() { pubsub.Close() }, nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) announce(ctx context.Context, path string) error {
	if err := r.client.Publish(ctx, redisChangeChannel, strings.Trim(path, "/")).Err(); err != nil {
		return fmt.Errorf("announce %s: %w", path, err)
	}
	return nil
}
