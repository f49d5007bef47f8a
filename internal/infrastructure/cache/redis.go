package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

const (
	// versionCacheKeyPrefix is the prefix for version record cache keys.
	versionCacheKeyPrefix = "atfp:version:"
)

// versionJSON is the JSON representation of a VersionRecord for caching.
type versionJSON struct {
	UserID      uint32                `json:"usr_id"`
	UploadReqID uint32                `json:"upld_req_id"`
	Label       string                `json:"label"`
	Attributes  model.OutputAttributes `json:"attributes"`
}

// RedisVersionCache implements VersionCache using Redis as the backing store.
type RedisVersionCache struct {
	client *redis.Client
}

// NewRedisVersionCache creates a new Redis-backed version cache.
func NewRedisVersionCache(client *redis.Client) *RedisVersionCache {
	return &RedisVersionCache{client: client}
}

// Get retrieves a version record from Redis cache.
// Returns nil, nil on cache miss.
func (c *RedisVersionCache) Get(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) (*model.VersionRecord, error) {
	key := c.buildKey(resource, label)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	rec, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize version record: %w", err)
	}
	return rec, nil
}

// Set stores a version record in Redis cache with the specified TTL.
func (c *RedisVersionCache) Set(ctx context.Context, rec model.VersionRecord, ttl time.Duration) error {
	key := c.buildKey(rec.Resource, rec.Label)

	data, err := c.serialize(rec)
	if err != nil {
		return fmt.Errorf("serialize version record: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a version record from Redis cache.
func (c *RedisVersionCache) Delete(ctx context.Context, resource model.ResourceKey, label model.VersionLabel) error {
	key := c.buildKey(resource, label)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// buildKey constructs the Redis key for a version record.
func (c *RedisVersionCache) buildKey(resource model.ResourceKey, label model.VersionLabel) string {
	return fmt.Sprintf("%s%d:%08x:%s", versionCacheKeyPrefix, resource.UserID, resource.UploadReqID, label)
}

func (c *RedisVersionCache) serialize(rec model.VersionRecord) ([]byte, error) {
	v := versionJSON{
		UserID:      rec.Resource.UserID,
		UploadReqID: rec.Resource.UploadReqID,
		Label:       string(rec.Label),
		Attributes:  rec.Attributes,
	}
	return json.Marshal(v)
}

func (c *RedisVersionCache) deserialize(data []byte) (*model.VersionRecord, error) {
	var v versionJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &model.VersionRecord{
		Resource:   model.ResourceKey{UserID: v.UserID, UploadReqID: v.UploadReqID},
		Label:      model.VersionLabel(v.Label),
		Attributes: v.Attributes,
	}, nil
}

// RedisRotationNotifier implements crypto.RotationNotifier by publishing
// the rotated key ID on RotationChannel. Every worker replica subscribes
// and drops its in-memory "recent key" cache on receipt, rather than
// relying on each replica independently polling the key store.
type RedisRotationNotifier struct {
	client *redis.Client
}

func NewRedisRotationNotifier(client *redis.Client) *RedisRotationNotifier {
	return &RedisRotationNotifier{client: client}
}

func (n *RedisRotationNotifier) NotifyRotated(keyID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.client.Publish(ctx, RotationChannel, keyID).Err()
}

// SubscribeRotations returns a channel carrying rotated key IDs as they
// are published by any replica's key manager. Callers should range over
// it in a goroutine until ctx is cancelled.
func SubscribeRotations(ctx context.Context, client *redis.Client) (<-chan string, func() error) {
	sub := client.Subscribe(ctx, RotationChannel)
	out := make(chan string)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, sub.Close
}
