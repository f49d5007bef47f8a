package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return client, cleanup
}

func TestRedisVersionCache_Get_CacheHit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisVersionCache(client)
	ctx := context.Background()

	rec := model.VersionRecord{
		Resource: model.ResourceKey{UserID: 1, UploadReqID: 2},
		Label:    "v1",
		Attributes: model.OutputAttributes{
			Container:         "hls",
			ElementaryStreams: []string{"video", "audio"},
			StorageAlias:      "primary",
			Height:            720,
			Width:             1280,
			Bitrate:           2500,
		},
	}

	if err := cache.Set(ctx, rec, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, rec.Resource, rec.Label)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected version record, got nil")
	}
	if !got.Attributes.Equal(rec.Attributes) {
		t.Errorf("Attributes = %+v, want %+v", got.Attributes, rec.Attributes)
	}
	if got.Resource != rec.Resource {
		t.Errorf("Resource = %+v, want %+v", got.Resource, rec.Resource)
	}
}

func TestRedisVersionCache_Get_CacheMiss(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisVersionCache(client)
	ctx := context.Background()

	got, err := cache.Get(ctx, model.ResourceKey{UserID: 9, UploadReqID: 9}, "zz")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for cache miss, got %v", got)
	}
}

func TestRedisVersionCache_Delete(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisVersionCache(client)
	ctx := context.Background()

	rec := model.VersionRecord{
		Resource: model.ResourceKey{UserID: 3, UploadReqID: 4},
		Label:    "v1",
	}

	if err := cache.Set(ctx, rec, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Delete(ctx, rec.Resource, rec.Label); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := cache.Get(ctx, rec.Resource, rec.Label)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %v", got)
	}
}

func TestRedisVersionCache_Delete_NonExistent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisVersionCache(client)
	ctx := context.Background()

	if err := cache.Delete(ctx, model.ResourceKey{UserID: 1, UploadReqID: 1}, "v1"); err != nil {
		t.Fatalf("Delete failed for non-existent key: %v", err)
	}
}

func TestRedisVersionCache_buildKey(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisVersionCache(client)
	resource := model.ResourceKey{UserID: 7, UploadReqID: 0x2a}

	key := cache.buildKey(resource, "v1")
	expected := "atfp:version:7:0000002a:v1"
	if key != expected {
		t.Errorf("buildKey() = %v, want %v", key, expected)
	}
}

func TestRedisRotationNotifier_NotifyRotated_DeliversToSubscriber(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received, closeSub := SubscribeRotations(ctx, client)
	defer closeSub()

	// Let the subscription register with miniredis before publishing.
	time.Sleep(20 * time.Millisecond)

	notifier := NewRedisRotationNotifier(client)
	if err := notifier.NotifyRotated("key-123"); err != nil {
		t.Fatalf("NotifyRotated failed: %v", err)
	}

	select {
	case keyID := <-received:
		if keyID != "key-123" {
			t.Errorf("received keyID = %v, want key-123", keyID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rotation notification")
	}
}
