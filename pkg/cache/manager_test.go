package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lumina-social/feedcore/pkg/feed"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

func samplePage(n int) feed.FetchResult {
	posts := make([]feed.Post, n)
	for i := range posts {
		posts[i] = feed.Post{
			ID:        "post-" + string(rune('a'+i)),
			Type:      feed.PostTypeText,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		}
	}
	return feed.FetchResult{Posts: posts, HasMore: true}
}

func TestManager_GetMiss(t *testing.T) {
	manager := NewManager(setupRedis(t), time.Minute)

	_, err := manager.Get(context.Background(), PageKey{Page: 1, Limit: 15})
	if err != ErrCacheMiss {
		t.Errorf("Expected cache miss, got %v", err)
	}
}

func TestManager_SetGetRoundTrip(t *testing.T) {
	manager := NewManager(setupRedis(t), time.Minute)
	ctx := context.Background()

	key := PageKey{Page: 2, Limit: 15}
	if err := manager.Set(ctx, key, &Entry{Result: samplePage(3)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(entry.Result.Posts) != 3 {
		t.Errorf("Cached posts = %d, want 3", len(entry.Result.Posts))
	}
	if !entry.Result.HasMore {
		t.Error("Cached has_more flag lost")
	}
	if entry.CachedAt.IsZero() {
		t.Error("Expected CachedAt to be stamped on Set")
	}
}

func TestManager_TTLExpiry(t *testing.T) {
	manager := NewManager(setupRedis(t), time.Second)
	ctx := context.Background()

	key := PageKey{Page: 1, Limit: 15}
	if err := manager.Set(ctx, key, &Entry{Result: samplePage(1)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Expected hit before expiry, got %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Expected miss after TTL, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupRedis(t), time.Minute)
	ctx := context.Background()

	key := PageKey{Page: 5, Limit: 15}
	if err := manager.Set(ctx, key, &Entry{Result: samplePage(2)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Expected miss after delete, got %v", err)
	}
}

func TestManager_Clear(t *testing.T) {
	manager := NewManager(setupRedis(t), time.Minute)
	ctx := context.Background()

	for page := 1; page <= 3; page++ {
		if err := manager.Set(ctx, PageKey{Page: page, Limit: 15}, &Entry{Result: samplePage(1)}); err != nil {
			t.Fatalf("Set page %d failed: %v", page, err)
		}
	}

	if err := manager.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	for page := 1; page <= 3; page++ {
		if _, err := manager.Get(ctx, PageKey{Page: page, Limit: 15}); err != ErrCacheMiss {
			t.Errorf("Page %d: expected miss after clear, got %v", page, err)
		}
	}
}

func TestManager_CorruptedEntry(t *testing.T) {
	redisClient := setupRedis(t)
	manager := NewManager(redisClient, time.Minute)
	ctx := context.Background()

	key := PageKey{Page: 9, Limit: 15}
	if err := redisClient.Set(ctx, key.String(), "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("Failed to seed corrupted entry: %v", err)
	}

	_, err := manager.Get(ctx, key)
	if err == nil {
		t.Fatal("Expected error for corrupted entry")
	}
}
