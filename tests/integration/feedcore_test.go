package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lumina-social/feedcore/internal/testutil"
	"github.com/lumina-social/feedcore/pkg/cache"
	"github.com/lumina-social/feedcore/pkg/orchestrator"
	"github.com/lumina-social/feedcore/pkg/source"
	"github.com/lumina-social/feedcore/pkg/statemachine"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
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

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// TestStatePersistenceRoundTrip tests that the state machine snapshot
// survives a simulated process restart through Redis.
func TestStatePersistenceRoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := statemachine.NewRedisStore(redisClient)

	first := statemachine.New(statemachine.Config{Store: store})
	if !first.Transition(statemachine.StateLoadingServer, "load more requested", nil) {
		t.Fatal("Expected loading transition to be accepted")
	}
	if !first.Transition(statemachine.StateComplete, "fetch succeeded", map[string]string{"new_posts": "15"}) {
		t.Fatal("Expected completion transition to be accepted")
	}

	// A new machine on the same store restores the persisted snapshot.
	second := statemachine.New(statemachine.Config{Store: store})

	if second.Current() != statemachine.StateComplete {
		t.Errorf("Restored state = %s, want %s", second.Current(), statemachine.StateComplete)
	}

	history := second.History()
	if len(history) != 2 {
		t.Fatalf("Restored history length = %d, want 2", len(history))
	}
	if history[1].New != statemachine.StateComplete {
		t.Errorf("Last restored transition target = %s, want %s", history[1].New, statemachine.StateComplete)
	}
	if history[1].Metadata["new_posts"] != "15" {
		t.Errorf("Restored transition metadata lost: %v", history[1].Metadata)
	}
}

// TestCorruptedSnapshotIgnored tests that a corrupted persisted snapshot
// falls back to a clean machine instead of failing startup.
func TestCorruptedSnapshotIgnored(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	if err := redisClient.Set(ctx, statemachine.PersistKey, "{not valid json", 0).Err(); err != nil {
		t.Fatalf("Failed to seed corrupted snapshot: %v", err)
	}

	store := statemachine.NewRedisStore(redisClient)
	machine := statemachine.New(statemachine.Config{Store: store})

	if machine.Current() != statemachine.StateIdle {
		t.Errorf("Machine state = %s, want idle after corrupted snapshot", machine.Current())
	}
	if len(machine.History()) != 0 {
		t.Errorf("History length = %d, want 0 after corrupted snapshot", len(machine.History()))
	}
}

// TestLoadMoreEndToEnd drives a full load-more flow: HTTP source →
// orchestrator → Redis-persisted state machine.
func TestLoadMoreEndToEnd(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mockFeed := testutil.NewMockFeed()
	defer mockFeed.Close()
	mockFeed.SetPostsResponse(testutil.NewPostsPageResponse("page", 15, true))

	sourceClient, err := source.New(source.DefaultConfig(mockFeed.URL()))
	if err != nil {
		t.Fatalf("Failed to create source client: %v", err)
	}

	machine := statemachine.New(statemachine.Config{
		Store: statemachine.NewRedisStore(redisClient),
	})

	cfg := orchestrator.DefaultConfig()
	cfg.IdleResetDelay = 50 * time.Millisecond

	orch, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Machine: machine,
		Fetch:   sourceClient.FetchPage,
	})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	result := orch.HandleLoadMore(context.Background())
	if !result.Success {
		t.Fatalf("Load more failed: %s", result.Error)
	}
	if len(result.NewPosts) != 15 {
		t.Errorf("New posts = %d, want 15", len(result.NewPosts))
	}
	if mockFeed.GetRequestCount() != 1 {
		t.Errorf("Upstream requests = %d, want 1", mockFeed.GetRequestCount())
	}

	// Wait for the grace-delay reset, then verify the idle state was
	// persisted for the next process.
	deadline := time.Now().Add(2 * time.Second)
	for machine.Current() != statemachine.StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("Machine never reset to idle, stuck in %s", machine.Current())
		}
		time.Sleep(10 * time.Millisecond)
	}

	restored := statemachine.New(statemachine.Config{
		Store: statemachine.NewRedisStore(redisClient),
	})
	if restored.Current() != statemachine.StateIdle {
		t.Errorf("Restored state = %s, want idle", restored.Current())
	}
	if len(restored.History()) == 0 {
		t.Error("Expected restored history to carry the load-more transitions")
	}
}

// TestPageCacheReadThrough verifies that a cached page short-circuits the
// upstream request.
func TestPageCacheReadThrough(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mockFeed := testutil.NewMockFeed()
	defer mockFeed.Close()
	mockFeed.SetPostsResponse(testutil.NewPostsPageResponse("page", 15, true))

	cfg := source.DefaultConfig(mockFeed.URL())
	cfg.Cache = cache.NewManager(redisClient, time.Minute)

	sourceClient, err := source.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create source client: %v", err)
	}

	ctx := context.Background()

	first, err := sourceClient.FetchPage(ctx, 1, 15)
	if err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	if mockFeed.GetRequestCount() != 1 {
		t.Fatalf("Upstream requests = %d, want 1", mockFeed.GetRequestCount())
	}

	second, err := sourceClient.FetchPage(ctx, 1, 15)
	if err != nil {
		t.Fatalf("Cached fetch failed: %v", err)
	}
	if mockFeed.GetRequestCount() != 1 {
		t.Errorf("Upstream requests = %d after cached fetch, want 1", mockFeed.GetRequestCount())
	}
	if len(second.Posts) != len(first.Posts) || second.HasMore != first.HasMore {
		t.Errorf("Cached page differs from upstream page: %d/%v vs %d/%v",
			len(second.Posts), second.HasMore, len(first.Posts), first.HasMore)
	}

	// A different page key misses the cache and hits upstream again.
	if _, err := sourceClient.FetchPage(ctx, 2, 15); err != nil {
		t.Fatalf("Second page fetch failed: %v", err)
	}
	if mockFeed.GetRequestCount() != 2 {
		t.Errorf("Upstream requests = %d, want 2", mockFeed.GetRequestCount())
	}
}

// TestValidationAfterLoadMore verifies state invariants hold across the
// full stack.
func TestValidationAfterLoadMore(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mockFeed := testutil.NewMockFeed()
	defer mockFeed.Close()
	mockFeed.SetPostsResponse(testutil.NewPostsPageResponse("page", 15, false))

	sourceClient, err := source.New(source.DefaultConfig(mockFeed.URL()))
	if err != nil {
		t.Fatalf("Failed to create source client: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config: orchestrator.DefaultConfig(),
		Machine: statemachine.New(statemachine.Config{
			Store: statemachine.NewRedisStore(redisClient),
		}),
		Fetch: sourceClient.FetchPage,
	})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	result := orch.HandleLoadMore(context.Background())
	if !result.Success {
		t.Fatalf("Load more failed: %s", result.Error)
	}
	if result.HasMore {
		t.Error("Expected exhausted upstream to report no more posts")
	}

	report := orch.ValidateState()
	if !report.IsValid {
		t.Errorf("State invalid after load more: %v", report.Messages())
	}
}
