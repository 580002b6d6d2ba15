package embedder_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bookmind/bookmind/config"
	"github.com/bookmind/bookmind/internal/embedder"
)

func TestQueryCacheAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	cfg := config.RedisConfig{Host: host, Port: port.Port()}
	cache, err := embedder.NewQueryCache(ctx, cfg, time.Minute, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	defer cache.Close()

	if _, ok := cache.Get(ctx, "model-a", "what happened to the whale"); ok {
		t.Fatal("unexpected cache hit before put")
	}

	vec := []float32{0.1, 0.2, 0.3}
	cache.Put(ctx, "model-a", "what happened to the whale", vec)

	got, ok := cache.Get(ctx, "model-a", "what happened to the whale")
	if !ok {
		t.Fatal("expected cache hit after put")
	}
	if len(got) != len(vec) || got[0] != vec[0] || got[2] != vec[2] {
		t.Fatalf("cached vector %v, want %v", got, vec)
	}

	// Entries are keyed per model and per query.
	if _, ok := cache.Get(ctx, "model-b", "what happened to the whale"); ok {
		t.Fatal("hit across models")
	}
	if _, ok := cache.Get(ctx, "model-a", "a different question"); ok {
		t.Fatal("hit across queries")
	}
}

func TestQueryCacheDisabled(t *testing.T) {
	cache, err := embedder.NewQueryCache(context.Background(), config.RedisConfig{}, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	if cache != nil {
		t.Fatal("expected nil cache when redis is not configured")
	}
	// nil cache must be safe to use
	if _, ok := cache.Get(context.Background(), "m", "q"); ok {
		t.Fatal("nil cache returned a hit")
	}
	cache.Put(context.Background(), "m", "q", []float32{1})
	if err := cache.Close(); err != nil {
		t.Fatalf("nil Close returned %v", err)
	}
}
