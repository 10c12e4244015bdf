package rediscache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestCacheIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	ctx := context.Background()
	cache, err := Open(ctx, addr, "", 15)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer cache.Close()

	key := "test-" + t.Name()
	if err := cache.SetCache(ctx, key, []byte("payload"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, ok, err := cache.GetCache(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(value) != "payload" {
		t.Fatalf("get = %q, %v", value, ok)
	}

	if _, ok, _ := cache.GetCache(ctx, "missing-"+t.Name()); ok {
		t.Fatal("expected miss for unknown key")
	}

	if _, err := cache.PurgeExpired(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
}
