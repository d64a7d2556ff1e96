package history

import (
	"context"
	"testing"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/redis/go-redis/v9"
)

// Requires Redis running on localhost:6379
const testRedisAddr = "localhost:6379"

// setupTestCache creates a cache instance for testing.
func setupTestCache(t *testing.T, prefix string) *Cache {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	cache := NewCache(client, prefix, time.Minute)
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return cache
}

func TestCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	cache := setupTestCache(t, "chatsync-test:")

	var msgs []chat.Message
	hit, err := cache.Get(ctx, "conv:dm:1:2", &msgs)
	if err != nil || hit {
		t.Fatalf("Get() on empty cache = %v, %v; want miss", hit, err)
	}

	want := []chat.Message{{ID: "m1", SenderID: 1, RecipientID: 2, Content: "hi", CreatedAt: time.Now().UTC()}}
	if err := cache.Set(ctx, "conv:dm:1:2", want); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	hit, err = cache.Get(ctx, "conv:dm:1:2", &msgs)
	if err != nil || !hit {
		t.Fatalf("Get() after Set = %v, %v; want hit", hit, err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("Get() = %+v", msgs)
	}

	if err := cache.Delete(ctx, "conv:dm:1:2", "inbox:1"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if hit, _ := cache.Get(ctx, "conv:dm:1:2", &msgs); hit {
		t.Error("Get() after Delete = hit, want miss")
	}

	stats := cache.GetStats()
	if stats.Hits != 1 || stats.Misses != 2 || stats.Sets != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
}

func TestService_SnapshotCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	cache := setupTestCache(t, "chatsync-svc-test:")
	service, _ := setupTestService(t)
	service.cache = cache

	alice := mustCreateUser(t, service, "alice")
	bob := mustCreateUser(t, service, "bob")

	if msgs, err := service.DirectConversation(ctx, alice.ID, bob.ID); err != nil || len(msgs) != 0 {
		t.Fatalf("DirectConversation() = %v, %v", msgs, err)
	}
	if _, _, err := service.CreateMessage(ctx, CreateMessageRequest{SenderID: alice.ID, RecipientID: bob.ID, Content: "hi"}); err != nil {
		t.Fatalf("CreateMessage() unexpected error: %v", err)
	}

	msgs, err := service.DirectConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("DirectConversation() unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("DirectConversation() after create len = %d, want 1 (stale cache)", len(msgs))
	}
}

func TestService_SnapshotLoadedBeforeWriteIsNotServed(t *testing.T) {
	ctx := context.Background()
	cache := setupTestCache(t, "chatsync-gen-test:")
	service, _ := setupTestService(t)
	service.cache = cache

	alice := mustCreateUser(t, service, "alice")
	bob := mustCreateUser(t, service, "bob")
	key := conversationKey(chat.DirectRoom(alice.ID, bob.ID))

	// The write lands between this reader's load and its cache fill.
	stale, err := service.cached(ctx, key, func() ([]chat.Message, error) {
		before, err := service.repo.DirectConversation(ctx, alice.ID, bob.ID)
		if err != nil {
			return nil, err
		}
		if _, _, err := service.CreateMessage(ctx, CreateMessageRequest{SenderID: alice.ID, RecipientID: bob.ID, Content: "racing"}); err != nil {
			return nil, err
		}
		return before, nil
	})
	if err != nil {
		t.Fatalf("cached() unexpected error: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("cached() len = %d, want 0 from the pre-write load", len(stale))
	}

	msgs, err := service.DirectConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("DirectConversation() unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "racing" {
		t.Errorf("DirectConversation() = %+v, want the racing message", msgs)
	}
}

func TestCache_BumpRetiresGeneration(t *testing.T) {
	ctx := context.Background()
	cache := setupTestCache(t, "chatsync-bump-test:")

	gen, err := cache.Generation(ctx, "inbox:1")
	if err != nil || gen != 0 {
		t.Fatalf("Generation() = %d, %v; want 0", gen, err)
	}
	if err := cache.Bump(ctx, "inbox:1", "inbox:2"); err != nil {
		t.Fatalf("Bump() unexpected error: %v", err)
	}
	gen, err = cache.Generation(ctx, "inbox:1")
	if err != nil || gen != 1 {
		t.Errorf("Generation() after Bump = %d, %v; want 1", gen, err)
	}
	if got := GenerationKey("inbox:1", gen); got != "inbox:1@1" {
		t.Errorf("GenerationKey() = %q, want %q", got, "inbox:1@1")
	}
}
