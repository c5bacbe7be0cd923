package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type entry struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Rate  float64 `json:"rate"`
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return client, s
}

func TestRedisCache_SetGet(t *testing.T) {
	client, s := setupTestRedis(t)
	c := NewRedisCache(client, "")
	ctx := context.Background()

	want := []entry{{Name: "page_views", Count: 12, Rate: 0.5}}
	if err := c.Set(ctx, "summary:u1", want, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if !s.Exists(DefaultKeyPrefix + "summary:u1") {
		t.Error("expected key to be stored under the default prefix")
	}
	if ttl := s.TTL(DefaultKeyPrefix + "summary:u1"); ttl != time.Minute {
		t.Errorf("expected TTL 1m, got %v", ttl)
	}

	var got []entry
	hit, err := c.Get(ctx, "summary:u1", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestRedisCache_Miss(t *testing.T) {
	client, _ := setupTestRedis(t)
	c := NewRedisCache(client, "test:")

	var got entry
	hit, err := c.Get(context.Background(), "absent", &got)
	if err != nil {
		t.Fatalf("expected no error on miss, got %v", err)
	}
	if hit {
		t.Error("expected miss")
	}
}

func TestRedisCache_Expiry(t *testing.T) {
	client, s := setupTestRedis(t)
	c := NewRedisCache(client, "")
	ctx := context.Background()

	if err := c.Set(ctx, "k", entry{Name: "x"}, 10*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.FastForward(11 * time.Second)

	var got entry
	if hit, _ := c.Get(ctx, "k", &got); hit {
		t.Error("expected entry to expire")
	}
}

func TestRedisCache_CorruptValue(t *testing.T) {
	client, s := setupTestRedis(t)
	c := NewRedisCache(client, "")
	if err := s.Set(DefaultKeyPrefix+"bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var got entry
	hit, err := c.Get(context.Background(), "bad", &got)
	if err == nil || hit {
		t.Errorf("expected decode error, got hit=%v err=%v", hit, err)
	}
}

func TestRedisCache_Unreachable(t *testing.T) {
	client, s := setupTestRedis(t)
	c := NewRedisCache(client, "")
	s.Close()

	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after server shutdown")
	}
	var got entry
	if _, err := c.Get(context.Background(), "k", &got); err == nil {
		t.Error("expected get to fail after server shutdown")
	}
}

func TestLocalCache_SetGet(t *testing.T) {
	c, err := NewLocalCache(DefaultLocalConfig())
	if err != nil {
		t.Fatalf("NewLocalCache: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "cohorts:week", entry{Name: "2025-01-05", Count: 3}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got entry
	hit, err := c.Get(ctx, "cohorts:week", &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got.Name != "2025-01-05" || got.Count != 3 {
		t.Errorf("unexpected value %+v", got)
	}

	if hit, _ := c.Get(ctx, "cohorts:month", &got); hit {
		t.Error("expected miss for unknown key")
	}
}
