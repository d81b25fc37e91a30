package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRedisCacheSetAndGet(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cache := NewRedisCache(client)

	ctx := context.Background()
	if err := cache.Set(ctx, "kyc:result:kyc_1", `{"status":"VERIFIED"}`, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, err := cache.Get(ctx, "kyc:result:kyc_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != `{"status":"VERIFIED"}` {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestRedisCacheGetMissingKey(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cache := NewRedisCache(client)

	if _, err := cache.Get(context.Background(), "kyc:result:absent"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestRedisCacheEntryExpires(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cache := NewRedisCache(client)

	ctx := context.Background()
	if err := cache.Set(ctx, "kyc:result:kyc_2", "cached", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	server.FastForward(2 * time.Minute)

	if _, err := cache.Get(ctx, "kyc:result:kyc_2"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
