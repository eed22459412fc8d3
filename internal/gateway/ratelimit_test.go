package gateway

import (
	"context"
	"testing"
)

func TestRateLimiterAllowsEverythingWithoutRedis(t *testing.T) {
	limiter := NewRateLimiter(nil, 0)
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(context.Background(), "searxng", 1)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("expected unlimited Allow with no redis client configured")
		}
	}
}

func TestRateLimiterNilReceiverAllowsEverything(t *testing.T) {
	var limiter *RateLimiter
	allowed, err := limiter.Allow(context.Background(), "serper", 10)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatalf("expected nil RateLimiter to allow unconditionally")
	}
}
