package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "http://search.internal:9200/search"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "anthropic"); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// burst 1: the token is consumed
	if limiter.Allow("anthropic") {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}

	// backends are limited independently
	if !limiter.Allow("cross-encoder") {
		t.Errorf("expected allow for other backend")
	}
}

func TestLimiter_URLKeysShareHost(t *testing.T) {
	limiter := NewLimiter(1, 1)

	if !limiter.Allow("http://rerank.internal/rerank") {
		t.Fatal("first request should pass")
	}
	if limiter.Allow("http://rerank.internal/health") {
		t.Error("same host should share the limiter")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)

	if err := limiter.SetRate("ollama", 0.1, 1); err != nil {
		t.Fatalf("SetRate: %v", err)
	}

	if !limiter.Allow("ollama") {
		t.Errorf("first request should pass")
	}
	if limiter.Allow("ollama") {
		t.Errorf("second request should fail")
	}
	if !limiter.Allow("openai") {
		t.Errorf("other backend should pass")
	}
}

func TestLimiter_SetRateLiftsLimit(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	if err := limiter.SetRate("http://search.internal:9200/search", 0, 0); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	for i := 0; i < 20; i++ {
		if !limiter.Allow("search.internal:9200") {
			t.Fatalf("request %d refused after the limit was lifted", i)
		}
	}
	if err := limiter.SetRate("http://%zz", 1, 1); err == nil {
		t.Error("expected an error for an unparseable URL key")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("bm25") {
			t.Fatalf("request %d refused with limiting disabled", i)
		}
	}
}

func TestLimiter_NilAndCancelled(t *testing.T) {
	var limiter *Limiter
	if err := limiter.Wait(context.Background(), "openai"); err != nil {
		t.Errorf("nil limiter should not block: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	slow := NewLimiter(0.01, 1)
	_ = slow.Wait(ctx, "openai")
	if err := slow.Wait(ctx, "openai"); err == nil {
		t.Error("expected error when the wait outlives the context")
	}
}

func TestBackendKey(t *testing.T) {
	key, err := backendKey("http://example.com/foo")
	if err != nil {
		t.Fatalf("backendKey failed: %v", err)
	}
	if key != "example.com" {
		t.Errorf("expected example.com, got %s", key)
	}

	if key, _ := backendKey("openai"); key != "openai" {
		t.Errorf("expected plain names to pass through, got %s", key)
	}

	if _, err := backendKey("http://[::1"); err == nil {
		t.Errorf("expected error for invalid URL")
	}
}
