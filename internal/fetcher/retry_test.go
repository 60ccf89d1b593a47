package fetcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mkts/internal/market"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	var attempts atomic.Int32
	err := fastRetry.Run(context.Background(), "VOO", func(ctx context.Context, n int) error {
		attempts.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestRun_RetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	err := fastRetry.Run(context.Background(), "VOO", func(ctx context.Context, n int) error {
		if attempts.Add(1) < 3 {
			return NewServerError("VOO", 503)
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRun_ExhaustedServerErrors(t *testing.T) {
	var attempts atomic.Int32
	err := fastRetry.Run(context.Background(), "VOO", func(ctx context.Context, n int) error {
		attempts.Add(1)
		return NewServerError("VOO", 502)
	}, nil)
	if !errors.Is(err, market.ProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRun_ExhaustedRateLimit(t *testing.T) {
	var attempts atomic.Int32
	err := fastRetry.Run(context.Background(), "VOO", func(ctx context.Context, n int) error {
		attempts.Add(1)
		return NewRateLimitError("VOO", 429, 0)
	}, nil)
	if !errors.Is(err, market.RateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRun_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	err := fastRetry.Run(context.Background(), "ZZZZ", func(ctx context.Context, n int) error {
		attempts.Add(1)
		return NewClientError("ZZZZ", 404, "not found")
	}, nil)
	if !errors.Is(err, market.UnknownSymbol) {
		t.Fatalf("expected UnknownSymbol, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("should not retry on 4xx, expected 1 attempt, got %d", attempts.Load())
	}
}

func TestRun_ForeignErrorIsRetriedAsNetwork(t *testing.T) {
	var attempts atomic.Int32
	err := fastRetry.Run(context.Background(), "VOO", func(ctx context.Context, n int) error {
		attempts.Add(1)
		return errors.New("connection reset")
	}, nil)
	if !errors.Is(err, market.ProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRun_Transitions(t *testing.T) {
	type step struct{ from, to State }
	var steps []step

	_ = fastRetry.Run(context.Background(), "VOO", func(ctx context.Context, n int) error {
		return NewServerError("VOO", 500)
	}, func(from, to State, attempt int, err error) {
		steps = append(steps, step{from, to})
	})

	want := []step{
		{StateAttempting, StateBackingOff},
		{StateBackingOff, StateAttempting},
		{StateAttempting, StateBackingOff},
		{StateBackingOff, StateAttempting},
		{StateAttempting, StateExhausted},
	}
	if len(steps) != len(want) {
		t.Fatalf("got %d transitions, want %d: %v", len(steps), len(want), steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("transition %d = %v -> %v, want %v -> %v", i, steps[i].from, steps[i].to, want[i].from, want[i].to)
		}
	}
}

func TestRun_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second}

	start := time.Now()
	err := policy.Run(ctx, "VOO", func(ctx context.Context, n int) error {
		return NewServerError("VOO", 503)
	}, nil)
	if !errors.Is(err, market.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Fatalf("cancellation not prompt: %v", time.Since(start))
	}
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := fastRetry.Run(ctx, "VOO", func(ctx context.Context, n int) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, market.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if called {
		t.Fatal("attempt ran on a cancelled context")
	}
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		hint    time.Duration
		want    time.Duration
	}{
		{1, 0, 1 * time.Second},
		{2, 0, 2 * time.Second},
		{3, 0, 4 * time.Second},
		{4, 0, 8 * time.Second},
		{5, 0, 10 * time.Second},
		{1, 3 * time.Second, 3 * time.Second},
		{1, time.Minute, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := p.backoff(tt.attempt, tt.hint); got != tt.want {
			t.Errorf("backoff(%d, %v) = %v, want %v", tt.attempt, tt.hint, got, tt.want)
		}
	}
}
