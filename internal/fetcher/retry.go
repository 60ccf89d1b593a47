package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mkts/internal/market"
)

// State is a step of the bounded retry machine
type State int

const (
	// StateAttempting issues one request
	StateAttempting State = iota
	// StateBackingOff waits before the next attempt
	StateBackingOff
	// StateExhausted is terminal: the attempt budget is spent
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackingOff:
		return "backing_off"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RetryPolicy bounds the number of attempts and the back-off between them
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry is three attempts with exponential back-off from 1s to 10s
var DefaultRetry = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// Attempt performs one request. n starts at 1.
type Attempt func(ctx context.Context, n int) error

// TransitionFunc observes every state change of the machine
type TransitionFunc func(from, to State, attempt int, err error)

// Run drives op through Attempting -> BackingOff -> Attempting ... until it
// succeeds, fails with a non-retryable error, or the budget is exhausted.
// Exhaustion keeps the kind of the last failure (RateLimited or
// ProviderUnavailable). A cancelled context ends the machine with Cancelled.
func (p RetryPolicy) Run(ctx context.Context, symbol market.Symbol, op Attempt, onTransition TransitionFunc) error {
	if onTransition == nil {
		onTransition = logTransition(symbol)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetry.MaxAttempts
	}

	var (
		state   = StateAttempting
		attempt int
		delay   time.Duration
		lastErr *market.Error
	)

	for {
		switch state {
		case StateAttempting:
			if err := ctx.Err(); err != nil {
				return market.NewCancelledError(symbol.String(), err)
			}
			attempt++
			err := op(ctx, attempt)
			if err == nil {
				return nil
			}
			lastErr = asMarketError(symbol, err)
			if lastErr.Kind == market.Cancelled || !lastErr.Retryable {
				return lastErr
			}
			if attempt >= maxAttempts {
				onTransition(state, StateExhausted, attempt, lastErr)
				state = StateExhausted
				continue
			}
			delay = p.backoff(attempt, lastErr.RetryAfter)
			onTransition(state, StateBackingOff, attempt, lastErr)
			state = StateBackingOff

		case StateBackingOff:
			if err := sleep(ctx, delay); err != nil {
				return market.NewCancelledError(symbol.String(), err)
			}
			onTransition(state, StateAttempting, attempt, nil)
			state = StateAttempting

		case StateExhausted:
			kind := market.ProviderUnavailable
			if lastErr.Kind == market.RateLimited {
				kind = market.RateLimited
			}
			return &market.Error{
				Kind:       kind,
				Symbol:     symbol.String(),
				StatusCode: lastErr.StatusCode,
				Message:    fmt.Sprintf("giving up after %d attempts", attempt),
				Cause:      lastErr,
			}
		}
	}
}

// backoff returns the wait after the given attempt: the provider's hint when
// present, otherwise BaseDelay doubled per attempt. Both are capped at MaxDelay.
func (p RetryPolicy) backoff(attempt int, hint time.Duration) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetry.MaxDelay
	}
	d := hint
	if d <= 0 {
		d = p.BaseDelay
		for i := 1; i < attempt && d < maxDelay; i++ {
			d *= 2
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func asMarketError(symbol market.Symbol, err error) *market.Error {
	var merr *market.Error
	if errors.As(err, &merr) {
		return merr
	}
	return NewNetworkError(symbol, err)
}

// logTransition logs retry transitions for observability
func logTransition(symbol market.Symbol) TransitionFunc {
	return func(from, to State, attempt int, err error) {
		attrs := []any{
			"symbol", symbol.String(),
			"from", from.String(),
			"to", to.String(),
			"attempt", attempt,
		}
		if err != nil {
			attrs = append(attrs, "error", err.Error())
		}
		slog.Debug("retry state change", attrs...)
	}
}
