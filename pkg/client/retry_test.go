package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingSleep captures requested backoffs without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestRetrier(t *testing.T, policy RetryPolicy, opts ...RetrierOption) (*Retrier, *recordingSleep) {
	t.Helper()

	rec := &recordingSleep{}
	opts = append([]RetrierOption{
		WithSleep(rec.sleep),
		WithRetryLogger(zerolog.Nop()),
	}, opts...)

	r, err := NewRetrier(policy, opts...)
	if err != nil {
		t.Fatalf("NewRetrier() error = %v", err)
	}
	return r, rec
}

var errServer = &UpstreamError{Endpoint: "/customers/C1", StatusCode: 503, Class: ErrorClassServer, Message: "503 Service Unavailable"}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", policy.MaxAttempts)
	}
	if policy.BaseDelay != 100*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 100ms", policy.BaseDelay)
	}
	if policy.MaxDelay != 1*time.Second {
		t.Errorf("MaxDelay = %v, want 1s", policy.MaxDelay)
	}
	if policy.Jitter != 0 {
		t.Errorf("Jitter = %v, want 0", policy.Jitter)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"valid", RetryPolicy{MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0}, false},
		{"zero attempts", RetryPolicy{MaxAttempts: 0, BaseDelay: time.Millisecond, MaxDelay: time.Second}, true},
		{"negative base", RetryPolicy{MaxAttempts: 3, BaseDelay: -time.Millisecond, MaxDelay: time.Second}, true},
		{"max below base", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Millisecond}, true},
		{"jitter above one", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Jitter: 1.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("error should wrap ErrInvalidPolicy, got %v", err)
			}
		})
	}

	if _, err := NewRetrier(RetryPolicy{}); err == nil {
		t.Error("NewRetrier should reject an invalid policy")
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
		1 * time.Second,
	}
	for attempt, w := range want {
		if got := policy.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestRetryPolicy_DelayMonotonicAndCapped(t *testing.T) {
	policies := []RetryPolicy{
		{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second},
		{MaxAttempts: 3, BaseDelay: 7 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
		{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second},
		{MaxAttempts: 3, BaseDelay: time.Nanosecond, MaxDelay: time.Hour},
	}

	for _, p := range policies {
		prev := time.Duration(0)
		for attempt := 0; attempt < 100; attempt++ {
			d := p.Delay(attempt)
			if d < prev {
				t.Fatalf("%+v: Delay(%d) = %v decreased from %v", p, attempt, d, prev)
			}
			if d > p.MaxDelay {
				t.Fatalf("%+v: Delay(%d) = %v exceeds MaxDelay", p, attempt, d)
			}
			prev = d
		}
	}
}

func TestRetry_Success(t *testing.T) {
	r, rec := newTestRetrier(t, DefaultRetryPolicy())

	callCount := 0
	got, err := Retry(context.Background(), r, func(context.Context) (string, error) {
		callCount++
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %q, want ok", got)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
	if len(rec.delays) != 0 {
		t.Errorf("Expected no backoff, got %v", rec.delays)
	}
}

func TestRetry_SuccessAfterRetry(t *testing.T) {
	r, rec := newTestRetrier(t, DefaultRetryPolicy())

	callCount := 0
	err := r.Do(context.Background(), func(context.Context) error {
		callCount++
		if callCount < 3 {
			return errServer
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(rec.delays) != len(want) || rec.delays[0] != want[0] || rec.delays[1] != want[1] {
		t.Errorf("backoffs = %v, want %v", rec.delays, want)
	}
}

func TestRetry_MaxAttemptsExhausted(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		policy := RetryPolicy{MaxAttempts: n, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
		r, rec := newTestRetrier(t, policy)

		callCount := 0
		err := r.Do(context.Background(), func(context.Context) error {
			callCount++
			return errServer
		})

		if callCount != n {
			t.Errorf("MaxAttempts=%d: expected %d calls, got %d", n, n, callCount)
		}
		if len(rec.delays) != n-1 {
			t.Errorf("MaxAttempts=%d: expected %d backoffs, got %d", n, n-1, len(rec.delays))
		}
		// The last error is returned unchanged.
		if err != errServer {
			t.Errorf("MaxAttempts=%d: err = %v, want the original error", n, err)
		}
	}
}

func TestRetry_ClientErrorNoRetry(t *testing.T) {
	r, rec := newTestRetrier(t, DefaultRetryPolicy())

	notFound := &UpstreamError{StatusCode: 404, Class: ErrorClassClient, Message: "404 Not Found"}
	callCount := 0
	err := r.Do(context.Background(), func(context.Context) error {
		callCount++
		return notFound
	})

	if err != notFound {
		t.Errorf("err = %v, want %v", err, notFound)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", callCount)
	}
	if len(rec.delays) != 0 {
		t.Errorf("Expected no backoff, got %v", rec.delays)
	}
}

func TestRetry_NonUpstreamErrorNoRetry(t *testing.T) {
	r, _ := newTestRetrier(t, DefaultRetryPolicy())

	plain := errors.New("mapping failed")
	callCount := 0
	err := r.Do(context.Background(), func(context.Context) error {
		callCount++
		return plain
	})

	if !errors.Is(err, plain) || callCount != 1 {
		t.Errorf("err = %v, calls = %d; want plain error after 1 call", err, callCount)
	}
}

func TestRetry_CustomPredicate(t *testing.T) {
	always := func(error) bool { return true }
	r, _ := newTestRetrier(t, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, WithRetryable(always))

	callCount := 0
	_ = r.Do(context.Background(), func(context.Context) error {
		callCount++
		return errors.New("anything")
	})

	if callCount != 4 {
		t.Errorf("Expected 4 calls with custom predicate, got %d", callCount)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	r, err := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second},
		WithRetryLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err = r.Do(ctx, func(context.Context) error {
		callCount++
		return errServer
	})
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
	if elapsed > 2*time.Second {
		t.Errorf("cancellation should abort the backoff promptly, took %v", elapsed)
	}
}

func TestRetry_ContextAlreadyCancelled(t *testing.T) {
	r, _ := newTestRetrier(t, DefaultRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	err := r.Do(ctx, func(context.Context) error {
		callCount++
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if callCount != 0 {
		t.Errorf("Expected no calls on cancelled context, got %d", callCount)
	}
}

func TestRetry_Jitter(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}
	r, rec := newTestRetrier(t, policy)
	r.random = func() float64 { return 1 }

	_ = r.Do(context.Background(), func(context.Context) error { return errServer })

	if len(rec.delays) != 1 {
		t.Fatalf("expected one backoff, got %v", rec.delays)
	}
	if rec.delays[0] != 50*time.Millisecond {
		t.Errorf("jittered backoff = %v, want 50ms", rec.delays[0])
	}
	if rec.delays[0] > policy.Delay(0) {
		t.Error("jitter must never exceed the computed delay")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() on cancelled ctx = %v, want context.Canceled", err)
	}
}
