package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("expected MaxDelay=5s, got %v", cfg.MaxDelay)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	calls := 0
	want := errors.New("still failing")
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return want
	})
	if err != want {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error {
			return errors.New("fail")
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoWithResult_KeepsLastResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(1), func() (int, error) {
		calls++
		return calls, errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got != 2 {
		t.Errorf("expected last result 2, got %d", got)
	}
}

func TestBackoff_RespectsMaxDelay(t *testing.T) {
	b := newBackoff(&Config{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 10})
	for i := 0; i < 3; i++ {
		if err := b.wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if b.delay != 2*time.Millisecond {
		t.Errorf("expected delay capped at 2ms, got %v", b.delay)
	}
}

func TestApplyJitter_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := applyJitter(100*time.Millisecond, 0.1)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside +/-10%%", d)
		}
	}
	if applyJitter(time.Second, 0) != time.Second {
		t.Error("zero jitter must not change the delay")
	}
}

type declared struct{ retry bool }

func (d declared) Error() string     { return "declared 503" }
func (d declared) IsRetryable() bool { return d.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"i/o timeout", errors.New("read: i/o timeout"), true},
		{"rate limited", errors.New("HTTP 429 Too Many Requests"), true},
		{"overloaded", errors.New("overloaded_error"), true},
		{"bad request", errors.New("HTTP 400 bad request"), false},
		{"canceled", context.Canceled, false},
		{"declared retryable", declared{retry: true}, true},
		{"declared permanent beats pattern", declared{retry: false}, false},
		{"declared through wrap", errors.Join(errors.New("ctx"), declared{retry: false}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoIfRetryable_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	want := errors.New("syntax error")
	err := DoIfRetryable(context.Background(), fastConfig(3), func() error {
		calls++
		return want
	})
	if err != want {
		t.Errorf("expected %v, got %v", want, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoIfRetryable_EscalatesRepeatedErrors(t *testing.T) {
	cfg := fastConfig(10)
	cfg.MaxSameErrorType = 3

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("HTTP 503 service unavailable")
	})
	if err == nil || !strings.Contains(err.Error(), "repeated error (3 times, type=503)") {
		t.Fatalf("expected escalation, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoIfRetryableWithResult(t *testing.T) {
	calls := 0
	got, err := DoIfRetryableWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset by peer")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}
