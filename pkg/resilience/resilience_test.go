// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/nicholaskb/semant/pkg/errors"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	rc := DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxAttempts(3)

	attempts := 0
	err := rc.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.CodeTimeout, "transient", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRecoverable(t *testing.T) {
	rc := DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxAttempts(5)

	attempts := 0
	err := rc.Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodeValidation, "malformed", nil)
	})
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt for non-recoverable error, got %d", attempts)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	rc := DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxAttempts(3)

	attempts := 0
	err := rc.Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodeCapabilityUnavailable, "no agent", nil)
	})
	if !errors.IsCode(err, errors.CodeCapabilityUnavailable) {
		t.Fatalf("expected last error back, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	rc := DefaultRetryConfig().WithInitialDelay(time.Second).WithMaxAttempts(3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := rc.Do(ctx, func() error {
		return errors.New(errors.CodeTimeout, "transient", nil)
	})
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Fatalf("expected timeout error on cancellation, got %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: 10 * time.Millisecond}, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	err = WithTimeout(context.Background(), TimeoutConfig{Duration: time.Second}, func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected success within the attempt limit, got %v", err)
	}
}

func TestWithTimeoutResult(t *testing.T) {
	got, err := WithTimeoutResult(context.Background(), TimeoutConfig{Duration: time.Second}, func(context.Context) (string, error) {
		return "done", nil
	})
	if err != nil || got != "done" {
		t.Fatalf("expected done, got %q, %v", got, err)
	}
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		Name:             "agent-a1",
	})

	if tripped := cb.RecordFailure(); tripped {
		t.Fatalf("breaker tripped before threshold")
	}
	if tripped := cb.RecordFailure(); !tripped {
		t.Fatalf("breaker did not trip at threshold")
	}
	if cb.Allow() {
		t.Fatalf("open breaker must block calls")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("breaker should half-open after timeout")
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after recovery, got %s", cb.State())
	}
}
