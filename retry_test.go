package mdoc

import (
	"context"
	"testing"
	"time"
)

func TestRetrySucceedsAfterRecoverableFailures(t *testing.T) {
	attempts := 0
	policy := defaultRetryPolicy(2*time.Second, 3)
	err := retry(context.Background(), policy, func() error {
		attempts++
		if attempts < 2 {
			return &SendError{ErrNotPaired}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryAbortsImmediatelyOnTerminalError(t *testing.T) {
	attempts := 0
	policy := defaultRetryPolicy(2*time.Second, 3)
	wantErr := &ProtoError{ErrBluetoothUnavailable}
	err := retry(context.Background(), policy, func() error {
		attempts++
		return wantErr
	})
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a terminal error, got %d", attempts)
	}
	if err != wantErr {
		t.Fatalf("expected the terminal error to surface unchanged, got %v", err)
	}
}

func TestRetryExhaustsBudgetAsTimeout(t *testing.T) {
	policy := retryPolicy{maxAttempts: 3, overall: 2 * time.Second}
	attempts := 0
	err := retry(context.Background(), policy, func() error {
		attempts++
		return &SendError{ErrNotPaired}
	})
	if err == nil {
		t.Fatal("expected an error once the retry budget is exhausted")
	}
	if Classify(err) != Terminal {
		t.Fatal("an exhausted retry budget must surface as terminal")
	}
	if attempts != policy.maxAttempts {
		t.Fatalf("expected %d attempts, got %d", policy.maxAttempts, attempts)
	}
}
