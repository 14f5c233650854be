package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/imago/internal/models"
)

func TestExecuteWithRetry_SucceedsFirstAttempt(t *testing.T) {
	policy := fastRetry()
	calls := 0

	attempts, err := policy.ExecuteWithRetry(context.Background(), createTestLogger(), models.StageConvert, func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1 and 1", attempts, calls)
	}
}

func TestExecuteWithRetry_SucceedsAfterRetry(t *testing.T) {
	policy := fastRetry()
	calls := 0

	attempts, err := policy.ExecuteWithRetry(context.Background(), createTestLogger(), models.StageConvert, func() error {
		calls++
		if calls == 1 {
			return errors.New("transient failure")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 || calls != 2 {
		t.Errorf("attempts = %d, calls = %d, want 2 and 2", attempts, calls)
	}
}

func TestExecuteWithRetry_ExhaustsAtTwoAttempts(t *testing.T) {
	policy := fastRetry()
	calls := 0
	failure := errors.New("stage always fails")

	attempts, err := policy.ExecuteWithRetry(context.Background(), createTestLogger(), models.StageCompress, func() error {
		calls++
		return failure
	})

	if !errors.Is(err, failure) {
		t.Fatalf("expected the stage error, got %v", err)
	}
	// Initial attempt plus exactly one retry, never more
	if attempts != 2 || calls != 2 {
		t.Errorf("attempts = %d, calls = %d, want 2 and 2", attempts, calls)
	}
}

func TestExecuteWithRetry_CancellationIsNotRetried(t *testing.T) {
	policy := fastRetry()
	calls := 0

	attempts, err := policy.ExecuteWithRetry(context.Background(), createTestLogger(), models.StageConvert, func() error {
		calls++
		return context.Canceled
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1 and 1", attempts, calls)
	}
}

func TestExecuteWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 2, Backoff: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		attempts, err = policy.ExecuteWithRetry(ctx, createTestLogger(), models.StageConvert, func() error {
			calls++
			return errors.New("transient failure")
		})
		close(done)
	}()

	// Let the first attempt fail, then cancel while it waits out the backoff
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not return after cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1 and 1", attempts, calls)
	}
}

func TestExecuteWithRetry_TimeoutIsRetried(t *testing.T) {
	policy := fastRetry()
	calls := 0

	_, err := policy.ExecuteWithRetry(context.Background(), createTestLogger(), models.StageConvert, func() error {
		calls++
		return context.DeadlineExceeded
	})

	// A stage timing out internally is exactly what the retry exists for
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
