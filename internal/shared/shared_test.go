package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConflictClassification(t *testing.T) {
	cases := []struct {
		err      error
		conflict bool
		unique   bool
	}{
		{nil, false, false},
		{errors.New("SQLITE_BUSY: retry"), true, false},
		{errors.New("database is locked (5)"), true, false},
		{errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"), false, true},
		{errors.New("no such table"), false, false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.conflict {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.conflict)
		}
		if got := IsUniqueConstraintError(tc.err); got != tc.unique {
			t.Errorf("IsUniqueConstraintError(%v) = %v, want %v", tc.err, got, tc.unique)
		}
	}
}

func TestRetryOnConflictRetriesBusy(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	err := RetryOnConflict(context.Background(), DefaultRetryPolicy, "test", func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("Expected %v, got %v", want, err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if !IsSQLiteBusyError(err) {
		t.Fatalf("Expected busy error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestDefaultRetryPolicyAttempts(t *testing.T) {
	calls := 0
	start := time.Now()
	err := RetryOnConflict(context.Background(), DefaultRetryPolicy, "test", func() error {
		calls++
		return errors.New("database is locked")
	})
	if !IsSQLiteConflictError(err) {
		t.Fatalf("Expected conflict error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	// Two sleeps: 50ms + 100ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Expected at least 150ms of backoff, got %v", elapsed)
	}
}
