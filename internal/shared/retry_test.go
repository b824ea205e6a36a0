package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func init() {
	busyBaseDelay = time.Millisecond
}

func TestRetryOnConflictRetriesBusy(t *testing.T) {
	attempts := 0
	err := RetryOnConflict(context.Background(), "delete thing", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("constraint failed")
	attempts := 0
	err := RetryOnConflict(context.Background(), "delete thing", func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	attempts := 0
	err := RetryOnConflict(context.Background(), "delete thing", func() error {
		attempts++
		return errors.New("SQLITE_BUSY")
	})
	if !IsSQLiteConflictError(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if attempts != BusyRetries {
		t.Errorf("expected %d attempts, got %d", BusyRetries, attempts)
	}
}

func TestRetryOnConflictHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, "delete thing", func() error {
		return errors.New("SQLITE_BUSY")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsSQLiteConflictError(t *testing.T) {
	cases := map[string]bool{
		"SQLITE_BUSY":           true,
		"database is locked":    true,
		"no such table: things": false,
	}
	for msg, want := range cases {
		if got := IsSQLiteConflictError(errors.New(msg)); got != want {
			t.Errorf("IsSQLiteConflictError(%q) = %v, want %v", msg, got, want)
		}
	}
	if IsSQLiteConflictError(nil) {
		t.Error("nil error reported as conflict")
	}
}
