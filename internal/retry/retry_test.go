package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func init() {
	baseDelay = time.Millisecond
}

var errTransport = errors.New("transport error")

func alwaysAgain(err error, attempt int) Decision { return Again }

func TestDo_RetryBound(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, alwaysAgain, func(ctx context.Context) error {
		calls++
		return errTransport
	})

	if !errors.Is(err, errTransport) {
		t.Fatalf("expected errTransport, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDo_SucceedsMidway(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, alwaysAgain, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errTransport
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDo_StopShortCircuits(t *testing.T) {
	errConflict := errors.New("already aborted")

	classify := func(err error, attempt int) Decision {
		if errors.Is(err, errConflict) {
			return Stop
		}
		return Again
	}

	calls := 0
	err := Do(context.Background(), 3, classify, func(ctx context.Context) error {
		calls++
		return errConflict
	})

	if !errors.Is(err, errConflict) {
		t.Fatalf("expected errConflict, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestDo_FatalDoesNotRetry(t *testing.T) {
	errBug := errors.New("schema violation")

	classify := func(err error, attempt int) Decision {
		if errors.Is(err, errTransport) {
			return Again
		}
		return Fatal
	}

	calls := 0
	err := Do(context.Background(), 3, classify, func(ctx context.Context) error {
		calls++
		return errBug
	})

	if !errors.Is(err, errBug) {
		t.Fatalf("expected errBug, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, 3, alwaysAgain, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransport
	})

	if !errors.Is(err, errTransport) {
		t.Fatalf("expected errTransport, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt after cancel, got %d", calls)
	}
}

func TestDo_DefaultAttempts(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, alwaysAgain, func(ctx context.Context) error {
		calls++
		return errTransport
	})

	if calls != DefaultAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultAttempts, calls)
	}
}
