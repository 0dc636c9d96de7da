package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockRegistry_AcquireRelease(t *testing.T) {
	r := newLockRegistry()
	ctx := context.Background()

	release, err := r.acquire(ctx, "u1|l1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()

	// Reusable after release.
	release, err = r.acquire(ctx, "u1|l1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	release()
}

func TestLockRegistry_BusyAfterWait(t *testing.T) {
	r := newLockRegistry()
	ctx := context.Background()

	release, err := r.acquire(ctx, "u1|l1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	start := time.Now()
	if _, err := r.acquire(ctx, "u1|l1", 30*time.Millisecond); !errors.Is(err, ErrBusy) {
		t.Errorf("contended acquire = %v, want ErrBusy", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Busy rejection took far longer than the wait budget")
	}
}

func TestLockRegistry_IndependentPortfolios(t *testing.T) {
	r := newLockRegistry()
	ctx := context.Background()

	releaseA, err := r.acquire(ctx, "u1|l1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	defer releaseA()

	// A held lock on one portfolio never blocks another.
	releaseB, err := r.acquire(ctx, "u2|l1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire B: %v", err)
	}
	releaseB()
}

func TestLockRegistry_ContextCancelled(t *testing.T) {
	r := newLockRegistry()

	release, err := r.acquire(context.Background(), "u1|l1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.acquire(ctx, "u1|l1", time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled acquire = %v, want context.Canceled", err)
	}
}
