package exchange

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPacerFirstRequestImmediate(t *testing.T) {
	t.Parallel()
	p := NewPacer(time.Second)

	start := time.Now()
	if err := p.Wait(context.Background(), "acct"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first Wait took %v, expected immediate", elapsed)
	}
}

func TestPacerSpacesSameAccount(t *testing.T) {
	t.Parallel()
	p := NewPacer(100 * time.Millisecond)

	_ = p.Wait(context.Background(), "acct")

	start := time.Now()
	if err := p.Wait(context.Background(), "acct"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("second Wait returned after %v, expected ~100ms spacing", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("second Wait blocked too long: %v", elapsed)
	}
}

func TestPacerAccountsIndependent(t *testing.T) {
	t.Parallel()
	p := NewPacer(500 * time.Millisecond)

	_ = p.Wait(context.Background(), "alpha")

	// A different account must not inherit alpha's reservation.
	start := time.Now()
	if err := p.Wait(context.Background(), "beta"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("beta waited %v behind alpha, expected immediate", elapsed)
	}
}

func TestPacerConcurrentCallersQueue(t *testing.T) {
	t.Parallel()
	p := NewPacer(60 * time.Millisecond)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Wait(context.Background(), "acct")
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Three callers reserve slots at 0ms, 60ms, 120ms.
	if elapsed < 100*time.Millisecond {
		t.Errorf("three concurrent Waits finished in %v, expected ~120ms of queuing", elapsed)
	}
}

func TestPacerContextCancelled(t *testing.T) {
	t.Parallel()
	p := NewPacer(time.Hour)

	_ = p.Wait(context.Background(), "acct")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.Wait(ctx, "acct"); err == nil {
		t.Error("expected context error, got nil")
	}
}
