// pacer.go enforces the per-account minimum spacing between venue requests.
//
// Bybit tolerates far higher request rates than this engine needs; one
// request per second per account keeps every account comfortably inside the
// venue's limits and, more importantly, keeps fill polling, TP/SL setting,
// and cancellation from interleaving within an account.
//
// The Pacer is owned by a single Run, so a fresh Run never inherits stale
// last-send timestamps from a previous one.
package exchange

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces requests per account name. Callers block in Wait until their
// account's slot arrives or the context is cancelled. The internal lock is
// never held across the sleep, so one account waiting does not stall others.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     map[string]time.Time // earliest send time per account
}

// NewPacer creates a pacer with the given minimum inter-request interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		next:     make(map[string]time.Time),
	}
}

// Wait blocks until the account may send its next request. The slot is
// reserved before sleeping, so concurrent callers for the same account queue
// up one interval apart instead of racing for the same slot.
func (p *Pacer) Wait(ctx context.Context, account string) error {
	p.mu.Lock()
	now := time.Now()
	at := p.next[account]
	if at.Before(now) {
		at = now
	}
	p.next[account] = at.Add(p.interval)
	p.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
