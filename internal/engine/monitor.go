package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// positionMonitor observes one armed account's position lifecycle:
// wait for the position to appear (size > 0), wait for it to close
// (size == 0), then cancel the account's still-resting tiers. A failed
// position read is retried on the next tick and never counts as a close.
func (r *Run) positionMonitor(ctx context.Context, name string) {
	logger := r.logger.With("component", "monitor", "account", name)
	client := r.clients[name]
	observing := false

	for !r.stopped() && ctx.Err() == nil {
		r.mu.Lock()
		armed := r.state[name].positionArmed
		r.mu.Unlock()
		if !armed {
			// Arming races with monitor startup; gate until it lands.
			if !r.sleepSliced(ctx, r.cfg.MonitorInterval) {
				break
			}
			continue
		}

		positions, err := client.Positions(ctx, r.instr.Symbol)
		if err != nil {
			logger.Warn("position poll failed", "error", err)
		} else {
			size := decimal.Zero
			if len(positions) > 0 {
				size = positions[0].SizeDecimal()
			}

			if !observing {
				if size.IsPositive() {
					observing = true
					logger.Info("position open, monitoring for close", "size", size)
				}
			} else if size.IsZero() {
				logger.Info("position closed, cancelling resting tiers")
				r.cancelResting(ctx, name, logger)

				r.mu.Lock()
				r.state[name].positionArmed = false
				r.state[name].monitorLive = false
				r.mu.Unlock()
				return
			}
		}

		if !r.sleepSliced(ctx, r.cfg.MonitorInterval) {
			break
		}
	}

	r.mu.Lock()
	r.state[name].monitorLive = false
	r.mu.Unlock()
}

// cancelResting cancels a snapshot of the account's pending orders and
// records them in the cancel list.
func (r *Run) cancelResting(ctx context.Context, name string, logger *slog.Logger) {
	client := r.clients[name]

	r.mu.Lock()
	snapshot := make([]string, 0, len(r.state[name].pending))
	for id := range r.state[name].pending {
		snapshot = append(snapshot, id)
	}
	r.mu.Unlock()

	for _, id := range snapshot {
		env, err := client.CancelOrder(ctx, r.instr.Symbol, id)
		if err != nil {
			logger.Warn("cancel failed", "orderLinkId", id, "error", err)
			continue
		}
		if !env.OK() {
			continue
		}
		r.mu.Lock()
		r.state[name].recordCancel(id)
		r.mu.Unlock()
		logger.Info("leftover order cancelled", "orderLinkId", id)
	}
}
