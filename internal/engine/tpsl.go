package engine

import (
	"context"
	"log/slog"

	"bybit-executor/internal/exchange"
)

// tpslWorker consumes fill events, attaches the filled tier's protection,
// and arms the position monitor for that account. It is the single point
// where at-most-once fill handling is enforced.
func (r *Run) tpslWorker(ctx context.Context) {
	logger := r.logger.With("component", "tpsl")

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case ev := <-r.fills:
			r.handleFill(ctx, ev, logger)
		}
	}
}

func (r *Run) handleFill(ctx context.Context, ev fillEvent, logger *slog.Logger) {
	r.mu.Lock()
	st := r.state[ev.account]
	if _, dup := st.processedFills[ev.orderLinkID]; dup {
		r.mu.Unlock()
		return
	}
	st.processedFills[ev.orderLinkID] = struct{}{}
	tier, linked := st.linkToTier[ev.orderLinkID]
	r.mu.Unlock()

	if !linked {
		logger.Warn("fill event for unknown orderLinkId",
			"account", ev.account, "orderLinkId", ev.orderLinkID)
		return
	}

	prot := r.instr.Protections[tier-1]
	env, err := r.clients[ev.account].SetTradingStop(ctx, r.instr.Symbol,
		prot.TakeProfit.String(), prot.StopLoss.String())
	if err != nil {
		logger.Warn("set trading stop failed",
			"account", ev.account, "tier", tier, "error", err)
		return
	}

	switch env.RetCode {
	case 0:
		logger.Info("tier filled, protection attached",
			"account", ev.account, "tier", tier,
			"tp", prot.TakeProfit, "sl", prot.StopLoss)
	case exchange.RetCodeTPSLNotModified:
		logger.Info("protection already correct",
			"account", ev.account, "tier", tier)
	default:
		// Rejection: the tier is not marked filled and cannot arm the
		// monitor on its own. The client already logged the response.
		return
	}

	r.mu.Lock()
	st.filledTiers = append(st.filledTiers, tier)
	st.positionArmed = true
	startMonitor := !st.monitorLive
	if startMonitor {
		st.monitorLive = true
	}
	r.mu.Unlock()

	if startMonitor {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.positionMonitor(ctx, ev.account)
		}()
	}
}
