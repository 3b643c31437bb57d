package engine

import (
	"context"
	"log/slog"
)

// fillDetector is the shared polling loop that decides which pending orders
// have reached a terminal-fill state.
//
// Two-stage probe per account: the open-order list is scanned first, and any
// pending id absent from it is looked up in order history. Some venue paths
// drop a fully-filled order from the open view before history has
// propagated; the second stage closes that race while staying cheap in the
// common case. Accounts with nothing pending are skipped entirely.
func (r *Run) fillDetector(ctx context.Context) {
	logger := r.logger.With("component", "detector")

	// Detector-local dedup for the open-order branch. The history branch is
	// not deduped here; the TP/SL worker absorbs duplicate events.
	seen := make(map[string]map[string]struct{}, len(r.accounts))
	for _, creds := range r.accounts {
		seen[creds.Name] = make(map[string]struct{})
	}

	for !r.stopped() && ctx.Err() == nil {
		for _, creds := range r.accounts {
			if r.stopped() || ctx.Err() != nil {
				return
			}
			name := creds.Name

			r.mu.Lock()
			pendingCount := len(r.state[name].pending)
			r.mu.Unlock()
			if pendingCount == 0 {
				continue
			}

			r.scanAccount(ctx, name, seen[name], logger)
		}

		if !r.sleepSliced(ctx, r.cfg.PollInterval) {
			return
		}
	}
}

func (r *Run) scanAccount(ctx context.Context, name string, processed map[string]struct{}, logger *slog.Logger) {
	client := r.clients[name]

	orders, err := client.OpenOrders(ctx, r.instr.Symbol)
	if err != nil {
		// Transient: treat as an empty view and let the history fallback
		// carry this pass.
		logger.Warn("open-order poll failed", "account", name, "error", err)
		orders = nil
	}

	inView := make(map[string]struct{}, len(orders))
	for _, ord := range orders {
		if ord.OrderLinkID == "" {
			continue
		}
		inView[ord.OrderLinkID] = struct{}{}

		r.mu.Lock()
		_, linked := r.state[name].linkToTier[ord.OrderLinkID]
		r.mu.Unlock()
		if !linked || !ord.TerminalFilled() {
			continue
		}
		if _, dup := processed[ord.OrderLinkID]; dup {
			continue
		}
		processed[ord.OrderLinkID] = struct{}{}

		r.mu.Lock()
		delete(r.state[name].pending, ord.OrderLinkID)
		r.mu.Unlock()

		r.emitFill(name, ord.OrderLinkID)
		logger.Info("fill detected",
			"account", name, "orderLinkId", ord.OrderLinkID, "status", ord.StatusValue())
	}

	// Escalate for pending ids that vanished from the open view.
	r.mu.Lock()
	var missing []string
	for id := range r.state[name].pending {
		if _, ok := inView[id]; !ok {
			missing = append(missing, id)
		}
	}
	r.mu.Unlock()

	for _, id := range missing {
		if r.stopped() || ctx.Err() != nil {
			return
		}
		records, err := client.OrderHistory(ctx, r.instr.Symbol, id)
		if err != nil {
			logger.Warn("history lookup failed", "account", name, "orderLinkId", id, "error", err)
			continue
		}
		for _, rec := range records {
			if !rec.TerminalFilled() {
				continue
			}
			r.mu.Lock()
			delete(r.state[name].pending, id)
			r.mu.Unlock()

			r.emitFill(name, id)
			logger.Info("fill recovered from history",
				"account", name, "orderLinkId", id, "status", rec.StatusValue())
			break
		}
	}
}

// emitFill hands a fill to the TP/SL worker, giving up if stop fires while
// the channel is full.
func (r *Run) emitFill(account, orderLinkID string) {
	select {
	case r.fills <- fillEvent{account: account, orderLinkID: orderLinkID}:
	case <-r.stop:
	}
}
