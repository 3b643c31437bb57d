package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bybit-executor/internal/exchange"
	"bybit-executor/pkg/types"
)

// newOrderLinkID synthesizes the engine's correlation token for one tier:
// <account>_limit<tier>_<8-hex-random>. It is the only identifier the engine
// trusts; venue-assigned order IDs are never tracked.
func newOrderLinkID(account string, tier int) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_limit%d_%s", account, tier, random)
}

// placeAll runs placement for every account in parallel and joins before
// the detection workers start.
func (r *Run) placeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, creds := range r.accounts {
		wg.Add(1)
		go func(creds types.Credentials) {
			defer wg.Done()
			r.placeAccount(ctx, creds.Name)
		}(creds)
	}
	wg.Wait()
	r.logger.Info("placement phase complete", "accounts", len(r.accounts))
}

// placeAccount sets leverage then submits the three tiers in order. A failed
// tier is logged and skipped; the remaining tiers are still attempted, so
// placed stays a prefix of the tier order that succeeded.
func (r *Run) placeAccount(ctx context.Context, name string) {
	logger := r.logger.With("component", "placement", "account", name)
	client := r.clients[name]

	if env, err := client.SetLeverage(ctx, r.instr.Symbol, r.instr.Leverage); err != nil {
		logger.Warn("set leverage failed", "error", err)
	} else if !env.OK() {
		logger.Warn("set leverage rejected", "retCode", env.RetCode, "retMsg", env.RetMsg)
	}

	// The deadline is a local duration, so the timeout origin uses the local
	// monotonic clock. The anchored clock is for request signing only.
	r.mu.Lock()
	r.state[name].placedAt = time.Now()
	r.mu.Unlock()

	for tier := 1; tier <= types.NumTiers; tier++ {
		if r.stopped() || ctx.Err() != nil {
			return
		}

		linkID := newOrderLinkID(name, tier)
		t := r.instr.Tiers[tier-1]
		req := exchange.PlaceOrderRequest{
			Category:    "linear",
			Symbol:      r.instr.Symbol,
			Side:        string(r.instr.Side),
			OrderType:   "Limit",
			Qty:         t.Qty.String(),
			Price:       t.LimitPrice.String(),
			TimeInForce: "GTC",
			OrderLinkID: linkID,
		}

		env, err := client.PlaceOrder(ctx, req)
		switch {
		case err != nil:
			logger.Warn("tier placement failed", "tier", tier, "error", err)
		case env.OK():
			r.mu.Lock()
			st := r.state[name]
			st.placed = append(st.placed, linkID)
			st.linkToTier[linkID] = tier
			st.pending[linkID] = struct{}{}
			r.mu.Unlock()
			logger.Info("tier placed",
				"tier", tier, "orderLinkId", linkID,
				"price", t.LimitPrice, "qty", t.Qty)
		}
		// Rejections were already logged by the client; the tier is simply
		// absent from placed.

		// Explicit inter-tier pause on top of the pacer to keep placement
		// from interleaving with the detection traffic of other accounts.
		r.sleepSliced(ctx, r.cfg.PlacePause)
	}
}
