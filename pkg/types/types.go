// Package types defines the shared data model of the trade executor:
// the immutable TradeInstruction (three laddered entry tiers plus matching
// take-profit/stop-loss levels), per-account credentials, and the per-run
// summary returned to the caller.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NumTiers is the number of laddered limit orders placed per account.
// Tier indices run 1..NumTiers throughout the engine.
const NumTiers = 3

// Side is the order direction in Bybit v5 notation.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Tier is one rung of the entry ladder: a quantity resting at a limit price.
type Tier struct {
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal
}

// Protection holds the take-profit and stop-loss attached to a tier once
// that tier fills.
type Protection struct {
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// TradeInstruction is the input document for one Run. It is immutable for
// the Run's lifetime; the engine never mutates or reorders its fields.
type TradeInstruction struct {
	Symbol      string
	Side        Side
	Leverage    int
	Tiers       [NumTiers]Tier
	Protections [NumTiers]Protection
}

// Validate checks structural invariants: known side, leverage >= 1, and
// strictly positive quantities and limit prices on every tier.
func (ti TradeInstruction) Validate() error {
	if ti.Symbol == "" {
		return fmt.Errorf("instruction: symbol is required")
	}
	if !ti.Side.Valid() {
		return fmt.Errorf("instruction: side %q must be Buy or Sell", ti.Side)
	}
	if ti.Leverage < 1 {
		return fmt.Errorf("instruction: leverage %d must be >= 1", ti.Leverage)
	}
	for i, tier := range ti.Tiers {
		if !tier.Qty.IsPositive() {
			return fmt.Errorf("instruction: tier %d qty %s must be > 0", i+1, tier.Qty)
		}
		if !tier.LimitPrice.IsPositive() {
			return fmt.Errorf("instruction: tier %d limit price %s must be > 0", i+1, tier.LimitPrice)
		}
	}
	for i, p := range ti.Protections {
		if p.TakeProfit.IsNegative() || p.StopLoss.IsNegative() {
			return fmt.Errorf("instruction: tier %d protection must be non-negative", i+1)
		}
	}
	return nil
}

// CheckProtectionSides verifies that each tier's TP and SL sit on opposite
// sides of its limit price in the direction implied by Side (TP above / SL
// below for Buy, mirrored for Sell). The upstream calculator is trusted, so
// a violation is advisory: callers log it and proceed without reordering.
func (ti TradeInstruction) CheckProtectionSides() error {
	for i := range ti.Tiers {
		limit := ti.Tiers[i].LimitPrice
		tp := ti.Protections[i].TakeProfit
		sl := ti.Protections[i].StopLoss

		switch ti.Side {
		case SideBuy:
			if tp.LessThanOrEqual(limit) {
				return fmt.Errorf("tier %d: buy TP %s is not above limit %s", i+1, tp, limit)
			}
			if sl.GreaterThan(limit) {
				return fmt.Errorf("tier %d: buy SL %s is not below limit %s", i+1, sl, limit)
			}
		case SideSell:
			if tp.GreaterThanOrEqual(limit) {
				return fmt.Errorf("tier %d: sell TP %s is not below limit %s", i+1, tp, limit)
			}
			if sl.LessThan(limit) {
				return fmt.Errorf("tier %d: sell SL %s is not above limit %s", i+1, sl, limit)
			}
		}
	}
	return nil
}

// Credentials identifies one venue account. Name is the stable identifier
// used in logs, maps, ClientOrderIds, and the final summary.
type Credentials struct {
	Name      string
	APIKey    string
	APISecret string
}

// Signal is the raw five-tuple delivered by the upstream trigger. The tier
// calculator converts it into a TradeInstruction.
type Signal struct {
	Identifier int
	PriceA     decimal.Decimal
	PriceB     decimal.Decimal
	Symbol     string
	Kind       string
}

// AccountSummary is the terminal state of one account after a Run.
// Filled holds tier labels ("Limit1".."Limit3") in fill-observation order;
// Canceled holds ClientOrderIds of orders the engine cancelled.
type AccountSummary struct {
	Filled     []string `json:"filled"`
	Canceled   []string `json:"canceled"`
	Timeout    bool     `json:"timeout"`
	Done       bool     `json:"done"`
	UserCancel bool     `json:"user_cancel"`
}

// Summary maps account name to its terminal state. It is the Run's return
// value; one Summary is produced per Run and never shared across Runs.
type Summary map[string]*AccountSummary
