// Package tiercalc converts a raw two-price trigger into the three-tier
// trade instruction the engine executes.
//
// The ladder uses fixed retracement ratios of the A→B swing: entries at
// 0.618 / 0.372 / 0.17, the primary take-profit at the 1.272 extension, and
// the stop 5% of the swing beyond the swing origin. priceA above priceB
// reads as an up-swing (Buy); below as a down-swing (Sell). Tier quantities
// are sized so each tier risks a fixed fraction of the account between its
// entry and the shared stop, and leverage follows the sizing rule
// round(positionSize * 1.1 / accountSize).
package tiercalc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bybit-executor/pkg/types"
)

var (
	entryRatios = [types.NumTiers]decimal.Decimal{
		decimal.NewFromFloat(0.618),
		decimal.NewFromFloat(0.372),
		decimal.NewFromFloat(0.17),
	}

	// Take-profit extension ladders per trigger kind. "tcl1" gives every
	// tier its own extension; any other kind reuses the primary target for
	// tier 2.
	tpLadderTCL1    = [types.NumTiers]decimal.Decimal{decimal.NewFromFloat(1.272), decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.786)}
	tpLadderDefault = [types.NumTiers]decimal.Decimal{decimal.NewFromFloat(1.272), decimal.NewFromFloat(1.272), decimal.NewFromFloat(0.786)}

	slRatio = decimal.NewFromFloat(-0.05)

	leverageHeadroom = decimal.NewFromFloat(1.1)
)

// Params holds the sizing inputs.
type Params struct {
	AccountSize   decimal.Decimal                 // notional account size
	RiskFractions [types.NumTiers]decimal.Decimal // account fraction risked per tier
}

// DefaultParams sizes a 10% total risk budget across the ladder, weighted
// toward the deepest entry.
func DefaultParams() Params {
	return Params{
		AccountSize: decimal.NewFromInt(10000),
		RiskFractions: [types.NumTiers]decimal.Decimal{
			decimal.NewFromFloat(0.04),
			decimal.NewFromFloat(0.03),
			decimal.NewFromFloat(0.03),
		},
	}
}

// Build derives the TradeInstruction for a trigger signal.
func Build(sig types.Signal, p Params) (types.TradeInstruction, error) {
	if !sig.PriceA.IsPositive() || !sig.PriceB.IsPositive() {
		return types.TradeInstruction{}, fmt.Errorf("tiercalc: prices must be > 0, got A=%s B=%s", sig.PriceA, sig.PriceB)
	}
	if sig.PriceA.Equal(sig.PriceB) {
		return types.TradeInstruction{}, fmt.Errorf("tiercalc: prices must differ, got %s", sig.PriceA)
	}
	if sig.Symbol == "" {
		return types.TradeInstruction{}, fmt.Errorf("tiercalc: symbol is required")
	}
	if !p.AccountSize.IsPositive() {
		return types.TradeInstruction{}, fmt.Errorf("tiercalc: account size must be > 0")
	}

	// level projects a swing ratio onto a price. diff is negative in both
	// branches, so the same expression retraces toward priceA for entries
	// and extends past it for targets.
	var side types.Side
	var level func(ratio decimal.Decimal) decimal.Decimal
	if sig.PriceA.GreaterThan(sig.PriceB) {
		side = types.SideBuy
		diff := sig.PriceB.Sub(sig.PriceA)
		level = func(ratio decimal.Decimal) decimal.Decimal {
			return sig.PriceB.Sub(diff.Mul(ratio))
		}
	} else {
		side = types.SideSell
		diff := sig.PriceA.Sub(sig.PriceB)
		level = func(ratio decimal.Decimal) decimal.Decimal {
			return sig.PriceB.Add(diff.Mul(ratio))
		}
	}

	stop := level(slRatio).Round(4)

	ladder := tpLadderDefault
	if sig.Kind == "tcl1" {
		ladder = tpLadderTCL1
	}

	var instr types.TradeInstruction
	instr.Symbol = sig.Symbol
	instr.Side = side

	positionSize := decimal.Zero
	for i := 0; i < types.NumTiers; i++ {
		entry := level(entryRatios[i]).Round(4)
		risk := p.AccountSize.Mul(p.RiskFractions[i])
		distance := entry.Sub(stop).Abs()
		if distance.IsZero() {
			return types.TradeInstruction{}, fmt.Errorf("tiercalc: tier %d entry equals stop (%s)", i+1, entry)
		}
		qty := risk.Div(distance).Round(3)
		if !qty.IsPositive() {
			return types.TradeInstruction{}, fmt.Errorf("tiercalc: tier %d quantity rounds to zero", i+1)
		}

		instr.Tiers[i] = types.Tier{Qty: qty, LimitPrice: entry}
		instr.Protections[i] = types.Protection{
			TakeProfit: level(ladder[i]).Round(4),
			StopLoss:   stop,
		}
		positionSize = positionSize.Add(qty.Mul(entry))
	}

	leverage := positionSize.Mul(leverageHeadroom).Div(p.AccountSize).Round(0).IntPart()
	if leverage < 1 {
		leverage = 1
	}
	instr.Leverage = int(leverage)

	return instr, nil
}
