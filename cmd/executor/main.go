// Bybit trade executor: places a three-tier laddered limit entry on every
// configured account, attaches per-tier TP/SL as tiers fill, and manages the
// resulting positions until close, timeout, or user cancel.
//
// Architecture:
//
//	main.go               — entry point: config, logger, trigger flags, summary output
//	tiercalc/calc.go      — converts the raw two-price trigger into the tier ladder
//	engine/run.go         — the per-instruction Run: placement, supervision, teardown
//	engine/detector.go    — fill detection: open-order polling + history fallback
//	engine/tpsl.go        — attaches TP/SL to filled tiers, arms position monitors
//	engine/monitor.go     — per-account position lifecycle, cancels leftovers on close
//	exchange/client.go    — signed Bybit v5 REST client, one per account per Run
//	exchange/pacer.go     — per-account 1 req/s spacing owned by the Run
//	clock/clock.go        — NTP/venue time anchor for request signing
//
// Typing "cancel" on stdin flattens everything: outstanding orders are
// cancelled and open positions are market-closed reduce-only.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"bybit-executor/internal/config"
	"bybit-executor/internal/engine"
	"bybit-executor/internal/tiercalc"
	"bybit-executor/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	id := flag.Int("id", 0, "trigger identifier")
	priceA := flag.String("price-a", "", "first trigger price")
	priceB := flag.String("price-b", "", "second trigger price")
	symbol := flag.String("symbol", "", "perpetual symbol, e.g. BTCUSDT")
	kind := flag.String("kind", "tcl1", "trigger kind")
	flag.Parse()

	if p := os.Getenv("EXEC_CONFIG"); p != "" && *cfgPath == "configs/config.yaml" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	sig, err := parseSignal(*id, *priceA, *priceB, *symbol, *kind)
	if err != nil {
		logger.Error("invalid trigger", "error", err)
		os.Exit(1)
	}

	instr, err := tiercalc.Build(sig, calculatorParams(cfg))
	if err != nil {
		logger.Error("tier calculation failed", "error", err)
		os.Exit(1)
	}
	logger.Info("instruction built",
		"symbol", instr.Symbol, "side", instr.Side, "leverage", instr.Leverage,
		"demo", cfg.Demo, "accounts", len(cfg.Accounts))

	cancel := engine.NewCancelHandle()
	go engine.ListenLines(os.Stdin, cancel, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := engine.Execute(ctx, instr, cfg.Credentials(), cancel, engine.Config{
		Demo:    cfg.Demo,
		MaxWait: time.Duration(cfg.MaxWaitSeconds) * time.Second,
	}, logger)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	printSummary(summary)
}

func parseSignal(id int, priceA, priceB, symbol, kind string) (types.Signal, error) {
	a, err := decimal.NewFromString(priceA)
	if err != nil {
		return types.Signal{}, fmt.Errorf("price-a: %w", err)
	}
	b, err := decimal.NewFromString(priceB)
	if err != nil {
		return types.Signal{}, fmt.Errorf("price-b: %w", err)
	}
	if symbol == "" {
		return types.Signal{}, fmt.Errorf("symbol is required")
	}
	return types.Signal{Identifier: id, PriceA: a, PriceB: b, Symbol: symbol, Kind: kind}, nil
}

func calculatorParams(cfg *config.Config) tiercalc.Params {
	params := tiercalc.DefaultParams()
	if cfg.Calculator.AccountSize > 0 {
		params.AccountSize = decimal.NewFromFloat(cfg.Calculator.AccountSize)
	}
	if len(cfg.Calculator.RiskFractions) == types.NumTiers {
		for i, f := range cfg.Calculator.RiskFractions {
			params.RiskFractions[i] = decimal.NewFromFloat(f)
		}
	}
	return params
}

func printSummary(summary types.Summary) {
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Account", "Filled", "Canceled", "Timeout", "User Cancel", "Done")
	for _, name := range names {
		acct := summary[name]
		table.Append(
			name,
			fmt.Sprintf("%v", acct.Filled),
			fmt.Sprintf("%d", len(acct.Canceled)),
			fmt.Sprintf("%t", acct.Timeout),
			fmt.Sprintf("%t", acct.UserCancel),
			fmt.Sprintf("%t", acct.Done),
		)
	}
	table.Render()

	if b, err := json.MarshalIndent(summary, "", "  "); err == nil {
		fmt.Println(string(b))
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
