// Package engine is the per-instruction trading state machine.
//
// One Execute call is one Run. A Run resolves a time anchor, builds a signed
// client per account, places three laddered limit orders per account
// (concurrently across accounts, serially within one), then supervises:
//
//  1. The fill detector polls open orders and reconciles them against each
//     account's pending set, falling back to order history for orders that
//     vanish without a terminal status.
//  2. The TP/SL worker consumes fill events, attaches the tier's protection,
//     and arms the position monitor.
//  3. The position monitor waits for the position to appear, then to close,
//     then cancels the account's still-resting tiers.
//  4. The controller propagates user cancel and the global timeout and
//     detects completion.
//
// Every map and goroutine is owned by the Run value, so Execute is safely
// re-entrant within one process: a new Run observes nothing from the last.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bybit-executor/internal/clock"
	"bybit-executor/internal/exchange"
	"bybit-executor/pkg/types"
)

// Config tunes one Run. Zero values fall back to production defaults; tests
// compress the cadences to run the full lifecycle in milliseconds.
type Config struct {
	Demo    bool          // route to the venue's demo host
	BaseURL string        // overrides host selection entirely (tests)
	MaxWait time.Duration // per-account deadline measured from placement

	PollInterval    time.Duration // fill detector cadence
	MonitorInterval time.Duration // position monitor cadence
	ControlInterval time.Duration // controller cadence
	SliceInterval   time.Duration // sleep slice so stop cancels promptly
	PlacePause      time.Duration // pause between tier placements
	PaceInterval    time.Duration // per-account minimum request spacing
	JoinTimeout     time.Duration // teardown grace for worker goroutines

	NTPServers    []string // time anchor sources; nil uses the defaults
	VenueTimeURLs []string
	SourceTimeout time.Duration // per time-source timeout
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		if c.Demo {
			c.BaseURL = exchange.DemoHost
		} else {
			c.BaseURL = exchange.ProductionHost
		}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Second
	}
	if c.ControlInterval <= 0 {
		c.ControlInterval = time.Second
	}
	if c.SliceInterval <= 0 {
		c.SliceInterval = 100 * time.Millisecond
	}
	if c.PlacePause <= 0 {
		c.PlacePause = time.Second
	}
	if c.PaceInterval <= 0 {
		c.PaceInterval = time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 2 * time.Second
	}
	if c.NTPServers == nil {
		c.NTPServers = clock.DefaultNTPServers
	}
	if c.VenueTimeURLs == nil {
		c.VenueTimeURLs = clock.DefaultVenueTimeURLs(c.Demo)
	}
	return c
}

// fillEvent links a detected fill to its account. Delivery is at-least-once;
// the TP/SL worker enforces at-most-once effect via processedFills.
type fillEvent struct {
	account     string
	orderLinkID string
}

// Run owns every resource of one execution: clients, pacer, clock, account
// state, channels, and worker goroutines.
type Run struct {
	cfg      Config
	instr    types.TradeInstruction
	accounts []types.Credentials
	clock    *clock.Clock
	pacer    *exchange.Pacer
	clients  map[string]*exchange.Client
	logger   *slog.Logger

	mu    sync.Mutex
	state map[string]*accountState

	fills    chan fillEvent
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Execute runs one trade instruction to completion across all accounts and
// returns the per-account summary. The cancel handle may be nil, in which
// case only the timeout can end a run with resting orders.
func Execute(ctx context.Context, instr types.TradeInstruction, accounts []types.Credentials, cancel *CancelHandle, cfg Config, logger *slog.Logger) (types.Summary, error) {
	if err := instr.Validate(); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	if err := instr.CheckProtectionSides(); err != nil {
		// Trusted upstream; surfaced but never reordered or rejected.
		logger.Warn("protection levels inconsistent with side", "error", err)
	}

	cfg = cfg.withDefaults()

	clk := clock.New(ctx, clock.Options{
		NTPServers:    cfg.NTPServers,
		VenueTimeURLs: cfg.VenueTimeURLs,
		Timeout:       cfg.SourceTimeout,
		RecvWindowMS:  exchange.DefaultRecvWindowMS,
	}, logger)

	r := newRun(instr, accounts, clk, cfg, logger)
	defer r.teardown()

	r.placeAll(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fillDetector(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.tpslWorker(ctx)
	}()

	r.controlLoop(ctx, cancel)

	summary := r.summary()
	if b, err := json.Marshal(summary); err == nil {
		r.logger.Info("run complete", "summary", string(b))
	}
	return summary, nil
}

func newRun(instr types.TradeInstruction, accounts []types.Credentials, clk *clock.Clock, cfg Config, logger *slog.Logger) *Run {
	r := &Run{
		cfg:      cfg,
		instr:    instr,
		accounts: accounts,
		clock:    clk,
		pacer:    exchange.NewPacer(cfg.PaceInterval),
		clients:  make(map[string]*exchange.Client, len(accounts)),
		logger:   logger.With("component", "engine"),
		state:    make(map[string]*accountState, len(accounts)),
		fills:    make(chan fillEvent, len(accounts)*types.NumTiers*2),
		stop:     make(chan struct{}),
	}
	for _, creds := range accounts {
		r.clients[creds.Name] = exchange.NewClient(cfg.BaseURL, creds, clk, r.pacer, logger)
		r.state[creds.Name] = newAccountState()
	}
	return r
}

// controlLoop is the top-level supervisor described in the package comment.
// It returns once every account is done or stop fires.
func (r *Run) controlLoop(ctx context.Context, cancel *CancelHandle) {
	logger := r.logger.With("component", "controller")

	for {
		if r.stopped() || ctx.Err() != nil {
			return
		}
		cancelRequested := cancel != nil && cancel.Requested()

		allDone := true
		for _, creds := range r.accounts {
			name := creds.Name

			r.mu.Lock()
			st := r.state[name]
			done := st.done
			expired := !st.placedAt.IsZero() && time.Since(st.placedAt) > r.cfg.MaxWait
			idle := len(st.pending) == 0 && !st.positionArmed
			r.mu.Unlock()

			if done {
				continue
			}

			switch {
			case cancelRequested:
				r.userCancelAccount(ctx, name, logger)
			case expired:
				r.timeoutAccount(ctx, name, logger)
			case idle:
				r.mu.Lock()
				st.done = true
				r.mu.Unlock()
				logger.Info("account complete", "account", name)
			default:
				allDone = false
			}
		}

		if allDone {
			r.signalStop()
			return
		}
		if !r.sleepSliced(ctx, r.cfg.ControlInterval) {
			return
		}
	}
}

// userCancelAccount cancels every placed order, market-closes any open
// position reduce-only, and marks the account terminally cancelled.
func (r *Run) userCancelAccount(ctx context.Context, name string, logger *slog.Logger) {
	logger.Info("user cancel: flattening account", "account", name)
	client := r.clients[name]

	r.mu.Lock()
	toCancel := append([]string(nil), r.state[name].placed...)
	r.mu.Unlock()

	for _, id := range toCancel {
		env, err := client.CancelOrder(ctx, r.instr.Symbol, id)
		if err != nil {
			logger.Warn("cancel failed", "account", name, "orderLinkId", id, "error", err)
			continue
		}
		if !env.OK() {
			// Typically already filled; the position close below covers it.
			continue
		}
		r.mu.Lock()
		r.state[name].recordCancel(id)
		r.mu.Unlock()
	}

	positions, err := client.Positions(ctx, r.instr.Symbol)
	if err != nil {
		logger.Warn("position read failed during cancel", "account", name, "error", err)
	}
	for _, pos := range positions {
		size := pos.SizeDecimal()
		if !size.IsPositive() {
			continue
		}
		req := exchange.PlaceOrderRequest{
			Category:    "linear",
			Symbol:      r.instr.Symbol,
			Side:        string(types.Side(pos.Side).Opposite()),
			OrderType:   "Market",
			Qty:         size.String(),
			TimeInForce: "GTC",
			OrderLinkID: fmt.Sprintf("close_%s_%d", name, r.clock.NowMs()),
			ReduceOnly:  true,
		}
		if _, err := client.PlaceOrder(ctx, req); err != nil {
			logger.Warn("market close failed", "account", name, "error", err)
			continue
		}
		logger.Info("position market-closed", "account", name, "qty", req.Qty, "side", req.Side)
	}

	r.mu.Lock()
	r.state[name].userCancel = true
	r.state[name].done = true
	r.mu.Unlock()
}

// timeoutAccount cancels resting orders only. A filled tier with TP/SL
// attached stays under the position monitor's management; the deadline
// bounds how long unfilled tiers may rest, not the position's life.
func (r *Run) timeoutAccount(ctx context.Context, name string, logger *slog.Logger) {
	logger.Info("deadline reached, cancelling resting orders", "account", name)
	client := r.clients[name]

	r.mu.Lock()
	toCancel := append([]string(nil), r.state[name].placed...)
	r.mu.Unlock()

	for _, id := range toCancel {
		env, err := client.CancelOrder(ctx, r.instr.Symbol, id)
		if err != nil {
			logger.Warn("cancel failed", "account", name, "orderLinkId", id, "error", err)
			continue
		}
		if !env.OK() {
			continue
		}
		r.mu.Lock()
		r.state[name].recordCancel(id)
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.state[name].timeout = true
	r.state[name].done = true
	r.mu.Unlock()
}

// teardown fires stop, joins the Run's goroutines with a grace period, and
// releases the per-account HTTP connection pools.
func (r *Run) teardown() {
	r.signalStop()

	joined := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(r.cfg.JoinTimeout):
		r.logger.Warn("workers did not exit before join deadline")
	}

	for _, client := range r.clients {
		client.Close()
	}
}

func (r *Run) summary() types.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(types.Summary, len(r.state))
	for name, st := range r.state {
		filled := make([]string, len(st.filledTiers))
		for i, tier := range st.filledTiers {
			filled[i] = fmt.Sprintf("Limit%d", tier)
		}
		out[name] = &types.AccountSummary{
			Filled:     filled,
			Canceled:   append([]string(nil), st.canceled...),
			Timeout:    st.timeout,
			Done:       st.done,
			UserCancel: st.userCancel,
		}
	}
	return out
}

func (r *Run) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// sleepSliced sleeps d in SliceInterval slices so stop and context
// cancellation interrupt within one slice. Returns false if interrupted.
func (r *Run) sleepSliced(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if r.stopped() || ctx.Err() != nil {
			return false
		}
		slice := r.cfg.SliceInterval
		if remaining := time.Until(deadline); remaining < slice {
			slice = remaining
		}
		time.Sleep(slice)
	}
	return !r.stopped() && ctx.Err() == nil
}
