// Package exchange implements the Bybit v5 REST client used by the executor.
//
// One Client exists per account per Run. Every method waits on the Run's
// per-account Pacer before touching the wire, stamps the request with the
// Run's anchored clock, and signs it with the account's HMAC key:
//
//   - PlaceOrder:     POST /v5/order/create
//   - CancelOrder:    POST /v5/order/cancel
//   - SetTradingStop: POST /v5/position/trading-stop
//   - SetLeverage:    POST /v5/position/set-leverage
//   - OpenOrders:     GET  /v5/order/realtime
//   - OrderHistory:   GET  /v5/order/history
//   - Positions:      GET  /v5/position/list
//
// POST bodies are marshalled once and the same bytes are signed and sent;
// GET requests sign the raw query string. Venue rejections (retCode != 0)
// are not Go errors: callers inspect the returned envelope. Only transport
// failures and non-JSON responses surface as errors.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"bybit-executor/pkg/types"
)

// Venue hosts. Demo trading uses a separate credential universe but the
// identical protocol.
const (
	DemoHost       = "https://api-demo.bybit.com"
	ProductionHost = "https://api.bybit.com"
)

// RetCodeTPSLNotModified is Bybit's "not modified" rejection for
// trading-stop. Re-applying an already-correct TP/SL is benign, so the
// engine treats it as success.
const RetCodeTPSLNotModified = 34040

// Clock supplies offset-adjusted wall-clock milliseconds for signing.
type Clock interface {
	NowMs() int64
}

// Envelope is the Bybit v5 response wrapper.
type Envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// OK reports plain success (retCode 0).
func (e *Envelope) OK() bool {
	return e.RetCode == 0
}

// HTTPError wraps a response the venue returned outside its JSON envelope.
type HTTPError struct {
	Status int
	Text   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("non-JSON venue response: http_status=%d text=%q", e.Status, e.Text)
}

// Client is the signed REST client for a single account.
type Client struct {
	http    *resty.Client
	auth    *Auth
	account string
	clock   Clock
	pacer   *Pacer
	logger  *slog.Logger
}

// NewClient creates a client for one account against the given base host.
func NewClient(baseURL string, creds types.Credentials, clk Clock, pacer *Pacer, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		auth:    NewAuth(creds.APIKey, creds.APISecret, DefaultRecvWindowMS),
		account: creds.Name,
		clock:   clk,
		pacer:   pacer,
		logger:  logger.With("component", "exchange", "account", creds.Name),
	}
}

// Account returns the account name this client signs for.
func (c *Client) Account() string {
	return c.account
}

// Close releases the client's idle HTTP connections.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// PlaceOrderRequest is the /v5/order/create body.
type PlaceOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce"`
	OrderLinkID string `json:"orderLinkId"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

// PlaceOrder submits an order. The caller checks the envelope's retCode.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Envelope, error) {
	env, err := c.signedPost(ctx, "/v5/order/create", req)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		c.logger.Warn("place order rejected",
			"op", "place_order", "orderLinkId", req.OrderLinkID,
			"retCode", env.RetCode, "retMsg", env.RetMsg)
	}
	return env, nil
}

// CancelOrder cancels a resting order by its ClientOrderId.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderLinkID string) (*Envelope, error) {
	body := map[string]string{
		"category":    "linear",
		"symbol":      symbol,
		"orderLinkId": orderLinkID,
	}
	env, err := c.signedPost(ctx, "/v5/order/cancel", body)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		c.logger.Warn("cancel order rejected",
			"op", "cancel_order", "orderLinkId", orderLinkID,
			"retCode", env.RetCode, "retMsg", env.RetMsg)
	}
	return env, nil
}

// SetTradingStop attaches TP/SL to the symbol's position (positionIdx 0,
// one-way mode). retCode 34040 means the stop is already correct; callers
// treat it as success, so it is not logged as a rejection here.
func (c *Client) SetTradingStop(ctx context.Context, symbol, takeProfit, stopLoss string) (*Envelope, error) {
	body := map[string]any{
		"category":    "linear",
		"symbol":      symbol,
		"takeProfit":  takeProfit,
		"stopLoss":    stopLoss,
		"positionIdx": 0,
	}
	env, err := c.signedPost(ctx, "/v5/position/trading-stop", body)
	if err != nil {
		return nil, err
	}
	if !env.OK() && env.RetCode != RetCodeTPSLNotModified {
		c.logger.Warn("set trading stop rejected",
			"op", "set_trading_stop", "symbol", symbol,
			"retCode", env.RetCode, "retMsg", env.RetMsg)
	}
	return env, nil
}

// SetLeverage sets buy and sell leverage to the same value.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (*Envelope, error) {
	lev := fmt.Sprintf("%d", leverage)
	body := map[string]string{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	env, err := c.signedPost(ctx, "/v5/position/set-leverage", body)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		c.logger.Warn("set leverage rejected",
			"op", "set_leverage", "symbol", symbol,
			"retCode", env.RetCode, "retMsg", env.RetMsg)
	}
	return env, nil
}

// OpenOrders fetches the live order list for the symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	body, err := c.signedGet(ctx, "/v5/order/realtime", q)
	if err != nil {
		return nil, err
	}
	raw, err := extractList(body)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	return decodeOrders(raw), nil
}

// OrderHistory looks up the history records for one specific ClientOrderId.
func (c *Client) OrderHistory(ctx context.Context, symbol, orderLinkID string) ([]OrderRecord, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("orderLinkId", orderLinkID)
	q.Set("limit", "20")

	body, err := c.signedGet(ctx, "/v5/order/history", q)
	if err != nil {
		return nil, err
	}
	raw, err := extractList(body)
	if err != nil {
		return nil, fmt.Errorf("order history: %w", err)
	}
	return decodeOrders(raw), nil
}

// Positions fetches the symbol's position list.
func (c *Client) Positions(ctx context.Context, symbol string) ([]PositionRecord, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	body, err := c.signedGet(ctx, "/v5/position/list", q)
	if err != nil {
		return nil, err
	}
	raw, err := extractList(body)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	positions := make([]PositionRecord, 0, len(raw))
	for _, r := range raw {
		var rec PositionRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			continue
		}
		positions = append(positions, rec)
	}
	return positions, nil
}

// signedPost marshals the body once, signs those exact bytes, and sends them.
func (c *Client) signedPost(ctx context.Context, path string, body any) (*Envelope, error) {
	if err := c.pacer.Wait(ctx, c.account); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", path, err)
	}

	headers := c.auth.Headers(c.clock.NowMs(), string(payload))
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}

	var env Envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &HTTPError{Status: resp.StatusCode(), Text: resp.String()}
	}
	return &env, nil
}

// signedGet signs the encoded query string and returns the raw response body
// for shape-tolerant decoding. A non-zero retCode on an enveloped response is
// surfaced as an error so polling loops can log and retry.
func (c *Client) signedGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.pacer.Wait(ctx, c.account); err != nil {
		return nil, err
	}

	qs := query.Encode()
	headers := c.auth.Headers(c.clock.NowMs(), qs)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(path + "?" + qs)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, &HTTPError{Status: resp.StatusCode(), Text: resp.String()}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.RetCode != 0 {
		return nil, fmt.Errorf("get %s: retCode %d: %s", path, env.RetCode, env.RetMsg)
	}
	return body, nil
}
