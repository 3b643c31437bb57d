// Package clock resolves the trusted wall-clock offset used to stamp signed
// requests for the lifetime of one Run.
//
// Resolution order: an authoritative NTP server (first success from the
// configured list wins), then the venue's public time endpoints, and finally
// a zero offset with a warning: a skewed local clock degrades to whatever
// the receive window tolerates rather than aborting the Run. The offset is
// computed once; NowMs is local monotonic time plus that frozen offset.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/beevik/ntp"
)

// DefaultNTPServers are queried in order; the first response wins.
var DefaultNTPServers = []string{"pool.ntp.org", "time.google.com", "time.cloudflare.com"}

// DefaultVenueTimeURLs returns the venue's public time endpoints, demo hosts
// first when demo routing is active. Both the v5 and legacy v2 shapes are
// still served, so both are tried.
func DefaultVenueTimeURLs(demo bool) []string {
	var urls []string
	if demo {
		urls = append(urls,
			"https://api-demo.bybit.com/v5/public/time",
			"https://api-demo.bybit.com/v2/public/time",
		)
	}
	return append(urls,
		"https://api.bybit.com/v5/public/time",
		"https://api.bybit.com/v2/public/time",
	)
}

// Options configures anchor resolution.
type Options struct {
	NTPServers    []string
	VenueTimeURLs []string
	Timeout       time.Duration // per-source timeout
	RecvWindowMS  int64         // drift above this is surfaced as a warning
}

// Clock is the Run's time anchor.
type Clock struct {
	offset time.Duration
	source string // "ntp", "venue", or "local"
}

// New resolves the offset against the configured sources. It never fails:
// when every source is unreachable the clock runs unanchored (zero offset)
// and the condition is logged.
func New(ctx context.Context, opts Options, logger *slog.Logger) *Clock {
	logger = logger.With("component", "clock")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for _, server := range opts.NTPServers {
		resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
		if err != nil {
			logger.Debug("ntp query failed", "server", server, "error", err)
			continue
		}
		c := &Clock{offset: resp.ClockOffset, source: "ntp"}
		c.logAnchor(logger, server, opts.RecvWindowMS)
		return c
	}

	httpClient := &http.Client{Timeout: timeout}
	for _, u := range opts.VenueTimeURLs {
		serverMS, err := fetchVenueTimeMS(ctx, httpClient, u)
		if err != nil {
			logger.Debug("venue time fetch failed", "url", u, "error", err)
			continue
		}
		offset := time.Duration(serverMS-time.Now().UnixMilli()) * time.Millisecond
		c := &Clock{offset: offset, source: "venue"}
		c.logAnchor(logger, u, opts.RecvWindowMS)
		return c
	}

	logger.Warn("no authoritative time source reachable, signing with local clock")
	return &Clock{source: "local"}
}

func (c *Clock) logAnchor(logger *slog.Logger, source string, recvWindowMS int64) {
	offsetMS := c.offset.Milliseconds()
	logger.Info("time anchor resolved", "source", c.source, "via", source, "offset_ms", offsetMS)
	if recvWindowMS > 0 && (offsetMS > recvWindowMS || offsetMS < -recvWindowMS) {
		logger.Warn("clock offset exceeds receive window",
			"offset_ms", offsetMS, "recv_window_ms", recvWindowMS)
	}
}

// NowMs returns offset-adjusted wall-clock milliseconds.
func (c *Clock) NowMs() int64 {
	return time.Now().Add(c.offset).UnixMilli()
}

// Now returns the offset-adjusted wall-clock time.
func (c *Clock) Now() time.Time {
	return time.Now().Add(c.offset)
}

// OffsetMs returns the resolved offset in milliseconds.
func (c *Clock) OffsetMs() int64 {
	return c.offset.Milliseconds()
}

// Source names the time source the anchor resolved against.
func (c *Clock) Source() string {
	return c.source
}

// venueTimeBody covers the time-endpoint shapes across API generations:
// {"time": ms}, {"time_now": "sec.frac"}, and {"result": {"time": ms}}.
type venueTimeBody struct {
	Time    json.Number `json:"time"`
	TimeNow json.Number `json:"time_now"`
	Result  struct {
		Time json.Number `json:"time"`
	} `json:"result"`
}

func fetchVenueTimeMS(ctx context.Context, client *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body venueTimeBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}

	var serverMS int64
	switch {
	case body.Time != "":
		v, err := body.Time.Int64()
		if err != nil {
			return 0, err
		}
		serverMS = v
	case body.TimeNow != "":
		f, err := body.TimeNow.Float64()
		if err != nil {
			return 0, err
		}
		serverMS = int64(f * 1000)
	case body.Result.Time != "":
		v, err := body.Result.Time.Int64()
		if err != nil {
			return 0, err
		}
		serverMS = v
	default:
		return 0, fmt.Errorf("no time field in response")
	}

	// Values below 10^12 are seconds, not milliseconds.
	if serverMS < 1_000_000_000_000 {
		serverMS *= 1000
	}
	return serverMS, nil
}
