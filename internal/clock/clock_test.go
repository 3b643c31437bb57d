package clock

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewFallsBackToLocal(t *testing.T) {
	t.Parallel()

	c := New(context.Background(), Options{
		NTPServers:    []string{},
		VenueTimeURLs: []string{},
	}, testLogger())

	if c.Source() != "local" {
		t.Errorf("Source() = %q, want local", c.Source())
	}
	if c.OffsetMs() != 0 {
		t.Errorf("OffsetMs() = %d, want 0", c.OffsetMs())
	}

	now := time.Now().UnixMilli()
	if got := c.NowMs(); got < now-100 || got > now+100 {
		t.Errorf("NowMs() = %d, far from local %d", got, now)
	}
}

func TestNewAnchorsOnVenueTime(t *testing.T) {
	t.Parallel()

	const skewMS = 30_000
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"time":%d}`, time.Now().UnixMilli()+skewMS)
	}))
	t.Cleanup(srv.Close)

	c := New(context.Background(), Options{
		NTPServers:    []string{},
		VenueTimeURLs: []string{srv.URL},
		Timeout:       2 * time.Second,
	}, testLogger())

	if c.Source() != "venue" {
		t.Fatalf("Source() = %q, want venue", c.Source())
	}
	if off := c.OffsetMs(); off < skewMS-2000 || off > skewMS+2000 {
		t.Errorf("OffsetMs() = %d, want ~%d", off, skewMS)
	}
}

func TestNewSkipsFailingVenueURLs(t *testing.T) {
	t.Parallel()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(bad.Close)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result":{"time":%d}}`, time.Now().UnixMilli())
	}))
	t.Cleanup(good.Close)

	c := New(context.Background(), Options{
		NTPServers:    []string{},
		VenueTimeURLs: []string{bad.URL, good.URL},
		Timeout:       2 * time.Second,
	}, testLogger())

	if c.Source() != "venue" {
		t.Errorf("Source() = %q, want venue", c.Source())
	}
}

func TestFetchVenueTimeShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int64
	}{
		{"v5 milliseconds", `{"time":1700000000123}`, 1700000000123},
		{"v5 seconds scaled", `{"time":1700000000}`, 1700000000000},
		{"legacy time_now", `{"time_now":"1700000000.456"}`, 1700000000456},
		{"nested result", `{"result":{"time":1700000000999}}`, 1700000000999},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			got, err := fetchVenueTimeMS(context.Background(), srv.Client(), srv.URL)
			if err != nil {
				t.Fatalf("fetchVenueTimeMS: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFetchVenueTimeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusInternalServerError, `{}`},
		{"no time field", http.StatusOK, `{"retCode":0}`},
		{"not json", http.StatusOK, `<html></html>`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			if _, err := fetchVenueTimeMS(context.Background(), srv.Client(), srv.URL); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDefaultVenueTimeURLs(t *testing.T) {
	t.Parallel()

	demo := DefaultVenueTimeURLs(true)
	if len(demo) != 4 {
		t.Fatalf("demo len = %d, want 4", len(demo))
	}
	if demo[0] != "https://api-demo.bybit.com/v5/public/time" {
		t.Errorf("demo[0] = %q, demo hosts should come first", demo[0])
	}

	prod := DefaultVenueTimeURLs(false)
	if len(prod) != 2 {
		t.Fatalf("prod len = %d, want 2", len(prod))
	}
	if prod[0] != "https://api.bybit.com/v5/public/time" {
		t.Errorf("prod[0] = %q", prod[0])
	}
}
