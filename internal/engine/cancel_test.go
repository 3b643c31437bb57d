package engine

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCancelHandleTriggerIdempotent(t *testing.T) {
	t.Parallel()
	h := NewCancelHandle()

	if h.Requested() {
		t.Error("fresh handle reports Requested")
	}

	h.Trigger()
	h.Trigger() // second call must not panic on the closed channel
	if !h.Requested() {
		t.Error("Requested() = false after Trigger")
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done() channel not closed after Trigger")
	}
}

func TestListenLinesTriggersOnCancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"exact", "cancel\n", true},
		{"case and whitespace", "  CaNcEl  \n", true},
		{"after other lines", "status\nhello\ncancel\n", true},
		{"never", "status\nquit\n", false},
		{"empty input", "", false},
		{"substring does not count", "cancellation\n", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewCancelHandle()
			done := make(chan struct{})
			go func() {
				ListenLines(strings.NewReader(tt.input), h, testLogger())
				close(done)
			}()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("ListenLines did not return")
			}
			if h.Requested() != tt.want {
				t.Errorf("Requested() = %t, want %t", h.Requested(), tt.want)
			}
		})
	}
}
