package engine

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// CancelHandle is the cancellation capability handed into a Run. It is
// deployment-neutral: interactive runs wire it to stdin via ListenLines,
// services can trigger it from an RPC handler or signal trap. Triggering is
// idempotent and observed by the controller on its next tick.
type CancelHandle struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelHandle creates an untriggered handle.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{ch: make(chan struct{})}
}

// Trigger requests cancellation. Safe to call from any goroutine, any
// number of times.
func (h *CancelHandle) Trigger() {
	h.once.Do(func() { close(h.ch) })
}

// Requested reports whether cancellation has been triggered.
func (h *CancelHandle) Requested() bool {
	select {
	case <-h.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once cancellation is triggered.
func (h *CancelHandle) Done() <-chan struct{} {
	return h.ch
}

// ListenLines is the interactive adapter: it reads r line by line and
// triggers the handle when the literal "cancel" (case-insensitive, trimmed)
// arrives. On EOF it exits silently, leaving the handle untriggered; in
// non-interactive deployments user cancel is simply unreachable.
func ListenLines(r io.Reader, h *CancelHandle, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "cancel") {
			logger.Info("cancel requested by user")
			h.Trigger()
			return
		}
	}
}
