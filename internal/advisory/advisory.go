// Package advisory runs best-effort steps: they are always attempted, their
// failures are logged, counted and published, and never returned to the
// caller of the parent operation.
package advisory

import (
	"context"
	"fmt"
	"log/slog"

	"agentlink/internal/bus"
	"agentlink/internal/metrics"
)

// Runner reports advisory failures to a logger and an optional event bus.
type Runner struct {
	Logger *slog.Logger
	Bus    *bus.EventBus
}

// Run calls fn and reports whether it succeeded. A failure or a panic in fn
// is recorded under op and swallowed. attrs are added to the log record and
// the event payload as key/value pairs.
func (r Runner) Run(ctx context.Context, op string, fn func(context.Context) error, attrs ...any) (ok bool) {
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		err = fn(ctx)
	}()
	if err == nil {
		return true
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("advisory operation failed", append([]any{"op", op, "err", err}, attrs...)...)
	metrics.AdvisoryFailures.WithLabelValues(op).Inc()

	payload := map[string]any{"op": op, "err": err.Error()}
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); ok {
			payload[k] = attrs[i+1]
		}
	}
	r.Bus.Emit(bus.Event{Type: bus.EventAdvisoryFailed, Source: "advisory", Payload: payload})
	return false
}
