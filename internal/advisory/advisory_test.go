package advisory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"agentlink/internal/bus"
	"agentlink/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRun_Success(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	r := Runner{Logger: testLogger(), Bus: eb}

	called := false
	if !r.Run(context.Background(), "noop", func(context.Context) error { called = true; return nil }) {
		t.Fatal("expected success")
	}
	if !called || eb.HistoryLen() != 0 {
		t.Fatalf("called=%v events=%d", called, eb.HistoryLen())
	}
}

func TestRun_FailureIsRecorded(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	r := Runner{Logger: testLogger(), Bus: eb}
	before := testutil.ToFloat64(metrics.AdvisoryFailures.WithLabelValues("mirror_test"))

	ok := r.Run(context.Background(), "mirror_test", func(context.Context) error {
		return errors.New("topic unavailable")
	}, "topic", "0.0.9")
	if ok {
		t.Fatal("expected failure to be reported")
	}

	if got := testutil.ToFloat64(metrics.AdvisoryFailures.WithLabelValues("mirror_test")) - before; got != 1 {
		t.Fatalf("expected counter +1, got %v", got)
	}
	events := eb.Replay(bus.EventAdvisoryFailed, time.Time{})
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].String("op") != "mirror_test" || events[0].String("topic") != "0.0.9" || events[0].String("err") != "topic unavailable" {
		t.Fatalf("unexpected payload %+v", events[0].Payload)
	}
}

func TestRun_PanicIsSwallowed(t *testing.T) {
	r := Runner{Logger: testLogger()}
	if r.Run(context.Background(), "panicky", func(context.Context) error { panic("boom") }) {
		t.Fatal("a panic is a failure")
	}
}
