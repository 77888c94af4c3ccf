package live

import (
	"context"
	"log/slog"

	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

// Sink is a downstream consumer of every published event.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev models.Event) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Write(ctx context.Context, ev models.Event) error { return f.Fn(ctx, ev) }

// RunSink feeds hub events into sink until ctx ends or the hub closes.
// Write errors are counted and logged; the sink keeps its subscription. If
// the hub drops the sink for falling behind it resubscribes, losing the
// events published in between.
func RunSink(ctx context.Context, h *Hub, sink Sink, buffer int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		if h.Closed() {
			return nil
		}
		sub := h.SubscribeBuffered(buffer)
		_ = h.Deliver(ctx, sub, func(ev models.Event) error {
			if err := sink.Write(ctx, ev); err != nil {
				observability.SinkErrors.WithLabelValues(sink.Name()).Inc()
				logger.Error("sink write failed", "sink", sink.Name(), "event", ev.Type, "error", err)
			}
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("sink resubscribing", "sink", sink.Name())
	}
}
