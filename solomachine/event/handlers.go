package event

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

var (
	_ provider.EventHandler = (*LogHandler)(nil)
	_ provider.EventHandler = Multi(nil)
	_ provider.EventHandler = Nop{}
)

// LogHandler writes every event to a zap logger.
type LogHandler struct {
	log *zap.Logger
}

func NewLogHandler(log *zap.Logger) *LogHandler {
	return &LogHandler{log: log}
}

func (h *LogHandler) HandleEvent(_ context.Context, ev types.Event) error {
	fields := make([]zap.Field, 0, len(ev.Attributes)+3)
	fields = append(fields,
		zap.String("chain_id", ev.ChainID.String()),
		zap.Time("time", ev.Time),
	)
	if ev.RequestID != "" {
		fields = append(fields, zap.String("request_id", ev.RequestID))
	}
	for k, v := range ev.Attributes {
		fields = append(fields, zap.String(k, v))
	}

	if ev.Type == types.EventTransactionRejected {
		h.log.Warn(string(ev.Type), fields...)
		return nil
	}
	h.log.Info(string(ev.Type), fields...)
	return nil
}

// Multi fans an event out to several handlers. Every handler sees the event;
// their errors are combined.
type Multi []provider.EventHandler

func (m Multi) HandleEvent(ctx context.Context, ev types.Event) error {
	var errs error
	for _, h := range m {
		errs = multierr.Append(errs, h.HandleEvent(ctx, ev))
	}
	return errs
}

// Nop drops every event.
type Nop struct{}

func (Nop) HandleEvent(context.Context, types.Event) error { return nil }
