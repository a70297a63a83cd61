package event

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// Notifier hands events to an EventHandler. Handler failures are logged and
// never reach the caller.
type Notifier struct {
	log     *zap.Logger
	handler provider.EventHandler
	now     func() time.Time
}

func NewNotifier(log *zap.Logger, handler provider.EventHandler) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{log: log, handler: handler, now: time.Now}
}

// Notify builds an event and delivers it.
func (n *Notifier) Notify(ctx context.Context, typ types.EventType, chainID types.ChainID, requestID string, attrs map[string]string) {
	n.Emit(ctx, types.NewEvent(typ, chainID, requestID, n.now(), attrs))
}

// Emit delivers ev to the handler.
func (n *Notifier) Emit(ctx context.Context, ev types.Event) {
	if n.handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			n.log.Error("Event handler panicked",
				zap.String("event", string(ev.Type)),
				zap.String("chain_id", ev.ChainID.String()),
				zap.Any("panic", r),
			)
		}
	}()

	if err := n.handler.HandleEvent(ctx, ev); err != nil {
		n.log.Warn("Event handler failed",
			zap.String("event", string(ev.Type)),
			zap.String("chain_id", ev.ChainID.String()),
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
	}
}
