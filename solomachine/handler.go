// Package solomachine drives the IBC handshake and the packet operations of a
// solo machine against the chains it is connected to.
package solomachine

import (
	"context"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cosmos/solo-machine/solomachine/broadcast"
	"github.com/cosmos/solo-machine/solomachine/event"
	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// Handler runs solo machine operations. Every transaction it sends is built
// from the committed chain state, broadcast, and committed together with its
// operation log entry once the chain includes it. Operations on one chain are
// serialized; different chains proceed independently.
type Handler struct {
	ctx      provider.Context
	cdc      wire.Codec
	builder  *txbuilder.Builder
	bc       *broadcast.Broadcaster
	notifier *event.Notifier
	log      *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[types.ChainID]*semaphore.Weighted
}

type options struct {
	log  *zap.Logger
	now  func() time.Time
	memo string
}

type Option func(*options)

// WithLogger sets the logger of the handler and of the components it builds.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock replaces time.Now for records and proof timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMemo sets the memo of every transaction sent.
func WithMemo(memo string) Option {
	return func(o *options) { o.memo = memo }
}

func NewHandler(pctx provider.Context, opts ...Option) (*Handler, error) {
	if err := pctx.Validate(); err != nil {
		return nil, err
	}

	o := options{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	cdc := wire.MakeCodec()
	return &Handler{
		ctx: pctx,
		cdc: cdc,
		builder: txbuilder.New(pctx.Signer, pctx.RPC, cdc,
			txbuilder.WithLogger(o.log),
			txbuilder.WithClock(o.now),
			txbuilder.WithMemo(o.memo),
		),
		bc:       broadcast.New(o.log),
		notifier: event.NewNotifier(o.log, pctx.Events),
		log:      o.log,
		now:      o.now,
		locks:    make(map[types.ChainID]*semaphore.Weighted),
	}, nil
}

// lock waits until no other operation runs on chainID.
func (h *Handler) lock(ctx context.Context, chainID types.ChainID) (func(), error) {
	h.mu.Lock()
	sem, ok := h.locks[chainID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		h.locks[chainID] = sem
	}
	h.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, types.WrapKind(types.ErrPrecondition, err, "waiting for the operation in flight on %s", chainID)
	}
	return func() { sem.Release(1) }, nil
}

// load locks chainID and reads its committed state.
func (h *Handler) load(ctx context.Context, chainID types.ChainID) (*types.ChainState, func(), error) {
	release, err := h.lock(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	state, err := h.ctx.Storage.GetChainState(ctx, chainID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return state, release, nil
}

func (h *Handler) rpcClientFor(cfg types.ChainConfig) *rpc.Client {
	return rpc.ForChain(h.ctx.RPC, cfg)
}

func (h *Handler) rpcClient(state *types.ChainState) *rpc.Client {
	return h.rpcClientFor(state.Config)
}

// step is one transaction of an operation.
type step struct {
	op   types.OperationType
	port types.PortID
	// build signs the transaction against the committed state.
	build func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error)
	// apply copies chain assigned values from the included transaction into
	// the draft state before it is committed.
	apply func(next *types.ChainState, res *coretypes.ResultTx) error
	// keys are appended to the chain key history in the same commit.
	keys []*types.ChainKey
}

// confirmed is the outcome of a committed step.
type confirmed struct {
	state *types.ChainState
	res   *coretypes.ResultTx
	op    *types.Operation
}

// attributes are the event attributes every transaction event carries.
func (c *confirmed) attributes(extra map[string]string) map[string]string {
	attrs := map[string]string{
		types.AttributeTxHash:      c.op.TransactionHash,
		types.AttributeOperationID: strconv.FormatUint(c.op.ID, 10),
		types.AttributeGasUsed:     strconv.FormatInt(c.res.TxResult.GasUsed, 10),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return attrs
}

// execute runs s against state. Nothing is persisted unless the chain
// includes the transaction, in which case the draft state, the operation and
// the step's keys are committed in one storage transaction.
func (h *Handler) execute(ctx context.Context, state *types.ChainState, requestID string, s step) (*confirmed, error) {
	log := h.log.With(
		zap.String("chain_id", state.ID.String()),
		zap.String("request_id", requestID),
		zap.String("operation", string(s.op.Kind)),
		zap.Stringer("stage", state.Connection.Stage),
	)

	tx, err := s.build(ctx, state)
	if err != nil {
		log.Debug("Failed to build transaction", zap.Error(err))
		return nil, err
	}
	txHash := tx.Hash()
	log = log.With(zap.String("tx_hash", txHash))

	res, err := h.bc.Broadcast(ctx, h.rpcClient(state), state.Config, tx.TxBytes)
	if err != nil {
		log.Info("Transaction not committed", zap.Error(err))
		h.notifier.Notify(ctx, types.EventTransactionRejected, state.ID, requestID, map[string]string{
			types.AttributeTxHash:    txHash,
			types.AttributeOperation: string(s.op.Kind),
			types.AttributeError:     err.Error(),
		})
		return nil, err
	}

	// The sequences the transaction consumed are committed even when its
	// result cannot be applied, so later proofs stay in step with the chain.
	next := tx.NextState
	var applyErr error
	if s.apply != nil {
		applied := next.Clone()
		if applyErr = s.apply(applied, res); applyErr == nil {
			next = applied
		} else {
			log.Error("Transaction included but its result cannot be applied", zap.Error(applyErr))
		}
	}

	now := h.now()
	next.UpdatedAt = now
	op := &types.Operation{
		ChainID:         state.ID,
		PortID:          s.port,
		Type:            s.op,
		TransactionHash: txHash,
		RequestID:       requestID,
		CreatedAt:       now,
	}

	points := []provider.AccessPoint{provider.AccessChainStates, provider.AccessOperations}
	if len(s.keys) > 0 {
		points = provider.AllAccessPoints
	}
	// The chain already executed the transaction; a cancelled caller must
	// not keep it from being recorded.
	commitCtx := context.WithoutCancel(ctx)
	err = provider.Update(commitCtx, h.ctx.Storage, points, func(stx provider.Transaction) error {
		if err := stx.UpdateChainState(commitCtx, next); err != nil {
			return err
		}
		for _, key := range s.keys {
			key.CreatedAt = now
			if err := stx.AddChainKey(commitCtx, key); err != nil {
				return err
			}
		}
		return stx.AddOperation(commitCtx, op)
	})
	if err != nil {
		log.Error("Transaction included but the chain state was not saved", zap.Error(err))
		return nil, err
	}

	log.Info("Transaction committed",
		zap.Int64("height", res.Height),
		zap.Uint64("sequence", next.Sequence),
		zap.Uint64("operation_id", op.ID),
	)
	if applyErr != nil {
		return nil, applyErr
	}
	return &confirmed{state: next, res: res, op: op}, nil
}

// acknowledgement decodes the acknowledgement the chain wrote for a packet
// received in res.
func (h *Handler) acknowledgement(res *coretypes.ResultTx) (chantypes.Acknowledgement, error) {
	var ack chantypes.Acknowledgement
	ackHex, err := rpc.RequireAttribute(res.TxResult.Events, chantypes.EventTypeWriteAck, chantypes.AttributeKeyAckHex)
	if err != nil {
		return ack, err
	}
	bz, err := hex.DecodeString(ackHex)
	if err != nil {
		return ack, types.WrapKind(types.ErrSerialization, err, "decoding acknowledgement")
	}
	if err := h.cdc.Marshaler.UnmarshalJSON(bz, &ack); err != nil {
		return ack, types.WrapKind(types.ErrSerialization, err, "decoding acknowledgement")
	}
	return ack, nil
}
