package solomachine

import (
	"context"

	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// attributeVersion is the channel version attribute of channel handshake events.
const attributeVersion = "version"

// Connect drives the handshake with chainID until the transfer channel is
// open. Every confirmed transaction is checkpointed, so a failed call resumes
// where it stopped. With force a finished or partial handshake is abandoned
// and a new one started with a fresh client; the abandoned handshake is kept
// until the new client is created.
func (h *Handler) Connect(ctx context.Context, chainID types.ChainID, requestID string, force bool) (*types.ChainState, error) {
	state, release, err := h.load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()

	if force && state.Connection.SoloMachineClientID != "" {
		h.log.Info("Restarting handshake",
			zap.String("chain_id", chainID.String()),
			zap.String("request_id", requestID),
			zap.Stringer("stage", state.Connection.Stage),
			zap.Uint64("epoch", state.Connection.Epoch+1),
		)
		state = state.Clone()
		state.Connection = state.Connection.Restart()
		state.ICA = nil
	}

	for state.Connection.Stage != types.StageChannelOpen {
		state, err = h.handshakeStep(ctx, state, requestID)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// handshakeStep sends the next transaction of the handshake and returns the
// committed state.
func (h *Handler) handshakeStep(ctx context.Context, state *types.ChainState, requestID string) (*types.ChainState, error) {
	conn := state.Connection
	switch {
	case conn.Stage == types.StageUninitialized:
		return h.createClient(ctx, state, requestID)
	case conn.Stage == types.StageClientCreated && conn.TendermintConnectionID == "":
		return h.connectionOpenInit(ctx, state, requestID)
	case conn.Stage == types.StageClientCreated:
		return h.connectionOpenAck(ctx, state, requestID)
	case conn.Stage == types.StageConnectionOpen && conn.TendermintChannelID == "":
		return h.channelOpenTry(ctx, state, requestID)
	default:
		return h.channelOpenConfirm(ctx, state, requestID)
	}
}

func (h *Handler) createClient(ctx context.Context, state *types.ChainState, requestID string) (*types.ChainState, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op: types.OperationType{Kind: types.OperationCreateClient},
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildCreateClient(ctx, state, requestID)
		},
		apply: func(next *types.ChainState, res *coretypes.ResultTx) error {
			id, err := rpc.RequireAttribute(res.TxResult.Events, clienttypes.EventTypeCreateClient, clienttypes.AttributeKeyClientID)
			if err != nil {
				return err
			}
			if next.Connection.SoloMachineClientID, err = types.NewClientID(id); err != nil {
				return err
			}
			return next.Connection.Advance(types.StageClientCreated)
		},
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Notify(ctx, types.EventClientCreated, state.ID, requestID, c.attributes(map[string]string{
		types.AttributeClientID: c.state.Connection.SoloMachineClientID.String(),
	}))
	return c.state, nil
}

func (h *Handler) connectionOpenInit(ctx context.Context, state *types.ChainState, requestID string) (*types.ChainState, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op: types.OperationType{Kind: types.OperationConnectionOpenInit},
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildConnectionOpenInit(ctx, state, requestID)
		},
		apply: func(next *types.ChainState, res *coretypes.ResultTx) error {
			id, err := rpc.RequireAttribute(res.TxResult.Events, conntypes.EventTypeConnectionOpenInit, conntypes.AttributeKeyConnectionID)
			if err != nil {
				return err
			}
			next.Connection.TendermintConnectionID, err = types.NewConnectionID(id)
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Notify(ctx, types.EventConnectionOpenInit, state.ID, requestID, c.attributes(map[string]string{
		types.AttributeClientID:   c.state.Connection.SoloMachineClientID.String(),
		types.AttributeConnection: c.state.Connection.TendermintConnectionID.String(),
	}))
	return c.state, nil
}

func (h *Handler) connectionOpenAck(ctx context.Context, state *types.ChainState, requestID string) (*types.ChainState, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op: types.OperationType{Kind: types.OperationConnectionOpenAck},
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildConnectionOpenAck(ctx, state, requestID)
		},
		apply: func(next *types.ChainState, _ *coretypes.ResultTx) error {
			return next.Connection.Advance(types.StageConnectionOpen)
		},
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Notify(ctx, types.EventConnectionOpened, state.ID, requestID, c.attributes(map[string]string{
		types.AttributeClientID:   c.state.Connection.SoloMachineClientID.String(),
		types.AttributeConnection: c.state.Connection.TendermintConnectionID.String(),
	}))
	return c.state, nil
}

func (h *Handler) channelOpenTry(ctx context.Context, state *types.ChainState, requestID string) (*types.ChainState, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op:   types.OperationType{Kind: types.OperationChannelOpenTry},
		port: state.Config.PortID,
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildChannelOpenTry(ctx, state, requestID)
		},
		apply: func(next *types.ChainState, res *coretypes.ResultTx) error {
			id, err := rpc.RequireAttribute(res.TxResult.Events, chantypes.EventTypeChannelOpenTry, chantypes.AttributeKeyChannelID)
			if err != nil {
				return err
			}
			next.Connection.TendermintChannelID, err = types.NewChannelID(id)
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Notify(ctx, types.EventChannelOpenTry, state.ID, requestID, c.attributes(map[string]string{
		types.AttributePortID:    state.Config.PortID.String(),
		types.AttributeChannelID: c.state.Connection.TendermintChannelID.String(),
	}))
	return c.state, nil
}

func (h *Handler) channelOpenConfirm(ctx context.Context, state *types.ChainState, requestID string) (*types.ChainState, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op:   types.OperationType{Kind: types.OperationChannelOpenConfirm},
		port: state.Config.PortID,
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildChannelOpenConfirm(ctx, state, requestID)
		},
		apply: func(next *types.ChainState, _ *coretypes.ResultTx) error {
			return next.Connection.Advance(types.StageChannelOpen)
		},
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Notify(ctx, types.EventChannelOpened, state.ID, requestID, c.attributes(map[string]string{
		types.AttributePortID:    state.Config.PortID.String(),
		types.AttributeChannelID: c.state.Connection.TendermintChannelID.String(),
	}))
	return c.state, nil
}
