package solomachine

import (
	"context"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"

	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// OpenICAChannel opens an interchain account channel controlled by owner over
// the connection with chainID and returns the channel with the account
// address the chain assigned. A channel left half open by a failed call is
// confirmed without a new try.
func (h *Handler) OpenICAChannel(ctx context.Context, chainID types.ChainID, owner, requestID string) (*types.ICAChannel, error) {
	state, release, err := h.load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()

	owner = strings.TrimSpace(owner)
	switch ica := state.ICA; {
	case ica == nil || ica.TendermintChannelID == "":
		if state, err = h.icaChannelOpenTry(ctx, state, owner, requestID); err != nil {
			return nil, err
		}
	case ica.Owner != owner:
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "interchain account channel %s belongs to %s", ica.TendermintChannelID, ica.Owner)
	case ica.Open:
		return ica, nil
	}

	if state, err = h.icaChannelOpenConfirm(ctx, state, requestID); err != nil {
		return nil, err
	}
	return state.ICA, nil
}

func (h *Handler) icaChannelOpenTry(ctx context.Context, state *types.ChainState, owner, requestID string) (*types.ChainState, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op: types.OperationType{Kind: types.OperationICAChannelOpenTry},
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildICAChannelOpenTry(ctx, state, owner, requestID)
		},
		apply: func(next *types.ChainState, res *coretypes.ResultTx) error {
			events := res.TxResult.Events
			id, err := rpc.RequireAttribute(events, chantypes.EventTypeChannelOpenTry, chantypes.AttributeKeyChannelID)
			if err != nil {
				return err
			}
			if next.ICA.TendermintChannelID, err = types.NewChannelID(id); err != nil {
				return err
			}
			if next.ICA.Version, err = rpc.RequireAttribute(events, chantypes.EventTypeChannelOpenTry, attributeVersion); err != nil {
				return err
			}
			metadata, err := txbuilder.ParseICAVersion(next.ICA.Version)
			if err != nil {
				return err
			}
			next.ICA.Address = metadata.Address
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Notify(ctx, types.EventChannelOpenTry, state.ID, requestID, c.attributes(map[string]string{
		types.AttributePortID:    c.state.ICA.ControllerPortID.String(),
		types.AttributeChannelID: c.state.ICA.TendermintChannelID.String(),
	}))
	return c.state, nil
}

func (h *Handler) icaChannelOpenConfirm(ctx context.Context, state *types.ChainState, requestID string) (*types.ChainState, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op:   types.OperationType{Kind: types.OperationICAChannelOpenConfirm},
		port: state.ICA.ControllerPortID,
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildICAChannelOpenConfirm(ctx, state, requestID)
		},
	})
	if err != nil {
		return nil, err
	}

	ica := c.state.ICA
	h.notifier.Notify(ctx, types.EventICAChannelOpened, state.ID, requestID, c.attributes(map[string]string{
		types.AttributePortID:    ica.ControllerPortID.String(),
		types.AttributeChannelID: ica.TendermintChannelID.String(),
		types.AttributeAddress:   ica.Address,
	}))
	return c.state, nil
}

// SendICA has the interchain account of chainID execute msgs. Like Mint, an
// error acknowledgement is recorded and reported as a validation error.
func (h *Handler) SendICA(ctx context.Context, chainID types.ChainID, msgs []sdk.Msg, memo, requestID string) (*types.Operation, error) {
	state, release, err := h.load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()
	if state.ICA == nil {
		return nil, errorsmod.Wrap(types.ErrPrecondition, "no interchain account channel")
	}

	var (
		ack    chantypes.Acknowledgement
		ackErr error
	)
	c, err := h.execute(ctx, state, requestID, step{
		op:   types.OperationType{Kind: types.OperationICASend, Address: state.ICA.Address},
		port: state.ICA.ControllerPortID,
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildICASend(ctx, state, msgs, memo, requestID)
		},
		apply: func(_ *types.ChainState, res *coretypes.ResultTx) error {
			ack, ackErr = h.acknowledgement(res)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	attrs := c.attributes(map[string]string{
		types.AttributeAddress:   state.ICA.Address,
		types.AttributeChannelID: state.ICA.TendermintChannelID.String(),
		types.AttributeSequence:  strconv.FormatUint(state.ICA.PacketSequence, 10),
	})
	switch {
	case ackErr != nil:
		attrs[types.AttributeError] = ackErr.Error()
	case !ack.Success():
		attrs[types.AttributeError] = ack.GetError()
		ackErr = errorsmod.Wrapf(types.ErrValidation, "interchain account packet %d failed: %s", state.ICA.PacketSequence, ack.GetError())
	}
	h.notifier.Notify(ctx, types.EventICAPacketSent, chainID, requestID, attrs)
	return c.op, ackErr
}
