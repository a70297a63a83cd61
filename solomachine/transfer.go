package solomachine

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"

	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// TransferRequest moves Amount of the solo machine denomination Denom.
type TransferRequest struct {
	Denom  string
	Amount sdkmath.Int
	// Address is the receiver on the chain for mints and the sender's
	// counterparty for burns. It defaults to the signer's account.
	Address string
	Memo    string
}

func (r TransferRequest) params(address string) txbuilder.TransferParams {
	return txbuilder.TransferParams{Denom: r.Denom, Amount: r.Amount, Receiver: address, Memo: r.Memo}
}

// address resolves the account a transfer request names.
func (h *Handler) address(ctx context.Context, chainID types.ChainID, requested string) (string, error) {
	if address := strings.TrimSpace(requested); address != "" {
		return address, nil
	}
	address, err := h.ctx.Signer.AccountAddress(ctx, chainID)
	if err != nil {
		return "", types.WrapKind(types.ErrSigning, err, "resolving account address for %s", chainID)
	}
	return address, nil
}

// Mint sends tokens from the solo machine to the chain, where they are minted
// as vouchers. If the chain answers with an error acknowledgement the packet
// is still recorded, since its sequences were consumed, and the call fails
// with a validation error carrying the acknowledgement.
func (h *Handler) Mint(ctx context.Context, chainID types.ChainID, req TransferRequest, requestID string) (*types.Operation, error) {
	state, release, err := h.load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()

	receiver, err := h.address(ctx, chainID, req.Address)
	if err != nil {
		return nil, err
	}

	var (
		ack    chantypes.Acknowledgement
		ackErr error
	)
	c, err := h.execute(ctx, state, requestID, step{
		op: types.OperationType{
			Kind:    types.OperationMint,
			Denom:   req.Denom,
			Amount:  req.Amount.String(),
			Address: receiver,
		},
		port: state.Config.PortID,
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildMint(ctx, state, req.params(receiver), requestID)
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
		types.AttributeDenom:     req.Denom,
		types.AttributeAmount:    req.Amount.String(),
		types.AttributeAddress:   receiver,
		types.AttributeSequence:  strconv.FormatUint(state.PacketSequence, 10),
		types.AttributeChannelID: state.Connection.TendermintChannelID.String(),
	})
	switch {
	case ackErr != nil:
		attrs[types.AttributeError] = ackErr.Error()
	case !ack.Success():
		attrs[types.AttributeError] = ack.GetError()
		ackErr = errorsmod.Wrapf(types.ErrValidation, "chain rejected transfer packet %d: %s", state.PacketSequence, ack.GetError())
	}
	h.notifier.Notify(ctx, types.EventTokensMinted, chainID, requestID, attrs)
	return c.op, ackErr
}

// Burn sends vouchers back to the solo machine, which burns them on the
// chain, and acknowledges the transfer packet. When the acknowledgement
// fails the burn is already recorded; AcknowledgeBurn completes it.
func (h *Handler) Burn(ctx context.Context, chainID types.ChainID, req TransferRequest, requestID string) (*types.Operation, error) {
	state, release, err := h.load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()

	receiver, err := h.address(ctx, chainID, req.Address)
	if err != nil {
		return nil, err
	}

	var (
		packet    chantypes.Packet
		packetErr error
	)
	c, err := h.execute(ctx, state, requestID, step{
		op: types.OperationType{
			Kind:    types.OperationBurn,
			Denom:   req.Denom,
			Amount:  req.Amount.String(),
			Address: receiver,
		},
		port: state.Config.PortID,
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildBurn(ctx, state, req.params(receiver), requestID)
		},
		apply: func(_ *types.ChainState, res *coretypes.ResultTx) error {
			packet, packetErr = rpc.ParseSendPacket(res.TxResult.Events)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if packetErr != nil {
		return c.op, errorsmod.Wrapf(packetErr, "burn %s committed but its packet cannot be read", c.op.TransactionHash)
	}

	h.notifier.Notify(ctx, types.EventTokensBurnt, chainID, requestID, c.attributes(map[string]string{
		types.AttributeDenom:     req.Denom,
		types.AttributeAmount:    req.Amount.String(),
		types.AttributeAddress:   receiver,
		types.AttributeSequence:  strconv.FormatUint(packet.Sequence, 10),
		types.AttributeChannelID: packet.SourceChannel,
	}))

	if _, err := h.acknowledge(ctx, c.state, packet, requestID); err != nil {
		return c.op, errorsmod.Wrapf(err, "burn %s committed but its packet is not acknowledged", c.op.TransactionHash)
	}
	return c.op, nil
}

// AcknowledgeBurn acknowledges the transfer packet sent by the burn
// transaction txHash.
func (h *Handler) AcknowledgeBurn(ctx context.Context, chainID types.ChainID, txHash, requestID string) (*types.Operation, error) {
	hash, err := hex.DecodeString(txHash)
	if err != nil {
		return nil, types.WrapKind(types.ErrValidation, err, "invalid transaction hash %q", txHash)
	}

	state, release, err := h.load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := h.rpcClient(state).Tx(ctx, hash)
	if err != nil {
		return nil, err
	}
	if res.TxResult.Code != 0 {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "transaction %s failed, nothing to acknowledge", txHash)
	}
	packet, err := rpc.ParseSendPacket(res.TxResult.Events)
	if err != nil {
		return nil, err
	}
	return h.acknowledge(ctx, state, packet, requestID)
}

func (h *Handler) acknowledge(ctx context.Context, state *types.ChainState, packet chantypes.Packet, requestID string) (*types.Operation, error) {
	c, err := h.execute(ctx, state, requestID, step{
		op:   types.OperationType{Kind: types.OperationAcknowledge},
		port: state.Config.PortID,
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildAcknowledgement(ctx, state, packet, requestID)
		},
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Notify(ctx, types.EventPacketAcknowledged, state.ID, requestID, c.attributes(map[string]string{
		types.AttributePortID:    packet.SourcePort,
		types.AttributeChannelID: packet.SourceChannel,
		types.AttributeSequence:  strconv.FormatUint(packet.Sequence, 10),
	}))
	return c.op, nil
}
