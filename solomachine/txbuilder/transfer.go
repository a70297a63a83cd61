package txbuilder

import (
	"context"
	"strings"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	host "github.com/cosmos/ibc-go/v8/modules/core/24-host"

	"github.com/cosmos/solo-machine/solomachine/proof"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// TransferParams describe a token movement between the solo machine and the
// chain. Denom is always the solo machine denomination.
type TransferParams struct {
	Denom  string
	Amount sdkmath.Int
	// Receiver defaults to the signer's account address.
	Receiver string
	Memo     string
}

func (p TransferParams) validate() error {
	if err := sdk.ValidateDenom(p.Denom); err != nil {
		return types.WrapKind(types.ErrValidation, err, "invalid denom %q", p.Denom)
	}
	if p.Amount.IsNil() || !p.Amount.IsPositive() {
		return errorsmod.Wrapf(types.ErrValidation, "amount must be positive")
	}
	return nil
}

// VoucherDenom is the denomination tokens minted by the solo machine carry on
// the chain.
func VoucherDenom(state *types.ChainState, denom string) string {
	prefixed := transfertypes.GetPrefixedDenom(state.Config.PortID.String(), state.Connection.TendermintChannelID.String(), denom)
	return transfertypes.ParseDenomTrace(prefixed).IBCDenom()
}

// timeoutHeight returns the chain height a packet sent now times out at.
func (b *Builder) timeoutHeight(ctx context.Context, state *types.ChainState) (clienttypes.Height, error) {
	latest, err := b.client(state).LatestHeight(ctx)
	if err != nil {
		return clienttypes.Height{}, err
	}
	return clienttypes.NewHeight(state.ID.RevisionNumber(), uint64(latest)+state.Config.PacketTimeoutHeightOffset), nil
}

// recvPacket proves the solo machine committed packet and wraps it into a
// MsgRecvPacket.
func (b *Builder) recvPacket(ctx context.Context, cur *proof.Cursor, packet chantypes.Packet, signer string) (*chantypes.MsgRecvPacket, error) {
	if err := packet.ValidateBasic(); err != nil {
		return nil, types.WrapKind(types.ErrValidation, err, "invalid packet")
	}
	commitment := chantypes.CommitPacket(b.cdc.Marshaler, packet)

	proofHeight := cur.Draft().Height()
	proofCommitment, err := cur.ProveBytes(ctx,
		host.PacketCommitmentPath(packet.SourcePort, packet.SourceChannel, packet.Sequence), commitment)
	if err != nil {
		return nil, err
	}
	return chantypes.NewMsgRecvPacket(packet, proofCommitment, proofHeight, signer), nil
}

// BuildMint sends tokens from the solo machine to the chain: the chain
// receives a transfer packet the solo machine proves it committed.
func (b *Builder) BuildMint(ctx context.Context, state *types.ChainState, params TransferParams, requestID string) (*SignedTransaction, error) {
	if err := state.Connection.Require(types.StageChannelOpen); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	receiver := strings.TrimSpace(params.Receiver)
	if receiver == "" {
		receiver = signer
	}
	if _, err := sdk.GetFromBech32(receiver, state.Config.AccountPrefix); err != nil {
		return nil, types.WrapKind(types.ErrValidation, err, "invalid receiver %q", receiver)
	}

	timeout, err := b.timeoutHeight(ctx, state)
	if err != nil {
		return nil, err
	}

	data := transfertypes.NewFungibleTokenPacketData(params.Denom, params.Amount.String(), signer, receiver, params.Memo)
	conn := state.Connection
	packet := chantypes.NewPacket(
		data.GetBytes(),
		state.PacketSequence,
		state.Config.PortID.String(),
		conn.SoloMachineChannelID.String(),
		state.Config.PortID.String(),
		conn.TendermintChannelID.String(),
		timeout,
		0,
	)

	cur := b.cursor(state, requestID)
	msg, err := b.recvPacket(ctx, cur, packet, signer)
	if err != nil {
		return nil, err
	}

	next := cur.Draft()
	next.PacketSequence++
	return b.sign(ctx, state, requestID, next, msg)
}

// BuildBurn sends vouchers minted by the solo machine back over the transfer
// channel. The chain burns them when the packet is sent; the solo machine
// acknowledges the packet afterwards with BuildAcknowledgement.
func (b *Builder) BuildBurn(ctx context.Context, state *types.ChainState, params TransferParams, requestID string) (*SignedTransaction, error) {
	if err := state.Connection.Require(types.StageChannelOpen); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	receiver := strings.TrimSpace(params.Receiver)
	if receiver == "" {
		receiver = signer
	}

	// The solo machine client height is its sequence.
	timeout := clienttypes.NewHeight(0, state.Sequence+state.Config.PacketTimeoutHeightOffset)

	msg := transfertypes.NewMsgTransfer(
		state.Config.PortID.String(),
		state.Connection.TendermintChannelID.String(),
		sdk.NewCoin(VoucherDenom(state, params.Denom), params.Amount),
		signer,
		receiver,
		timeout,
		0,
		params.Memo,
	)
	return b.sign(ctx, state, requestID, state.Clone(), msg)
}

// SuccessAcknowledgement is the acknowledgement the solo machine writes for
// every transfer packet it receives.
func SuccessAcknowledgement() chantypes.Acknowledgement {
	return chantypes.NewResultAcknowledgement([]byte{byte(1)})
}

// BuildAcknowledgement acknowledges a packet the chain sent to the solo
// machine. packet must be exactly what the send_packet event announced.
func (b *Builder) BuildAcknowledgement(ctx context.Context, state *types.ChainState, packet chantypes.Packet, requestID string) (*SignedTransaction, error) {
	if err := state.Connection.Require(types.StageChannelOpen); err != nil {
		return nil, err
	}
	if err := packet.ValidateBasic(); err != nil {
		return nil, types.WrapKind(types.ErrValidation, err, "invalid packet")
	}
	if packet.DestinationChannel != state.Connection.SoloMachineChannelID.String() {
		return nil, errorsmod.Wrapf(types.ErrValidation, "packet is addressed to %s, not the transfer channel %s",
			packet.DestinationChannel, state.Connection.SoloMachineChannelID)
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}

	ack := SuccessAcknowledgement().Acknowledgement()
	cur := b.cursor(state, requestID)
	proofHeight := cur.Draft().Height()
	proofAcked, err := cur.ProveBytes(ctx,
		host.PacketAcknowledgementPath(packet.DestinationPort, packet.DestinationChannel, packet.Sequence),
		chantypes.CommitAcknowledgement(ack))
	if err != nil {
		return nil, err
	}

	msg := chantypes.NewMsgAcknowledgement(packet, ack, proofAcked, proofHeight, signer)
	return b.sign(ctx, state, requestID, cur.Draft(), msg)
}
