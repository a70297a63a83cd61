package txbuilder

import (
	"context"
	"strings"

	errorsmod "cosmossdk.io/errors"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	icatypes "github.com/cosmos/ibc-go/v8/modules/apps/27-interchain-accounts/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"

	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// ICAVersion returns the channel version the solo machine proposes as
// controller of an interchain account over the established connection.
func ICAVersion(state *types.ChainState) (string, error) {
	metadata := icatypes.NewMetadata(
		icatypes.Version,
		state.Connection.SoloMachineConnectionID.String(),
		state.Connection.TendermintConnectionID.String(),
		"",
		icatypes.EncodingProtobuf,
		icatypes.TxTypeSDKMultiMsg,
	)
	bz, err := icatypes.ModuleCdc.MarshalJSON(&metadata)
	if err != nil {
		return "", types.WrapKind(types.ErrSerialization, err, "encoding interchain account metadata")
	}
	return string(bz), nil
}

// ParseICAVersion decodes the channel version the host returned.
func ParseICAVersion(version string) (icatypes.Metadata, error) {
	var metadata icatypes.Metadata
	if err := icatypes.ModuleCdc.UnmarshalJSON([]byte(version), &metadata); err != nil {
		return icatypes.Metadata{}, types.WrapKind(types.ErrSerialization, err, "decoding interchain account version %q", version)
	}
	return metadata, nil
}

func icaEnds(state *types.ChainState, initVersion string) channelEnds {
	conn := state.Connection
	ica := state.ICA
	return channelEnds{
		order:           chantypes.ORDERED,
		soloPort:        ica.ControllerPortID.String(),
		chainPort:       icatypes.HostPortID,
		soloChannel:     ica.SoloMachineChannelID,
		chainChannel:    ica.TendermintChannelID,
		soloConnection:  conn.SoloMachineConnectionID,
		chainConnection: conn.TendermintConnectionID,
		initVersion:     initVersion,
		version:         ica.Version,
	}
}

// BuildICAChannelOpenTry opens an interchain account channel on the chain's
// host port, controlled by owner on the solo machine.
func (b *Builder) BuildICAChannelOpenTry(ctx context.Context, state *types.ChainState, owner, requestID string) (*SignedTransaction, error) {
	if err := state.Connection.Require(types.StageConnectionOpen); err != nil {
		return nil, err
	}
	if state.ICA != nil {
		if state.ICA.Open {
			return nil, errorsmod.Wrapf(types.ErrPrecondition, "interchain account channel %s already open", state.ICA.TendermintChannelID)
		}
		if state.ICA.TendermintChannelID != "" {
			return nil, errorsmod.Wrapf(types.ErrPrecondition, "interchain account channel %s already in try open", state.ICA.TendermintChannelID)
		}
	}

	owner = strings.TrimSpace(owner)
	portID, err := icatypes.NewControllerPortID(owner)
	if err != nil {
		return nil, types.WrapKind(types.ErrValidation, err, "invalid owner %q", owner)
	}
	controllerPort, err := types.NewPortID(portID)
	if err != nil {
		return nil, err
	}

	version, err := ICAVersion(state)
	if err != nil {
		return nil, err
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}

	draftInput := state.Clone()
	draftInput.ICA = &types.ICAChannel{
		Owner:                owner,
		ControllerPortID:     controllerPort,
		SoloMachineChannelID: types.SoloMachineICAChannelID,
		PacketSequence:       1,
	}

	cur := b.cursor(draftInput, requestID)
	msg, err := icaEnds(draftInput, version).openTry(ctx, cur, b, signer)
	if err != nil {
		return nil, err
	}
	return b.sign(ctx, state, requestID, cur.Draft(), msg)
}

// BuildICAChannelOpenConfirm confirms the interchain account channel with the
// version the host returned on try.
func (b *Builder) BuildICAChannelOpenConfirm(ctx context.Context, state *types.ChainState, requestID string) (*SignedTransaction, error) {
	if err := state.Connection.Require(types.StageConnectionOpen); err != nil {
		return nil, err
	}
	switch {
	case state.ICA == nil || state.ICA.TendermintChannelID == "":
		return nil, errorsmod.Wrap(types.ErrPrecondition, "interchain account channel open try has not completed")
	case state.ICA.Open:
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "interchain account channel %s already open", state.ICA.TendermintChannelID)
	case state.ICA.Version == "":
		return nil, errorsmod.Wrap(types.ErrPrecondition, "interchain account channel version unknown")
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}

	cur := b.cursor(state, requestID)
	msg, err := icaEnds(state, state.ICA.Version).openConfirm(ctx, cur, b, signer)
	if err != nil {
		return nil, err
	}

	next := cur.Draft()
	next.ICA.Open = true
	return b.sign(ctx, state, requestID, next, msg)
}

// BuildICASend has the interchain account execute msgs on the chain. Messages
// are delivered in a packet the chain receives on the host port.
func (b *Builder) BuildICASend(ctx context.Context, state *types.ChainState, msgs []sdk.Msg, memo, requestID string) (*SignedTransaction, error) {
	if err := state.Connection.Require(types.StageConnectionOpen); err != nil {
		return nil, err
	}
	if state.ICA == nil || !state.ICA.Open {
		return nil, errorsmod.Wrap(types.ErrPrecondition, "interchain account channel is not open")
	}
	if len(msgs) == 0 {
		return nil, errorsmod.Wrap(types.ErrValidation, "no messages to execute")
	}

	anys := make([]*codectypes.Any, 0, len(msgs))
	for _, msg := range msgs {
		if m, ok := msg.(sdk.HasValidateBasic); ok {
			if err := m.ValidateBasic(); err != nil {
				return nil, types.WrapKind(types.ErrValidation, err, "invalid %s", sdk.MsgTypeURL(msg))
			}
		}
		a, err := wire.ToAny(msg)
		if err != nil {
			return nil, err
		}
		anys = append(anys, a)
	}
	txBz, err := b.cdc.Marshaler.Marshal(&icatypes.CosmosTx{Messages: anys})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding interchain account tx")
	}
	packetData := icatypes.InterchainAccountPacketData{
		Type: icatypes.EXECUTE_TX,
		Data: txBz,
		Memo: memo,
	}
	if err := packetData.ValidateBasic(); err != nil {
		return nil, types.WrapKind(types.ErrValidation, err, "invalid interchain account packet")
	}

	timeout, err := b.timeoutHeight(ctx, state)
	if err != nil {
		return nil, err
	}

	ica := state.ICA
	packet := chantypes.NewPacket(
		packetData.GetBytes(),
		ica.PacketSequence,
		ica.ControllerPortID.String(),
		ica.SoloMachineChannelID.String(),
		icatypes.HostPortID,
		ica.TendermintChannelID.String(),
		timeout,
		0,
	)

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}

	cur := b.cursor(state, requestID)
	msg, err := b.recvPacket(ctx, cur, packet, signer)
	if err != nil {
		return nil, err
	}

	next := cur.Draft()
	next.ICA.PacketSequence++
	return b.sign(ctx, state, requestID, next, msg)
}
