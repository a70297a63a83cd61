package txbuilder

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	host "github.com/cosmos/ibc-go/v8/modules/core/24-host"

	"github.com/cosmos/solo-machine/solomachine/proof"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// channelEnds describes one channel between the solo machine and the chain.
// Solo machine ports equal the chain ports except for interchain accounts,
// where the solo machine is the controller.
type channelEnds struct {
	order                chantypes.Order
	soloPort, chainPort  string
	soloChannel          types.ChannelID
	chainChannel         types.ChannelID
	soloConnection       types.ConnectionID
	chainConnection      types.ConnectionID
	initVersion, version string
}

func (e channelEnds) openTry(ctx context.Context, cur *proof.Cursor, b *Builder, signer string) (*chantypes.MsgChannelOpenTry, error) {
	initChannel := chantypes.NewChannel(
		chantypes.INIT,
		e.order,
		chantypes.NewCounterparty(e.chainPort, ""),
		[]string{e.soloConnection.String()},
		e.initVersion,
	)
	bz, err := b.cdc.Marshaler.Marshal(&initChannel)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding channel end")
	}

	proofHeight := cur.Draft().Height()
	proofInit, err := cur.ProveBytes(ctx, host.ChannelPath(e.soloPort, e.soloChannel.String()), bz)
	if err != nil {
		return nil, err
	}

	return chantypes.NewMsgChannelOpenTry(
		e.chainPort,
		e.initVersion,
		e.order,
		[]string{e.chainConnection.String()},
		e.soloPort,
		e.soloChannel.String(),
		e.initVersion,
		proofInit,
		proofHeight,
		signer,
	), nil
}

func (e channelEnds) openConfirm(ctx context.Context, cur *proof.Cursor, b *Builder, signer string) (*chantypes.MsgChannelOpenConfirm, error) {
	openChannel := chantypes.NewChannel(
		chantypes.OPEN,
		e.order,
		chantypes.NewCounterparty(e.chainPort, e.chainChannel.String()),
		[]string{e.soloConnection.String()},
		e.version,
	)
	bz, err := b.cdc.Marshaler.Marshal(&openChannel)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding channel end")
	}

	proofHeight := cur.Draft().Height()
	proofAck, err := cur.ProveBytes(ctx, host.ChannelPath(e.soloPort, e.soloChannel.String()), bz)
	if err != nil {
		return nil, err
	}

	return chantypes.NewMsgChannelOpenConfirm(e.chainPort, e.chainChannel.String(), proofAck, proofHeight, signer), nil
}

func transferEnds(state *types.ChainState) channelEnds {
	conn := state.Connection
	port := state.Config.PortID.String()
	return channelEnds{
		order:           chantypes.UNORDERED,
		soloPort:        port,
		chainPort:       port,
		soloChannel:     types.SoloMachineTransferChannelID,
		chainChannel:    conn.TendermintChannelID,
		soloConnection:  conn.SoloMachineConnectionID,
		chainConnection: conn.TendermintConnectionID,
		initVersion:     transfertypes.Version,
		version:         transfertypes.Version,
	}
}

// BuildChannelOpenTry opens the transfer channel on the chain against the
// channel the solo machine initialized locally. The chain assigns the
// channel id.
func (b *Builder) BuildChannelOpenTry(ctx context.Context, state *types.ChainState, requestID string) (*SignedTransaction, error) {
	conn := state.Connection
	if err := conn.Require(types.StageConnectionOpen); err != nil {
		return nil, err
	}
	if conn.Stage != types.StageConnectionOpen {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "transfer channel already open")
	}
	if conn.TendermintChannelID != "" {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "channel %s already in try open", conn.TendermintChannelID)
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}

	cur := b.cursor(state, requestID)
	msg, err := transferEnds(state).openTry(ctx, cur, b, signer)
	if err != nil {
		return nil, err
	}

	next := cur.Draft()
	next.Connection.SoloMachineChannelID = types.SoloMachineTransferChannelID
	return b.sign(ctx, state, requestID, next, msg)
}

// BuildChannelOpenConfirm confirms the transfer channel on the chain with a
// proof that the solo machine holds it open.
func (b *Builder) BuildChannelOpenConfirm(ctx context.Context, state *types.ChainState, requestID string) (*SignedTransaction, error) {
	conn := state.Connection
	if err := conn.Require(types.StageConnectionOpen); err != nil {
		return nil, err
	}
	if conn.Stage != types.StageConnectionOpen {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "transfer channel already open")
	}
	if conn.TendermintChannelID == "" {
		return nil, errorsmod.Wrap(types.ErrPrecondition, "channel open try has not completed")
	}
	if _, err := types.NewChannelID(conn.TendermintChannelID.String()); err != nil {
		return nil, err
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}

	cur := b.cursor(state, requestID)
	msg, err := transferEnds(state).openConfirm(ctx, cur, b, signer)
	if err != nil {
		return nil, err
	}
	return b.sign(ctx, state, requestID, cur.Draft(), msg)
}
