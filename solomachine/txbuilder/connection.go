package txbuilder

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	"github.com/cosmos/gogoproto/proto"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	commitmenttypes "github.com/cosmos/ibc-go/v8/modules/core/23-commitment/types"
	host "github.com/cosmos/ibc-go/v8/modules/core/24-host"

	"github.com/cosmos/solo-machine/solomachine/proof"
	"github.com/cosmos/solo-machine/solomachine/types"
)

func merklePrefix() commitmenttypes.MerklePrefix {
	return commitmenttypes.NewMerklePrefix([]byte(proof.CommitmentPrefix))
}

// BuildConnectionOpenInit opens a connection on the chain from the solo
// machine client towards the tendermint client the solo machine hosts. The
// chain assigns the connection id.
func (b *Builder) BuildConnectionOpenInit(ctx context.Context, state *types.ChainState, requestID string) (*SignedTransaction, error) {
	conn := state.Connection
	if conn.Stage != types.StageClientCreated {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "connection open init requires %s, handshake is at %s", types.StageClientCreated, conn.Stage)
	}
	if conn.TendermintConnectionID != "" {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "connection %s already initialized", conn.TendermintConnectionID)
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}

	msg := conntypes.NewMsgConnectionOpenInit(
		conn.SoloMachineClientID.String(),
		conn.TendermintClientID.String(),
		merklePrefix(),
		conntypes.DefaultIBCVersion,
		0,
		signer,
	)
	return b.sign(ctx, state, requestID, state.Clone(), msg)
}

// BuildConnectionOpenAck acknowledges the connection on the chain. The solo
// machine side of the handshake is local: the ack proves the solo machine
// holds the connection in TRYOPEN, followed by the tendermint client and
// consensus state it tracks the chain with. Proofs are signed in that order.
func (b *Builder) BuildConnectionOpenAck(ctx context.Context, state *types.ChainState, requestID string) (*SignedTransaction, error) {
	conn := state.Connection
	if conn.Stage != types.StageClientCreated {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "connection open ack requires %s, handshake is at %s", types.StageClientCreated, conn.Stage)
	}
	if conn.TendermintConnectionID == "" {
		return nil, errorsmod.Wrap(types.ErrPrecondition, "connection open init has not completed")
	}
	if _, err := types.NewConnectionID(conn.TendermintConnectionID.String()); err != nil {
		return nil, err
	}

	clientState, consensusState, err := b.tendermintStates(ctx, state)
	if err != nil {
		return nil, err
	}

	soloConnID := types.SoloMachineConnectionID
	tryConnection := conntypes.NewConnectionEnd(
		conntypes.TRYOPEN,
		conn.TendermintClientID.String(),
		conntypes.NewCounterparty(conn.SoloMachineClientID.String(), conn.TendermintConnectionID.String(), merklePrefix()),
		[]*conntypes.Version{conntypes.DefaultIBCVersion},
		0,
	)
	connBz, err := b.cdc.Marshaler.Marshal(&tryConnection)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding connection end")
	}
	clientBz, err := b.cdc.Marshaler.MarshalInterface(clientState)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding client state")
	}
	consensusBz, err := b.cdc.Marshaler.MarshalInterface(consensusState)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding consensus state")
	}

	cur := b.cursor(state, requestID)
	proofHeight := cur.Draft().Height()
	proofTry, err := cur.ProveBytes(ctx, host.ConnectionPath(soloConnID.String()), connBz)
	if err != nil {
		return nil, err
	}
	proofClient, err := cur.ProveBytes(ctx, host.FullClientStatePath(conn.TendermintClientID.String()), clientBz)
	if err != nil {
		return nil, err
	}
	consensusHeight := clientState.LatestHeight
	proofConsensus, err := cur.ProveBytes(ctx, host.FullConsensusStatePath(conn.TendermintClientID.String(), consensusHeight), consensusBz)
	if err != nil {
		return nil, err
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	clientAny, err := clienttypes.PackClientState(clientState)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "packing client state")
	}
	msg := &conntypes.MsgConnectionOpenAck{
		ConnectionId:             conn.TendermintConnectionID.String(),
		CounterpartyConnectionId: soloConnID.String(),
		Version:                  proto.Clone(conntypes.DefaultIBCVersion).(*conntypes.Version),
		ClientState:              clientAny,
		ProofHeight:              proofHeight,
		ProofTry:                 proofTry,
		ProofClient:              proofClient,
		ProofConsensus:           proofConsensus,
		ConsensusHeight:          consensusHeight,
		Signer:                   signer,
	}

	next := cur.Draft()
	next.Connection.SoloMachineConnectionID = soloConnID
	return b.sign(ctx, state, requestID, next, msg)
}
