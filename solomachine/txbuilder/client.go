package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"

	errorsmod "cosmossdk.io/errors"
	cmttypes "github.com/cometbft/cometbft/types"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	commitmenttypes "github.com/cosmos/ibc-go/v8/modules/core/23-commitment/types"
	solomachine "github.com/cosmos/ibc-go/v8/modules/light-clients/06-solomachine"
	ibctm "github.com/cosmos/ibc-go/v8/modules/light-clients/07-tendermint"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// DefaultUpgradePath is the upgrade path of the tendermint client the solo
// machine presents to the chain.
var DefaultUpgradePath = []string{"upgrade", "upgradedIBCState"}

// BuildCreateClient creates the solo machine client on the chain. The draft
// records the height of the chain the solo machine tracks from now on.
func (b *Builder) BuildCreateClient(ctx context.Context, state *types.ChainState, requestID string) (*SignedTransaction, error) {
	if state.Connection.Stage != types.StageUninitialized {
		return nil, errorsmod.Wrapf(types.ErrPrecondition, "client already created, handshake is at %s", state.Connection.Stage)
	}

	pubKey, err := b.signer.PublicKey(ctx, state.ID)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "resolving public key for %s", state.ID)
	}
	clientState, consensusState, err := SoloMachineStates(state, pubKey)
	if err != nil {
		return nil, err
	}

	client := b.client(state)
	header, err := b.trustedHeader(ctx, client, state.Config)
	if err != nil {
		return nil, err
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	msg, err := clienttypes.NewMsgCreateClient(clientState, consensusState, signer)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "packing client state")
	}

	next := state.Clone()
	next.Connection.TendermintClientID = types.SoloMachineTendermintClientID
	next.Connection.TendermintClientHeight = uint64(header.Height)

	return b.sign(ctx, state, requestID, next, msg)
}

// SoloMachineStates returns the client and consensus state describing the
// solo machine at its current sequence.
func SoloMachineStates(state *types.ChainState, pubKey cryptotypes.PubKey) (*solomachine.ClientState, *solomachine.ConsensusState, error) {
	pubKeyAny, err := wire.ToAny(pubKey)
	if err != nil {
		return nil, nil, err
	}
	consensusState := &solomachine.ConsensusState{
		PublicKey:   pubKeyAny,
		Diversifier: state.Config.Diversifier,
		Timestamp:   state.ConsensusTimestamp,
	}
	clientState := &solomachine.ClientState{
		Sequence:       state.Sequence,
		IsFrozen:       false,
		ConsensusState: consensusState,
	}
	if err := clientState.Validate(); err != nil {
		return nil, nil, types.WrapKind(types.ErrValidation, err, "invalid solo machine client state")
	}
	return clientState, consensusState, nil
}

// trustedHeader returns the header the tendermint client starts from: the
// pinned one when the config has a trusted height, the latest one otherwise.
func (b *Builder) trustedHeader(ctx context.Context, client *rpc.Client, cfg types.ChainConfig) (*cmttypes.Header, error) {
	var height *int64
	if cfg.TrustedHeight > 0 {
		h := int64(cfg.TrustedHeight)
		height = &h
	}
	commit, err := client.Commit(ctx, height)
	if err != nil {
		return nil, err
	}
	header := commit.SignedHeader.Header
	if header == nil {
		return nil, errorsmod.Wrap(types.ErrSerialization, "commit response has no header")
	}

	if cfg.TrustedHash != "" {
		want, err := hex.DecodeString(cfg.TrustedHash)
		if err != nil {
			return nil, types.WrapKind(types.ErrValidation, err, "trusted hash is not hex")
		}
		if got := header.Hash(); !bytes.Equal(got, want) {
			return nil, errorsmod.Wrapf(types.ErrValidation, "header at height %d has hash %X, expected %X", header.Height, got, want)
		}
	}
	return header, nil
}

// tendermintStates returns the tendermint client state the solo machine
// claims to hold for the chain and the chain's consensus state at the tracked
// height. The chain checks both against its own view when a connection is
// acknowledged.
func (b *Builder) tendermintStates(ctx context.Context, state *types.ChainState) (*ibctm.ClientState, *ibctm.ConsensusState, error) {
	client := b.client(state)

	height := int64(state.Connection.TendermintClientHeight)
	commit, err := client.Commit(ctx, &height)
	if err != nil {
		return nil, nil, err
	}
	header := commit.SignedHeader.Header
	if header == nil {
		return nil, nil, errorsmod.Wrap(types.ErrSerialization, "commit response has no header")
	}

	unbonding, err := client.UnbondingPeriod(ctx)
	if err != nil {
		return nil, nil, err
	}

	trusting := state.Config.TrustingPeriod
	if trusting >= unbonding {
		adjusted := unbonding * 2 / 3
		b.log.Info("Trusting period exceeds unbonding period, clamping",
			zap.String("chain_id", state.ID.String()),
			zap.Duration("trusting_period", trusting),
			zap.Duration("unbonding_period", unbonding),
			zap.Duration("adjusted", adjusted),
		)
		trusting = adjusted
	}

	clientState := &ibctm.ClientState{
		ChainId:         state.ID.String(),
		TrustLevel:      ibctm.NewFractionFromTm(state.Config.TrustLevel.Fraction()),
		TrustingPeriod:  trusting,
		UnbondingPeriod: unbonding,
		MaxClockDrift:   state.Config.MaxClockDrift,
		FrozenHeight:    clienttypes.ZeroHeight(),
		LatestHeight:    clienttypes.NewHeight(state.ID.RevisionNumber(), state.Connection.TendermintClientHeight),
		ProofSpecs:      commitmenttypes.GetSDKSpecs(),
		UpgradePath:     DefaultUpgradePath,
	}
	if err := clientState.Validate(); err != nil {
		return nil, nil, types.WrapKind(types.ErrValidation, err, "invalid tendermint client state")
	}

	consensusState := ibctm.NewConsensusState(
		header.Time,
		commitmenttypes.NewMerkleRoot(header.AppHash),
		header.NextValidatorsHash,
	)
	return clientState, consensusState, nil
}

// BuildUpdateSigner rotates the solo machine key on the chain to newPubKey.
// The header is signed by the current key.
func (b *Builder) BuildUpdateSigner(ctx context.Context, state *types.ChainState, newPubKey cryptotypes.PubKey, requestID string) (*SignedTransaction, error) {
	if err := state.Connection.Require(types.StageClientCreated); err != nil {
		return nil, err
	}
	if newPubKey == nil {
		return nil, errorsmod.Wrap(types.ErrValidation, "new public key cannot be nil")
	}
	current, err := b.signer.PublicKey(ctx, state.ID)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "resolving public key for %s", state.ID)
	}
	if current.Equals(newPubKey) {
		return nil, errorsmod.Wrap(types.ErrValidation, "new public key equals the current key")
	}

	cur := b.cursor(state, requestID)
	header, err := cur.Header(ctx, newPubKey)
	if err != nil {
		return nil, err
	}

	signer, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	msg, err := clienttypes.NewMsgUpdateClient(state.Connection.SoloMachineClientID.String(), header, signer)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "packing header")
	}

	return b.sign(ctx, state, requestID, cur.Draft(), msg)
}
