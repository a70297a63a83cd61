package proof_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/store/dbadapter"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/gogoproto/proto"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	commitmenttypes "github.com/cosmos/ibc-go/v8/modules/core/23-commitment/types"
	host "github.com/cosmos/ibc-go/v8/modules/core/24-host"
	solomachine "github.com/cosmos/ibc-go/v8/modules/light-clients/06-solomachine"
	"github.com/stretchr/testify/require"

	"github.com/cosmos/solo-machine/internal/solotest"
	"github.com/cosmos/solo-machine/solomachine/proof"
	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newState() *types.ChainState {
	cfg := types.DefaultChainConfig()
	state := types.NewChainState("testchain-1", "node", cfg, now.Add(-time.Hour))
	state.Sequence = 7
	return state
}

func clock() time.Time { return now }

// verify checks p the way the solo machine light client does.
func verify(t *testing.T, pubKey cryptotypes.PubKey, p *proof.Proof) {
	t.Helper()

	bz, err := p.Bytes()
	require.NoError(t, err)
	var timestamped solomachine.TimestampedSignatureData
	require.NoError(t, proto.Unmarshal(bz, &timestamped))
	require.Equal(t, p.Timestamp, timestamped.Timestamp)

	signBytes, err := proto.Marshal(&solomachine.SignBytes{
		Sequence:    p.Sequence,
		Timestamp:   timestamped.Timestamp,
		Diversifier: p.Diversifier,
		Path:        p.Path,
		Data:        p.Data,
	})
	require.NoError(t, err)

	sigData, err := solomachine.UnmarshalSignatureData(wire.MakeCodec().Marshaler, timestamped.SignatureData)
	require.NoError(t, err)
	require.NoError(t, solomachine.VerifySignature(pubKey, signBytes, sigData))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	signer := solotest.NewSigner()
	state := newState()
	before := *state

	p, err := proof.Generate(ctx, signer, "req", state, []byte(host.ConnectionPath("connection-0")), []byte("value"), proof.Timestamp(state, now))
	require.NoError(t, err)
	require.Equal(t, uint64(7), p.Sequence)
	require.Equal(t, uint64(now.UnixNano()), p.Timestamp)
	require.Equal(t, types.DefaultDiversifier, p.Diversifier)
	require.Equal(t, before, *state, "generating a proof does not touch the state")

	pubKey, err := signer.PublicKey(ctx, state.ID)
	require.NoError(t, err)
	verify(t, pubKey, p)

	// A proof is bound to its sequence, path and data.
	other := *p
	other.Sequence++
	sigData, err := solomachine.UnmarshalSignatureData(wire.MakeCodec().Marshaler, p.Signature)
	require.NoError(t, err)
	signBytes, err := other.SignBytes()
	require.NoError(t, err)
	require.Error(t, solomachine.VerifySignature(pubKey, signBytes, sigData))
}

func TestTimestampNeverGoesBackwards(t *testing.T) {
	state := newState()

	require.Equal(t, uint64(now.UnixNano()), proof.Timestamp(state, now))

	state.ConsensusTimestamp = uint64(now.Add(time.Minute).UnixNano())
	require.Equal(t, state.ConsensusTimestamp, proof.Timestamp(state, now))
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()
	state := newState()

	tests := []struct {
		name   string
		signer func() *solotest.Signer
		path   []byte
		kind   error
	}{
		{
			name:   "empty path",
			signer: solotest.NewSigner,
			kind:   types.ErrValidation,
		},
		{
			name: "signer failure",
			signer: func() *solotest.Signer {
				s := solotest.NewSigner()
				s.FailNextSign(errors.New("hsm offline"))
				return s
			},
			path: []byte("/ibc/x"),
			kind: types.ErrSigning,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := proof.Generate(ctx, tt.signer(), "", state, tt.path, nil, proof.Timestamp(state, now))
			require.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	signer := solotest.NewSigner()
	state := newState()
	pubKey, err := signer.PublicKey(ctx, state.ID)
	require.NoError(t, err)

	c := proof.NewCursor(signer, "req", state, clock)
	first, err := c.Prove(ctx, host.FullClientStatePath("07-tendermint-0"), []byte("client"))
	require.NoError(t, err)
	second, err := c.Prove(ctx, host.FullConsensusStatePath("07-tendermint-0", clienttypes.NewHeight(0, 5)), []byte("consensus"))
	require.NoError(t, err)

	require.Equal(t, uint64(7), first.Sequence)
	require.Equal(t, uint64(8), second.Sequence)
	require.Equal(t, uint64(9), c.Draft().Sequence)
	require.Equal(t, second.Timestamp, c.Draft().ConsensusTimestamp)
	require.Equal(t, uint64(7), state.Sequence, "the committed state is untouched")
	verify(t, pubKey, first)
	verify(t, pubKey, second)

	bz, err := c.ProveBytes(ctx, host.ConnectionPath("connection-0"), []byte("conn"))
	require.NoError(t, err)
	require.NotEmpty(t, bz)
	require.Equal(t, uint64(10), c.Draft().Sequence)
}

func TestCursorProofsAcceptedByLightClient(t *testing.T) {
	ctx := context.Background()
	signer := solotest.NewSigner()
	state := newState()
	pubKey, err := signer.PublicKey(ctx, state.ID)
	require.NoError(t, err)
	clientState, _, err := txbuilder.SoloMachineStates(state, pubKey)
	require.NoError(t, err)

	cdc := wire.MakeCodec().Marshaler
	store := dbadapter.Store{DB: dbm.NewMemDB()}
	prefix := commitmenttypes.NewMerklePrefix([]byte(proof.CommitmentPrefix))

	c := proof.NewCursor(signer, "req", state, clock)
	for _, key := range []string{
		host.ConnectionPath("connection-0"),
		host.FullClientStatePath("07-tendermint-0"),
		host.ChannelPath("transfer", "channel-0"),
	} {
		bz, err := c.ProveBytes(ctx, key, []byte(key))
		require.NoError(t, err)

		path, err := commitmenttypes.ApplyPrefix(prefix, commitmenttypes.NewMerklePath(key))
		require.NoError(t, err)
		require.NoError(t, clientState.VerifyMembership(sdk.Context{}, store, cdc,
			clientState.GetLatestHeight(), 0, 0, bz, path, []byte(key)), key)
	}
	require.Equal(t, c.Draft().Sequence, clientState.Sequence)

	// A proof replayed at the advanced sequence is rejected.
	bz, err := proof.NewCursor(signer, "req", state, clock).ProveBytes(ctx, host.ConnectionPath("connection-0"), []byte("x"))
	require.NoError(t, err)
	path, err := commitmenttypes.ApplyPrefix(prefix, commitmenttypes.NewMerklePath(host.ConnectionPath("connection-0")))
	require.NoError(t, err)
	require.Error(t, clientState.VerifyMembership(sdk.Context{}, store, cdc,
		clientState.GetLatestHeight(), 0, 0, bz, path, []byte("x")))
}

func TestCursorHeader(t *testing.T) {
	ctx := context.Background()
	signer := solotest.NewSigner()
	state := newState()
	pubKey, err := signer.PublicKey(ctx, state.ID)
	require.NoError(t, err)
	newKey := secp256k1.GenPrivKey().PubKey()

	c := proof.NewCursor(signer, "req", state, clock)
	header, err := c.Header(ctx, newKey)
	require.NoError(t, err)
	require.Equal(t, uint64(now.UnixNano()), header.Timestamp)
	require.Equal(t, state.Config.Diversifier, header.NewDiversifier)
	require.Equal(t, uint64(8), c.Draft().Sequence)

	data, err := proto.Marshal(&solomachine.HeaderData{
		NewPubKey:      header.NewPublicKey,
		NewDiversifier: header.NewDiversifier,
	})
	require.NoError(t, err)
	verify(t, pubKey, &proof.Proof{
		Sequence:    7,
		Timestamp:   header.Timestamp,
		Diversifier: state.Config.Diversifier,
		Path:        []byte(proof.HeaderPath),
		Data:        data,
		Signature:   header.Signature,
	})

	_, err = c.Header(ctx, nil)
	require.ErrorIs(t, err, types.ErrValidation)
}
