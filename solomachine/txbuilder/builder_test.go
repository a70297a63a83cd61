package txbuilder_test

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cosmos/solo-machine/internal/solotest"
	"github.com/cosmos/solo-machine/solomachine/broadcast"
	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

type harness struct {
	t       *testing.T
	chain   *solotest.Chain
	signer  *solotest.Signer
	builder *txbuilder.Builder
	bc      *broadcast.Broadcaster
	state   *types.ChainState
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	chain := solotest.NewChain()
	signer := solotest.NewSigner()
	chainID := types.ChainID(chain.ID())
	chain.Fund(signer.Address(chainID), sdk.NewCoins(sdk.NewInt64Coin("stake", 1_000_000)))

	log := zaptest.NewLogger(t)
	return &harness{
		t:       t,
		chain:   chain,
		signer:  signer,
		builder: txbuilder.New(signer, chain, wire.MakeCodec(), txbuilder.WithLogger(log)),
		bc:      broadcast.New(log),
		state:   types.NewChainState(chainID, chain.NodeID(), chain.Config(), time.Now()),
	}
}

// submit broadcasts tx, requires it to succeed and moves to its draft state.
func (h *harness) submit(tx *txbuilder.SignedTransaction, err error) []abci.Event {
	h.t.Helper()
	require.NoError(h.t, err)
	res, err := h.bc.Broadcast(context.Background(), rpc.ForChain(h.chain, h.state.Config), h.state.Config, tx.TxBytes)
	require.NoError(h.t, err)
	require.NoError(h.t, h.state.CheckAdvance(tx.NextState))
	h.state = tx.NextState
	return res.TxResult.Events
}

func (h *harness) attribute(events []abci.Event, typ, key string) string {
	h.t.Helper()
	v, err := rpc.RequireAttribute(events, typ, key)
	require.NoError(h.t, err)
	return v
}

func (h *harness) createClient() {
	h.t.Helper()
	ctx := context.Background()
	events := h.submit(h.builder.BuildCreateClient(ctx, h.state, "create"))
	h.state.Connection.SoloMachineClientID = types.ClientID(h.attribute(events, clienttypes.EventTypeCreateClient, clienttypes.AttributeKeyClientID))
	require.NoError(h.t, h.state.Connection.Advance(types.StageClientCreated))
}

func (h *harness) openConnection() {
	h.t.Helper()
	ctx := context.Background()
	events := h.submit(h.builder.BuildConnectionOpenInit(ctx, h.state, "conn-init"))
	h.state.Connection.TendermintConnectionID = types.ConnectionID(h.attribute(events, conntypes.EventTypeConnectionOpenInit, conntypes.AttributeKeyConnectionID))
	h.submit(h.builder.BuildConnectionOpenAck(ctx, h.state, "conn-ack"))
	require.NoError(h.t, h.state.Connection.Advance(types.StageConnectionOpen))
}

func (h *harness) openChannel() {
	h.t.Helper()
	ctx := context.Background()
	events := h.submit(h.builder.BuildChannelOpenTry(ctx, h.state, "chan-try"))
	h.state.Connection.TendermintChannelID = types.ChannelID(h.attribute(events, chantypes.EventTypeChannelOpenTry, chantypes.AttributeKeyChannelID))
	h.submit(h.builder.BuildChannelOpenConfirm(ctx, h.state, "chan-confirm"))
	require.NoError(h.t, h.state.Connection.Advance(types.StageChannelOpen))
}

func TestHandshakeAcceptedByChain(t *testing.T) {
	h := newHarness(t)

	h.createClient()
	require.Equal(t, "06-solomachine-0", h.state.Connection.SoloMachineClientID.String())
	require.Equal(t, types.SoloMachineTendermintClientID, h.state.Connection.TendermintClientID)
	require.Equal(t, uint64(5), h.state.Connection.TendermintClientHeight)
	require.Equal(t, uint64(1), h.state.Sequence)

	h.openConnection()
	require.Equal(t, uint64(4), h.state.Sequence, "connection open ack consumes three proofs")
	conn, ok := h.chain.Connection(h.state.Connection.TendermintConnectionID.String())
	require.True(t, ok)
	require.Equal(t, conntypes.OPEN, conn.State)
	require.Equal(t, types.SoloMachineConnectionID.String(), conn.Counterparty.ConnectionId)

	h.openChannel()
	ch, ok := h.chain.Channel("transfer", h.state.Connection.TendermintChannelID.String())
	require.True(t, ok)
	require.Equal(t, chantypes.OPEN, ch.State)
	require.Equal(t, types.SoloMachineTransferChannelID.String(), ch.Counterparty.ChannelId)

	seq, _, _, ok := h.chain.SoloClient(h.state.Connection.SoloMachineClientID.String())
	require.True(t, ok)
	require.Equal(t, h.state.Sequence, seq)
}

func TestMintBurnAcknowledge(t *testing.T) {
	h := newHarness(t)
	h.createClient()
	h.openConnection()
	h.openChannel()
	ctx := context.Background()
	address := h.signer.Address(h.state.ID)
	voucher := txbuilder.VoucherDenom(h.state, "gld")

	h.submit(h.builder.BuildMint(ctx, h.state, txbuilder.TransferParams{Denom: "gld", Amount: sdkmath.NewInt(100)}, "mint"))
	require.Equal(t, sdkmath.NewInt(100), h.chain.Balance(address, voucher).Amount)
	require.Equal(t, uint64(2), h.state.PacketSequence)

	events := h.submit(h.builder.BuildBurn(ctx, h.state, txbuilder.TransferParams{Denom: "gld", Amount: sdkmath.NewInt(40)}, "burn"))
	require.Equal(t, sdkmath.NewInt(60), h.chain.Balance(address, voucher).Amount)

	packet, err := rpc.ParseSendPacket(events)
	require.NoError(t, err)
	require.Equal(t, types.SoloMachineTransferChannelID.String(), packet.DestinationChannel)
	_, pending := h.chain.PacketCommitment(packet.SourcePort, packet.SourceChannel, packet.Sequence)
	require.True(t, pending)

	h.submit(h.builder.BuildAcknowledgement(ctx, h.state, packet, "burn"))
	_, pending = h.chain.PacketCommitment(packet.SourcePort, packet.SourceChannel, packet.Sequence)
	require.False(t, pending)
}

func TestMintErrorAcknowledgement(t *testing.T) {
	h := newHarness(t)
	h.createClient()
	h.openConnection()
	h.openChannel()

	h.chain.FailNextReceive(sdkerrors.ErrInsufficientFunds)
	events := h.submit(h.builder.BuildMint(context.Background(), h.state,
		txbuilder.TransferParams{Denom: "gld", Amount: sdkmath.NewInt(5)}, "mint"))
	ackHex := h.attribute(events, chantypes.EventTypeWriteAck, chantypes.AttributeKeyAckHex)
	ackBz, err := hex.DecodeString(ackHex)
	require.NoError(t, err)

	var ack chantypes.Acknowledgement
	require.NoError(t, wire.MakeCodec().Marshaler.UnmarshalJSON(ackBz, &ack))
	require.False(t, ack.Success())
	require.True(t, h.chain.Balance(h.signer.Address(h.state.ID), txbuilder.VoucherDenom(h.state, "gld")).IsZero())
}

func TestUpdateSigner(t *testing.T) {
	h := newHarness(t)
	h.createClient()
	ctx := context.Background()

	newKey := secp256k1.GenPrivKey()
	h.submit(h.builder.BuildUpdateSigner(ctx, h.state, newKey.PubKey(), "rotate"))
	_, _, pubKey, ok := h.chain.SoloClient(h.state.Connection.SoloMachineClientID.String())
	require.True(t, ok)
	require.True(t, pubKey.Equals(newKey.PubKey()))

	// Proofs signed with the old key are now rejected.
	events := h.submit(h.builder.BuildConnectionOpenInit(ctx, h.state, "conn-init"))
	h.state.Connection.TendermintConnectionID = types.ConnectionID(h.attribute(events, conntypes.EventTypeConnectionOpenInit, conntypes.AttributeKeyConnectionID))
	tx, err := h.builder.BuildConnectionOpenAck(ctx, h.state, "conn-ack")
	require.NoError(t, err)
	_, err = h.bc.Broadcast(ctx, rpc.ForChain(h.chain, h.state.Config), h.state.Config, tx.TxBytes)
	require.ErrorIs(t, err, types.ErrNetwork)

	// Once the signer holds the new key the handshake continues.
	h.signer.SetChainKey(h.state.ID, newKey, "")
	h.chain.Fund(h.signer.Address(h.state.ID), sdk.NewCoins(sdk.NewInt64Coin("stake", 1_000_000)))
	h.submit(h.builder.BuildConnectionOpenAck(ctx, h.state, "conn-ack"))
}

func TestUpdateSignerRejectsCurrentKey(t *testing.T) {
	h := newHarness(t)
	h.createClient()
	ctx := context.Background()

	current, err := h.signer.PublicKey(ctx, h.state.ID)
	require.NoError(t, err)
	_, err = h.builder.BuildUpdateSigner(ctx, h.state, current, "rotate")
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = h.builder.BuildUpdateSigner(ctx, h.state, nil, "rotate")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestInterchainAccount(t *testing.T) {
	h := newHarness(t)
	h.createClient()
	h.openConnection()
	ctx := context.Background()

	events := h.submit(h.builder.BuildICAChannelOpenTry(ctx, h.state, "owner", "ica-try"))
	require.NotNil(t, h.state.ICA)
	require.Equal(t, "icacontroller-owner", h.state.ICA.ControllerPortID.String())
	h.state.ICA.TendermintChannelID = types.ChannelID(h.attribute(events, chantypes.EventTypeChannelOpenTry, chantypes.AttributeKeyChannelID))
	h.state.ICA.Version = h.attribute(events, chantypes.EventTypeChannelOpenTry, solotest.AttributeVersion)
	metadata, err := txbuilder.ParseICAVersion(h.state.ICA.Version)
	require.NoError(t, err)
	h.state.ICA.Address = metadata.Address
	chainAddress, ok := h.chain.ICAAddress(h.state.ICA.TendermintChannelID.String())
	require.True(t, ok)
	require.Equal(t, chainAddress, metadata.Address)

	h.submit(h.builder.BuildICAChannelOpenConfirm(ctx, h.state, "ica-confirm"))
	require.True(t, h.state.ICA.Open)

	h.chain.Fund(metadata.Address, sdk.NewCoins(sdk.NewInt64Coin("stake", 500)))
	recipient := h.signer.Address(h.state.ID)
	before := h.chain.Balance(recipient, "stake").Amount

	send := banktypes.NewMsgSend(sdk.MustAccAddressFromBech32(metadata.Address), sdk.MustAccAddressFromBech32(recipient),
		sdk.NewCoins(sdk.NewInt64Coin("stake", 200)))
	events = h.submit(h.builder.BuildICASend(ctx, h.state, []sdk.Msg{send}, "", "ica-send"))
	require.Equal(t, uint64(2), h.state.ICA.PacketSequence)
	require.Equal(t, sdkmath.NewInt(300), h.chain.Balance(metadata.Address, "stake").Amount)
	// The relaying account paid one fee for the packet.
	require.Equal(t, before.AddRaw(200).SubRaw(1000), h.chain.Balance(recipient, "stake").Amount)

	ackHex := h.attribute(events, chantypes.EventTypeWriteAck, chantypes.AttributeKeyAckHex)
	require.NotEmpty(t, ackHex)
}

func TestBuildPreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	testCases := []struct {
		name  string
		build func(state *types.ChainState) (*txbuilder.SignedTransaction, error)
	}{
		{"connection open init before client", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildConnectionOpenInit(ctx, s, "")
		}},
		{"connection open ack before init", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildConnectionOpenAck(ctx, s, "")
		}},
		{"channel open try before connection", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildChannelOpenTry(ctx, s, "")
		}},
		{"channel open confirm before connection", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildChannelOpenConfirm(ctx, s, "")
		}},
		{"mint before channel", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildMint(ctx, s, txbuilder.TransferParams{Denom: "gld", Amount: sdkmath.NewInt(1)}, "")
		}},
		{"burn before channel", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildBurn(ctx, s, txbuilder.TransferParams{Denom: "gld", Amount: sdkmath.NewInt(1)}, "")
		}},
		{"update signer before client", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildUpdateSigner(ctx, s, secp256k1.GenPrivKey().PubKey(), "")
		}},
		{"ica open before connection", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildICAChannelOpenTry(ctx, s, "owner", "")
		}},
		{"ica send before connection", func(s *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildICASend(ctx, s, nil, "", "")
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := *h.state
			_, err := tc.build(h.state)
			require.ErrorIs(t, err, types.ErrPrecondition)
			require.Equal(t, before, *h.state)
		})
	}

	h.createClient()
	_, err := h.builder.BuildCreateClient(ctx, h.state, "")
	require.ErrorIs(t, err, types.ErrPrecondition)
	require.Equal(t, 1, h.chain.Calls("broadcast_tx_sync"), "only the create client transaction reached the chain")
}

func TestTransferValidation(t *testing.T) {
	h := newHarness(t)
	h.createClient()
	h.openConnection()
	h.openChannel()
	ctx := context.Background()

	testCases := []struct {
		name   string
		params txbuilder.TransferParams
	}{
		{"invalid denom", txbuilder.TransferParams{Denom: "1x", Amount: sdkmath.NewInt(1)}},
		{"zero amount", txbuilder.TransferParams{Denom: "gld", Amount: sdkmath.ZeroInt()}},
		{"nil amount", txbuilder.TransferParams{Denom: "gld"}},
		{"receiver with other prefix", txbuilder.TransferParams{Denom: "gld", Amount: sdkmath.NewInt(1), Receiver: "osmo1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqnrql8a"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.builder.BuildMint(ctx, h.state, tc.params, "")
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestBuildDoesNotMutateState(t *testing.T) {
	h := newHarness(t)
	h.createClient()
	ctx := context.Background()

	before := *h.state
	tx, err := h.builder.BuildConnectionOpenInit(ctx, h.state, "")
	require.NoError(t, err)
	require.Equal(t, before, *h.state)
	require.NotSame(t, h.state, tx.NextState)

	h.submit(tx, nil)
	h.state.Connection.TendermintConnectionID = "connection-0"
	before = *h.state
	tx, err = h.builder.BuildConnectionOpenAck(ctx, h.state, "")
	require.NoError(t, err)
	require.Equal(t, before, *h.state)
	require.Equal(t, before.Sequence+3, tx.NextState.Sequence)
	require.GreaterOrEqual(t, tx.NextState.ConsensusTimestamp, before.ConsensusTimestamp)
	require.Len(t, tx.Msgs, 1)
	require.NotEmpty(t, tx.Hash())
}

func TestSigningFailureBuildsNothing(t *testing.T) {
	h := newHarness(t)
	h.signer.FailNextSign(context.Canceled)

	_, err := h.builder.BuildCreateClient(context.Background(), h.state, "")
	require.ErrorIs(t, err, types.ErrSigning)
	require.Zero(t, h.chain.Calls("broadcast_tx_sync"))
}

func TestTrustedHashPin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.state.Config.TrustedHeight = 3
	h.state.Config.TrustedHash = hex.EncodeToString(h.chain.Header(2).Hash())
	_, err := h.builder.BuildCreateClient(ctx, h.state, "")
	require.ErrorIs(t, err, types.ErrValidation)

	h.state.Config.TrustedHash = hex.EncodeToString(h.chain.Header(3).Hash())
	tx, err := h.builder.BuildCreateClient(ctx, h.state, "")
	require.NoError(t, err)
	require.Equal(t, uint64(3), tx.NextState.Connection.TendermintClientHeight)
}
