package solomachine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cosmos/solo-machine/internal/solotest"
	"github.com/cosmos/solo-machine/solomachine"
	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/store"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// hook records events and runs a callback the first time an event of a
// given type arrives.
type hook struct {
	solotest.Recorder

	mu sync.Mutex
	on types.EventType
	fn func(types.Event)
}

func (h *hook) Once(typ types.EventType, fn func(types.Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.on, h.fn = typ, fn
}

func (h *hook) HandleEvent(ctx context.Context, ev types.Event) error {
	h.mu.Lock()
	var fn func(types.Event)
	if h.fn != nil && ev.Type == h.on {
		fn, h.fn = h.fn, nil
	}
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
	return h.Recorder.HandleEvent(ctx, ev)
}

type fixture struct {
	t       *testing.T
	chain   *solotest.Chain
	signer  *solotest.Signer
	store   *store.Store
	events  *hook
	handler *solomachine.Handler
	id      types.ChainID
}

func fund(c *solotest.Chain, address string) {
	c.Fund(address, sdk.NewCoins(sdk.NewInt64Coin("stake", 10_000_000)))
}

// newFixture adds every chain to a fresh handler. The first chain is the
// fixture's default.
func newFixture(t *testing.T, chains ...*solotest.Chain) *fixture {
	t.Helper()
	if len(chains) == 0 {
		chains = []*solotest.Chain{solotest.NewChain()}
	}
	signer := solotest.NewSigner()
	for _, c := range chains {
		fund(c, signer.Address(types.ChainID(c.ID())))
	}

	log := zaptest.NewLogger(t)
	st, err := store.OpenInMemory(wire.MakeCodec(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	events := &hook{}
	handler, err := solomachine.NewHandler(provider.Context{
		Signer:  signer,
		Storage: st,
		RPC:     solotest.NewNetwork(chains...),
		Events:  events,
	}, solomachine.WithLogger(log))
	require.NoError(t, err)

	for _, c := range chains {
		_, err := handler.AddChain(context.Background(), c.Config(), "add-chain")
		require.NoError(t, err)
	}

	return &fixture{
		t:       t,
		chain:   chains[0],
		signer:  signer,
		store:   st,
		events:  events,
		handler: handler,
		id:      types.ChainID(chains[0].ID()),
	}
}

func (f *fixture) connect() *types.ChainState {
	f.t.Helper()
	state, err := f.handler.Connect(context.Background(), f.id, "connect", false)
	require.NoError(f.t, err)
	return state
}

func (f *fixture) state() *types.ChainState {
	f.t.Helper()
	state, err := f.handler.GetChain(context.Background(), f.id)
	require.NoError(f.t, err)
	return state
}

// storedJSON is the persisted chain state as stored bytes compare.
func (f *fixture) storedJSON() string {
	f.t.Helper()
	bz, err := json.Marshal(f.state())
	require.NoError(f.t, err)
	return string(bz)
}

func (f *fixture) kinds() []types.OperationKind {
	f.t.Helper()
	ops, err := f.handler.History(context.Background(), f.id, 0, 0)
	require.NoError(f.t, err)
	out := make([]types.OperationKind, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Type.Kind)
	}
	return out
}

func (f *fixture) requireInSync(state *types.ChainState) {
	f.t.Helper()
	seq, _, _, ok := f.chain.SoloClient(state.Connection.SoloMachineClientID.String())
	require.True(f.t, ok)
	require.Equal(f.t, state.Sequence, seq, "chain and solo machine disagree on the sequence")
}

func rejectTx(c *solotest.Chain) {
	c.RejectNextTx(sdkerrors.ErrOutOfGas.ABCICode(), "out of gas")
}

func failTx(c *solotest.Chain) {
	c.FailNextTx(sdkerrors.ErrInsufficientFee.ABCICode(), "insufficient fee")
}

var handshakeKinds = []types.OperationKind{
	types.OperationCreateClient,
	types.OperationConnectionOpenInit,
	types.OperationConnectionOpenAck,
	types.OperationChannelOpenTry,
	types.OperationChannelOpenConfirm,
}

func TestNewHandlerRequiresCapabilities(t *testing.T) {
	_, err := solomachine.NewHandler(provider.Context{})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestAddChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	state := f.state()
	require.Equal(t, f.chain.NodeID(), state.NodeID)
	require.Equal(t, uint64(1), state.Sequence)
	require.Equal(t, uint64(1), state.PacketSequence)
	require.Equal(t, types.StageUninitialized, state.Connection.Stage)

	keys, err := f.handler.ChainKeys(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	pubKey, err := f.signer.PublicKey(ctx, f.id)
	require.NoError(t, err)
	require.True(t, keys[0].PublicKey.Equals(pubKey))

	ev, ok := f.events.Last(types.EventChainAdded)
	require.True(t, ok)
	require.Equal(t, f.signer.Address(f.id), ev.Attributes[types.AttributeAddress])
	require.Equal(t, "add-chain", ev.RequestID)

	_, err = f.handler.AddChain(ctx, f.chain.Config(), "")
	require.ErrorIs(t, err, types.ErrChainExists)

	invalid := f.chain.Config()
	invalid.RPCAddr = ""
	_, err = f.handler.AddChain(ctx, invalid, "")
	require.ErrorIs(t, err, types.ErrValidation)

	unreachable := f.chain.Config()
	unreachable.RPCAddr = "http://unknown-node:26657"
	_, err = f.handler.AddChain(ctx, unreachable, "")
	require.ErrorIs(t, err, types.ErrNetwork)
	require.True(t, types.IsRetryable(err))

	_, err = f.handler.GetChain(ctx, "other-1")
	require.ErrorIs(t, err, types.ErrChainNotFound)
}

func TestConnect(t *testing.T) {
	f := newFixture(t)

	state := f.connect()
	require.Equal(t, types.StageChannelOpen, state.Connection.Stage)
	require.Equal(t, "06-solomachine-0", state.Connection.SoloMachineClientID.String())
	require.Equal(t, f.storedJSON(), func() string {
		bz, err := json.Marshal(state)
		require.NoError(t, err)
		return string(bz)
	}())
	f.requireInSync(state)

	ch, ok := f.chain.Channel("transfer", state.Connection.TendermintChannelID.String())
	require.True(t, ok)
	require.Equal(t, types.SoloMachineTransferChannelID.String(), ch.Counterparty.ChannelId)

	require.Equal(t, handshakeKinds, f.kinds())
	require.Equal(t, []types.EventType{
		types.EventChainAdded,
		types.EventClientCreated,
		types.EventConnectionOpenInit,
		types.EventConnectionOpened,
		types.EventChannelOpenTry,
		types.EventChannelOpened,
	}, f.events.Types())

	// A connected chain needs no further transaction.
	broadcasts := f.chain.Calls("broadcast_tx_sync")
	again, err := f.handler.Connect(context.Background(), f.id, "connect", false)
	require.NoError(t, err)
	require.Equal(t, state.Sequence, again.Sequence)
	require.Equal(t, broadcasts, f.chain.Calls("broadcast_tx_sync"))
}

func TestConnectResumesFromCheckpoint(t *testing.T) {
	testCases := []struct {
		name       string
		after      types.EventType
		fail       func(*solotest.Chain)
		checkpoint types.Stage
		committed  int
	}{
		{"rejected after client creation", types.EventClientCreated, rejectTx, types.StageClientCreated, 1},
		{"failed after connection open init", types.EventConnectionOpenInit, failTx, types.StageClientCreated, 2},
		{"rejected after connection opened", types.EventConnectionOpened, rejectTx, types.StageConnectionOpen, 3},
		{"failed after channel open try", types.EventChannelOpenTry, failTx, types.StageConnectionOpen, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.events.Once(tc.after, func(types.Event) { tc.fail(f.chain) })

			_, err := f.handler.Connect(ctx, f.id, "connect", false)
			require.ErrorIs(t, err, types.ErrNetwork)
			require.True(t, types.IsRetryable(err))

			state := f.state()
			require.Equal(t, tc.checkpoint, state.Connection.Stage)
			require.Len(t, f.kinds(), tc.committed)
			rejected, ok := f.events.Last(types.EventTransactionRejected)
			require.True(t, ok)
			require.NotEmpty(t, rejected.Attributes[types.AttributeTxHash])
			require.NotEmpty(t, rejected.Attributes[types.AttributeError])

			state, err = f.handler.Connect(ctx, f.id, "connect-retry", false)
			require.NoError(t, err)
			require.Equal(t, types.StageChannelOpen, state.Connection.Stage)
			require.Equal(t, handshakeKinds, f.kinds())
			f.requireInSync(state)
		})
	}
}

func TestBroadcastFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := f.storedJSON()

	f.chain.FailNext("broadcast_tx_sync", errors.New("connection reset by peer"))
	_, err := f.handler.Connect(ctx, f.id, "connect", false)
	require.ErrorIs(t, err, types.ErrNetwork)
	require.Equal(t, before, f.storedJSON())
	require.Empty(t, f.kinds())

	rejected, ok := f.events.Last(types.EventTransactionRejected)
	require.True(t, ok)
	require.Equal(t, string(types.OperationCreateClient), rejected.Attributes[types.AttributeOperation])
	require.Contains(t, rejected.Attributes[types.AttributeError], "connection reset by peer")
}

func TestSigningFailureSendsNothing(t *testing.T) {
	f := newFixture(t)
	before := f.storedJSON()

	f.signer.FailNextSign(errors.New("hardware wallet disconnected"))
	_, err := f.handler.Connect(context.Background(), f.id, "connect", false)
	require.ErrorIs(t, err, types.ErrSigning)
	require.Zero(t, f.chain.Calls("broadcast_tx_sync"))
	require.Equal(t, before, f.storedJSON())
}

func TestEventHandlerFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.events.FailWith(errors.New("event sink unavailable"))

	state := f.connect()
	require.Equal(t, types.StageChannelOpen, state.Connection.Stage)
}

func TestConnectForceStartsNewHandshake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.connect()
	_, err := f.handler.OpenICAChannel(ctx, f.id, "owner", "ica")
	require.NoError(t, err)

	state, err := f.handler.Connect(ctx, f.id, "reconnect", true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), state.Connection.Epoch)
	require.Equal(t, types.StageChannelOpen, state.Connection.Stage)
	require.Equal(t, "06-solomachine-1", state.Connection.SoloMachineClientID.String())
	require.NotEqual(t, first.Connection.TendermintConnectionID, state.Connection.TendermintConnectionID)
	require.Nil(t, state.ICA)
	require.Greater(t, state.Sequence, first.Sequence)
	f.requireInSync(state)

	kinds := f.kinds()
	require.Len(t, kinds, 2*len(handshakeKinds)+2)
	require.Equal(t, handshakeKinds, kinds[len(kinds)-len(handshakeKinds):])
}

func TestForcedRestartIsNotPersistedUntilClientCreated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect()
	before := f.storedJSON()

	rejectTx(f.chain)
	_, err := f.handler.Connect(ctx, f.id, "reconnect", true)
	require.ErrorIs(t, err, types.ErrNetwork)
	require.Equal(t, before, f.storedJSON())
	require.Equal(t, types.StageChannelOpen, f.state().Connection.Stage)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect()

	page, err := f.handler.History(ctx, f.id, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, types.OperationConnectionOpenInit, page[0].Type.Kind)
	require.Equal(t, types.OperationConnectionOpenAck, page[1].Type.Kind)
	require.Equal(t, "connect", page[0].RequestID)
	require.NotEmpty(t, page[0].TransactionHash)
	require.Less(t, page[0].ID, page[1].ID)
	require.Empty(t, page[0].PortID, "connection operations carry no port")

	all, err := f.handler.History(ctx, f.id, 0, 0)
	require.NoError(t, err)
	require.Equal(t, types.OperationCreateClient, all[0].Type.Kind)
	require.Empty(t, all[0].PortID)
	require.Equal(t, types.PortID("transfer"), all[len(all)-1].PortID)

	_, err = f.handler.History(ctx, f.id, -1, 0)
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = f.handler.History(ctx, "other-1", 0, 0)
	require.ErrorIs(t, err, types.ErrChainNotFound)
	_, err = f.handler.ChainKeys(ctx, "other-1")
	require.ErrorIs(t, err, types.ErrChainNotFound)
}
