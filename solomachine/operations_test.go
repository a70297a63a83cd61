package solomachine_test

import (
	"context"
	"encoding/hex"
	"strconv"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/stretchr/testify/require"

	"github.com/cosmos/solo-machine/internal/solotest"
	"github.com/cosmos/solo-machine/solomachine"
	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
)

func gold(amount int64) solomachine.TransferRequest {
	return solomachine.TransferRequest{Denom: "gld", Amount: sdkmath.NewInt(amount)}
}

func TestMintAndBurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	state := f.connect()
	address := f.signer.Address(f.id)
	voucher := txbuilder.VoucherDenom(state, "gld")

	op, err := f.handler.Mint(ctx, f.id, gold(100), "mint-1")
	require.NoError(t, err)
	require.Equal(t, types.OperationMint, op.Type.Kind)
	require.Equal(t, address, op.Type.Address)
	require.Equal(t, "100", op.Type.Amount)
	require.Equal(t, "mint-1", op.RequestID)
	require.Equal(t, state.Config.PortID, op.PortID)
	require.Equal(t, sdkmath.NewInt(100), f.chain.Balance(address, voucher).Amount)

	minted, ok := f.events.Last(types.EventTokensMinted)
	require.True(t, ok)
	require.Equal(t, "1", minted.Attributes[types.AttributeSequence])
	require.Equal(t, op.TransactionHash, minted.Attributes[types.AttributeTxHash])
	require.NotContains(t, minted.Attributes, types.AttributeError)
	require.Equal(t, uint64(2), f.state().PacketSequence)

	op, err = f.handler.Burn(ctx, f.id, gold(40), "burn-1")
	require.NoError(t, err)
	require.Equal(t, types.OperationBurn, op.Type.Kind)
	require.Equal(t, sdkmath.NewInt(60), f.chain.Balance(address, voucher).Amount)

	burnt, ok := f.events.Last(types.EventTokensBurnt)
	require.True(t, ok)
	seq, err := strconv.ParseUint(burnt.Attributes[types.AttributeSequence], 10, 64)
	require.NoError(t, err)
	_, pending := f.chain.PacketCommitment("transfer", state.Connection.TendermintChannelID.String(), seq)
	require.False(t, pending, "burn packet should be acknowledged")

	_, ok = f.events.Last(types.EventPacketAcknowledged)
	require.True(t, ok)
	kinds := f.kinds()
	require.Equal(t, []types.OperationKind{types.OperationMint, types.OperationBurn, types.OperationAcknowledge}, kinds[len(kinds)-3:])
	f.requireInSync(f.state())
}

func TestTransferRequiresOpenChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.handler.Mint(ctx, f.id, gold(1), "")
	require.ErrorIs(t, err, types.ErrPrecondition)
	_, err = f.handler.Burn(ctx, f.id, gold(1), "")
	require.ErrorIs(t, err, types.ErrPrecondition)
	_, err = f.handler.Mint(ctx, "other-1", gold(1), "")
	require.ErrorIs(t, err, types.ErrChainNotFound)
	require.Zero(t, f.chain.Calls("broadcast_tx_sync"))
}

func TestMintErrorAcknowledgement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	state := f.connect()
	voucher := txbuilder.VoucherDenom(state, "gld")

	f.chain.FailNextReceive(sdkerrors.ErrInsufficientFunds)
	op, err := f.handler.Mint(ctx, f.id, gold(5), "mint")
	require.ErrorIs(t, err, types.ErrValidation)
	require.False(t, types.IsRetryable(err))
	require.NotNil(t, op, "the packet consumed sequences and is recorded")
	require.True(t, f.chain.Balance(f.signer.Address(f.id), voucher).IsZero())

	minted, ok := f.events.Last(types.EventTokensMinted)
	require.True(t, ok)
	require.NotEmpty(t, minted.Attributes[types.AttributeError])

	after := f.state()
	require.Equal(t, uint64(2), after.PacketSequence)
	f.requireInSync(after)

	_, err = f.handler.Mint(ctx, f.id, gold(5), "mint-again")
	require.NoError(t, err)
	minted, _ = f.events.Last(types.EventTokensMinted)
	require.Equal(t, "2", minted.Attributes[types.AttributeSequence])
	require.Equal(t, sdkmath.NewInt(5), f.chain.Balance(f.signer.Address(f.id), voucher).Amount)
}

func TestAcknowledgeBurnAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	state := f.connect()
	_, err := f.handler.Mint(ctx, f.id, gold(100), "mint")
	require.NoError(t, err)

	f.events.Once(types.EventTokensBurnt, func(types.Event) { rejectTx(f.chain) })
	burn, err := f.handler.Burn(ctx, f.id, gold(40), "burn")
	require.ErrorIs(t, err, types.ErrNetwork)
	require.NotNil(t, burn)

	channel := state.Connection.TendermintChannelID.String()
	_, pending := f.chain.PacketCommitment("transfer", channel, 1)
	require.True(t, pending)

	ack, err := f.handler.AcknowledgeBurn(ctx, f.id, burn.TransactionHash, "ack")
	require.NoError(t, err)
	require.Equal(t, types.OperationAcknowledge, ack.Type.Kind)
	_, pending = f.chain.PacketCommitment("transfer", channel, 1)
	require.False(t, pending)

	_, err = f.handler.AcknowledgeBurn(ctx, f.id, "not-a-hash", "ack")
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestUpdateSigner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect()

	current, err := f.signer.PublicKey(ctx, f.id)
	require.NoError(t, err)
	_, err = f.handler.UpdateSigner(ctx, f.id, current, "rotate")
	require.ErrorIs(t, err, types.ErrValidation)

	newKey := secp256k1.GenPrivKey()
	key, err := f.handler.UpdateSigner(ctx, f.id, newKey.PubKey(), "rotate")
	require.NoError(t, err)
	require.True(t, key.PublicKey.Equals(newKey.PubKey()))

	keys, err := f.handler.ChainKeys(ctx, f.id)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.True(t, keys[0].PublicKey.Equals(current))
	require.True(t, keys[1].PublicKey.Equals(newKey.PubKey()))
	require.Equal(t, key.ID, keys[1].ID)

	_, _, onChain, ok := f.chain.SoloClient(f.state().Connection.SoloMachineClientID.String())
	require.True(t, ok)
	require.True(t, onChain.Equals(newKey.PubKey()))

	updated, ok := f.events.Last(types.EventSignerUpdated)
	require.True(t, ok)
	require.Equal(t, hex.EncodeToString(newKey.PubKey().Bytes()), updated.Attributes[types.AttributePublicKey])

	// Proofs signed by the retired key no longer verify.
	_, err = f.handler.Mint(ctx, f.id, gold(1), "mint-old-key")
	require.ErrorIs(t, err, types.ErrNetwork)

	f.signer.SetChainKey(f.id, newKey, "")
	fund(f.chain, f.signer.Address(f.id))
	_, err = f.handler.Mint(ctx, f.id, gold(1), "mint-new-key")
	require.NoError(t, err)
	f.requireInSync(f.state())
}

func TestInterchainAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect()

	ica, err := f.handler.OpenICAChannel(ctx, f.id, "owner", "ica-open")
	require.NoError(t, err)
	require.True(t, ica.Open)
	require.Equal(t, "icacontroller-owner", ica.ControllerPortID.String())
	address, ok := f.chain.ICAAddress(ica.TendermintChannelID.String())
	require.True(t, ok)
	require.Equal(t, address, ica.Address)

	opened, ok := f.events.Last(types.EventICAChannelOpened)
	require.True(t, ok)
	require.Equal(t, address, opened.Attributes[types.AttributeAddress])

	broadcasts := f.chain.Calls("broadcast_tx_sync")
	again, err := f.handler.OpenICAChannel(ctx, f.id, "owner", "ica-open")
	require.NoError(t, err)
	require.Equal(t, ica, again)
	require.Equal(t, broadcasts, f.chain.Calls("broadcast_tx_sync"))

	_, err = f.handler.OpenICAChannel(ctx, f.id, "someone-else", "ica-open")
	require.ErrorIs(t, err, types.ErrPrecondition)

	f.chain.Fund(address, sdk.NewCoins(sdk.NewInt64Coin("stake", 500)))
	recipient := f.signer.Address(f.id)
	send := banktypes.NewMsgSend(sdk.MustAccAddressFromBech32(address), sdk.MustAccAddressFromBech32(recipient),
		sdk.NewCoins(sdk.NewInt64Coin("stake", 200)))
	op, err := f.handler.SendICA(ctx, f.id, []sdk.Msg{send}, "", "ica-send")
	require.NoError(t, err)
	require.Equal(t, types.OperationICASend, op.Type.Kind)
	require.Equal(t, ica.ControllerPortID, op.PortID)
	require.Equal(t, sdkmath.NewInt(300), f.chain.Balance(address, "stake").Amount)
	require.Equal(t, uint64(2), f.state().ICA.PacketSequence)

	sent, ok := f.events.Last(types.EventICAPacketSent)
	require.True(t, ok)
	require.Equal(t, "1", sent.Attributes[types.AttributeSequence])
	f.requireInSync(f.state())
}

func TestInterchainAccountResumesAfterTry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect()

	f.events.Once(types.EventChannelOpenTry, func(types.Event) { failTx(f.chain) })
	_, err := f.handler.OpenICAChannel(ctx, f.id, "owner", "ica-open")
	require.ErrorIs(t, err, types.ErrNetwork)

	half := f.state().ICA
	require.NotNil(t, half)
	require.False(t, half.Open)
	require.NotEmpty(t, half.TendermintChannelID)

	ica, err := f.handler.OpenICAChannel(ctx, f.id, "owner", "ica-open")
	require.NoError(t, err)
	require.True(t, ica.Open)
	require.Equal(t, half.TendermintChannelID, ica.TendermintChannelID)

	kinds := f.kinds()
	require.Equal(t, []types.OperationKind{types.OperationICAChannelOpenTry, types.OperationICAChannelOpenConfirm}, kinds[len(kinds)-2:])
}

func TestSendICARequiresChannel(t *testing.T) {
	f := newFixture(t)
	f.connect()

	_, err := f.handler.SendICA(context.Background(), f.id, nil, "", "")
	require.ErrorIs(t, err, types.ErrPrecondition)
}

func TestOperationsOnOneChainAreSerialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	state := f.connect()

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.handler.Mint(ctx, f.id, gold(10), "mint-"+strconv.Itoa(i))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	after := f.state()
	require.Equal(t, uint64(workers+1), after.PacketSequence)
	require.Equal(t, sdkmath.NewInt(10*workers), f.chain.Balance(f.signer.Address(f.id), txbuilder.VoucherDenom(state, "gld")).Amount)
	f.requireInSync(after)

	sequences := make(map[string]bool)
	for _, ev := range f.events.Events() {
		if ev.Type == types.EventTokensMinted {
			sequences[ev.Attributes[types.AttributeSequence]] = true
		}
	}
	require.Len(t, sequences, workers)
}

func TestChainsProceedIndependently(t *testing.T) {
	ctx := context.Background()
	a := solotest.NewChain(solotest.WithChainID("chain-a"))
	b := solotest.NewChain(solotest.WithChainID("chain-b"))
	f := newFixture(t, a, b)

	a.HoldTxs(true)
	done := make(chan error, 1)
	go func() {
		_, err := f.handler.Connect(ctx, "chain-a", "connect-a", false)
		done <- err
	}()
	require.Eventually(t, func() bool { return a.Calls("tx") > 0 }, time.Second, time.Millisecond)

	state, err := f.handler.Connect(ctx, "chain-b", "connect-b", false)
	require.NoError(t, err)
	require.Equal(t, types.StageChannelOpen, state.Connection.Stage)

	select {
	case err := <-done:
		t.Fatalf("chain-a finished while its transaction was held: %v", err)
	default:
	}

	// A second operation on chain-a waits for the first and gives up with
	// its context.
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.handler.Mint(waitCtx, "chain-a", gold(1), "mint-a")
	require.ErrorIs(t, err, types.ErrPrecondition)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.ErrorIs(t, <-done, types.ErrNetwork)
	stateA, err := f.handler.GetChain(ctx, "chain-a")
	require.NoError(t, err)
	require.Equal(t, types.StageUninitialized, stateA.Connection.Stage)
}

func TestStatuses(t *testing.T) {
	a := solotest.NewChain(solotest.WithChainID("chain-a"))
	b := solotest.NewChain(solotest.WithChainID("chain-b"))
	f := newFixture(t, a, b)

	b.FailNext("status", context.DeadlineExceeded)
	statuses, err := f.handler.Statuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := make(map[types.ChainID]solomachine.ChainStatus)
	for _, s := range statuses {
		byID[s.State.ID] = s
	}
	require.NoError(t, byID["chain-a"].Err)
	require.Equal(t, a.Height(), byID["chain-a"].LatestHeight)
	require.ErrorIs(t, byID["chain-b"].Err, types.ErrNetwork)
}
