package solomachine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"
	cmtjson "github.com/cometbft/cometbft/libs/json"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cosmos/solo-machine/internal/solotest"
	"github.com/cosmos/solo-machine/solomachine"
	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/store"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// dropEvent hides events of one type from the next tx query result that
// carries them.
type dropEvent struct {
	*solotest.Chain

	mu      sync.Mutex
	typ     string
	dropped bool
}

func (d *dropEvent) SendRequest(ctx context.Context, url string, request rpctypes.RPCRequest) (json.RawMessage, error) {
	raw, err := d.Chain.SendRequest(ctx, url, request)
	if err != nil || request.Method != "tx" {
		return raw, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dropped {
		return raw, nil
	}

	var resp rpctypes.RPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Error != nil {
		return raw, err
	}
	var res coretypes.ResultTx
	if err := cmtjson.Unmarshal(resp.Result, &res); err != nil {
		return nil, err
	}
	kept := res.TxResult.Events[:0]
	for _, ev := range res.TxResult.Events {
		if ev.Type == d.typ {
			d.dropped = true
			continue
		}
		kept = append(kept, ev)
	}
	res.TxResult.Events = append([]abci.Event(nil), kept...)
	return json.Marshal(rpctypes.NewRPCSuccessResponse(resp.ID, &res))
}

func TestIncludedTransactionWithUnreadableResult(t *testing.T) {
	ctx := context.Background()
	chain := solotest.NewChain()
	signer := solotest.NewSigner()
	fund(chain, signer.Address(types.ChainID(chain.ID())))

	log := zaptest.NewLogger(t)
	st, err := store.OpenInMemory(wire.MakeCodec(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	handler, err := solomachine.NewHandler(provider.Context{
		Signer:  signer,
		Storage: st,
		RPC:     &dropEvent{Chain: chain, typ: chantypes.EventTypeChannelOpenTry},
		Events:  &solotest.Recorder{},
	}, solomachine.WithLogger(log))
	require.NoError(t, err)

	added, err := handler.AddChain(ctx, chain.Config(), "add-chain")
	require.NoError(t, err)

	_, err = handler.Connect(ctx, added.ID, "connect", false)
	require.Error(t, err)

	// The try was included; its proof sequence is recorded although the
	// channel id could not be read.
	state, err := handler.GetChain(ctx, added.ID)
	require.NoError(t, err)
	require.Equal(t, types.StageConnectionOpen, state.Connection.Stage)
	require.Empty(t, state.Connection.TendermintChannelID)
	sequence, _, _, ok := chain.SoloClient(state.Connection.SoloMachineClientID.String())
	require.True(t, ok)
	require.Equal(t, sequence, state.Sequence)

	ops, err := handler.History(ctx, added.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, types.OperationChannelOpenTry, ops[len(ops)-1].Type.Kind)

	state, err = handler.Connect(ctx, added.ID, "connect-again", false)
	require.NoError(t, err)
	require.Equal(t, types.StageChannelOpen, state.Connection.Stage)
	sequence, _, _, _ = chain.SoloClient(state.Connection.SoloMachineClientID.String())
	require.Equal(t, sequence, state.Sequence)
}
