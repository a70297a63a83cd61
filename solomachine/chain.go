package solomachine

import (
	"context"
	"encoding/hex"

	errorsmod "cosmossdk.io/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// statusConcurrency bounds the chains queried at once by Statuses.
const statusConcurrency = 8

// AddChain registers the chain served at cfg.RPCAddr. The chain id and node
// id are read from the node; the signer's current key becomes the first
// entry of the chain's key history.
func (h *Handler) AddChain(ctx context.Context, cfg types.ChainConfig, requestID string) (*types.ChainState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	status, err := h.rpcClientFor(cfg).Status(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := types.NewChainID(status.NodeInfo.Network)
	if err != nil {
		return nil, err
	}

	release, err := h.lock(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()

	pubKey, err := h.ctx.Signer.PublicKey(ctx, chainID)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "resolving public key for %s", chainID)
	}
	address, err := h.ctx.Signer.AccountAddress(ctx, chainID)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "resolving account address for %s", chainID)
	}

	now := h.now()
	state := types.NewChainState(chainID, string(status.NodeInfo.DefaultNodeID), cfg, now)
	key := &types.ChainKey{ChainID: chainID, PublicKey: pubKey, CreatedAt: now}
	err = provider.Update(ctx, h.ctx.Storage, []provider.AccessPoint{provider.AccessChainStates, provider.AccessChainKeys},
		func(tx provider.Transaction) error {
			if err := tx.AddChainState(ctx, state); err != nil {
				return err
			}
			return tx.AddChainKey(ctx, key)
		})
	if err != nil {
		return nil, err
	}

	h.log.Info("Chain added",
		zap.String("chain_id", chainID.String()),
		zap.String("node_id", state.NodeID),
		zap.String("rpc_addr", cfg.RPCAddr),
		zap.String("request_id", requestID),
	)
	h.notifier.Notify(ctx, types.EventChainAdded, chainID, requestID, map[string]string{
		types.AttributeAddress:   address,
		types.AttributePublicKey: hex.EncodeToString(pubKey.Bytes()),
	})
	return state, nil
}

// GetChain returns the committed state of chainID.
func (h *Handler) GetChain(ctx context.Context, chainID types.ChainID) (*types.ChainState, error) {
	return h.ctx.Storage.GetChainState(ctx, chainID)
}

// ListChains returns the committed state of every chain.
func (h *Handler) ListChains(ctx context.Context) ([]*types.ChainState, error) {
	return h.ctx.Storage.ListChainStates(ctx)
}

// ChainKeys returns the key history of chainID, oldest first.
func (h *Handler) ChainKeys(ctx context.Context, chainID types.ChainID) ([]*types.ChainKey, error) {
	if _, err := h.ctx.Storage.GetChainState(ctx, chainID); err != nil {
		return nil, err
	}
	return h.ctx.Storage.GetChainKeys(ctx, chainID)
}

// History returns the operations committed for chainID, oldest first. A zero
// limit returns all of them.
func (h *Handler) History(ctx context.Context, chainID types.ChainID, limit, offset int) ([]*types.Operation, error) {
	if limit < 0 || offset < 0 {
		return nil, errorsmod.Wrapf(types.ErrValidation, "invalid page limit %d offset %d", limit, offset)
	}
	if _, err := h.ctx.Storage.GetChainState(ctx, chainID); err != nil {
		return nil, err
	}
	return h.ctx.Storage.GetOperations(ctx, chainID, limit, offset)
}

// ChainStatus is a chain state together with what its node reports now.
type ChainStatus struct {
	State        *types.ChainState
	LatestHeight int64
	// Err is set when the node could not be queried.
	Err error
}

// Statuses queries the latest height of every chain in parallel. A chain
// whose node is unreachable is reported with Err set.
func (h *Handler) Statuses(ctx context.Context) ([]ChainStatus, error) {
	states, err := h.ListChains(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ChainStatus, len(states))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, state := range states {
		i, state := i, state
		out[i].State = state
		g.Go(func() error {
			height, err := h.rpcClient(state).LatestHeight(gctx)
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].LatestHeight = height
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, types.WrapKind(types.ErrNetwork, err, "querying chain statuses")
	}
	return out, nil
}
