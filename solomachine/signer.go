package solomachine

import (
	"context"
	"encoding/hex"

	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/txbuilder"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// UpdateSigner rotates the solo machine key of chainID to newPubKey and
// appends it to the chain's key history. The rotation is signed by the
// current key; once it returns, the Signer must sign for chainID with the new
// key.
func (h *Handler) UpdateSigner(ctx context.Context, chainID types.ChainID, newPubKey cryptotypes.PubKey, requestID string) (*types.ChainKey, error) {
	state, release, err := h.load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer release()

	key := &types.ChainKey{ChainID: chainID, PublicKey: newPubKey}
	c, err := h.execute(ctx, state, requestID, step{
		op: types.OperationType{Kind: types.OperationUpdateSigner},
		build: func(ctx context.Context, state *types.ChainState) (*txbuilder.SignedTransaction, error) {
			return h.builder.BuildUpdateSigner(ctx, state, newPubKey, requestID)
		},
		keys: []*types.ChainKey{key},
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("Solo machine key rotated",
		zap.String("chain_id", chainID.String()),
		zap.String("request_id", requestID),
		zap.Uint64("key_id", key.ID),
	)
	h.notifier.Notify(ctx, types.EventSignerUpdated, chainID, requestID, c.attributes(map[string]string{
		types.AttributeClientID:  state.Connection.SoloMachineClientID.String(),
		types.AttributePublicKey: hex.EncodeToString(newPubKey.Bytes()),
	}))
	return key, nil
}
