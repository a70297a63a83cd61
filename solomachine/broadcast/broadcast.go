package broadcast

import (
	"context"
	"errors"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/avast/retry-go/v4"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/types"
)

const errIndexingDisabled = "transaction indexing is disabled"

// Broadcaster submits signed transactions and waits until they are committed.
type Broadcaster struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{log: log}
}

// Broadcast submits tx with broadcast_tx_sync and polls the node until the
// transaction is indexed in a committed block. A transaction rejected by
// CheckTx or failing in DeliverTx is a network error carrying the ABCI code.
func (b *Broadcaster) Broadcast(ctx context.Context, client *rpc.Client, cfg types.ChainConfig, tx []byte) (*coretypes.ResultTx, error) {
	syncRes, err := client.BroadcastTxSync(ctx, tx)
	if err != nil {
		return nil, err
	}
	if syncRes.Code != 0 {
		b.log.Info("Transaction rejected by check tx",
			zap.String("tx_hash", syncRes.Hash.String()),
			zap.String("codespace", syncRes.Codespace),
			zap.Uint32("code", syncRes.Code),
			zap.String("log", syncRes.Log),
		)
		return nil, types.WrapKind(types.ErrNetwork,
			errorsmod.ABCIError(syncRes.Codespace, syncRes.Code, syncRes.Log),
			"transaction %s rejected", syncRes.Hash)
	}

	b.log.Debug("Transaction accepted, waiting for inclusion", zap.String("tx_hash", syncRes.Hash.String()))

	res, err := b.waitForInclusion(ctx, client, cfg, syncRes.Hash)
	if err != nil {
		return nil, err
	}

	if res.TxResult.Code != 0 {
		b.log.Info("Transaction failed to execute",
			zap.String("tx_hash", res.Hash.String()),
			zap.Int64("height", res.Height),
			zap.String("codespace", res.TxResult.Codespace),
			zap.Uint32("code", res.TxResult.Code),
			zap.String("log", res.TxResult.Log),
		)
		return res, types.WrapKind(types.ErrNetwork,
			errorsmod.ABCIError(res.TxResult.Codespace, res.TxResult.Code, res.TxResult.Log),
			"transaction %s failed at height %d", res.Hash, res.Height)
	}

	b.log.Debug("Transaction included",
		zap.String("tx_hash", res.Hash.String()),
		zap.Int64("height", res.Height),
		zap.Int64("gas_used", res.TxResult.GasUsed),
	)
	return res, nil
}

func (b *Broadcaster) waitForInclusion(ctx context.Context, client *rpc.Client, cfg types.ChainConfig, hash []byte) (*coretypes.ResultTx, error) {
	interval := cfg.ConfirmationPollInterval
	if interval <= 0 {
		interval = types.DefaultConfirmationPollInterval
	}
	timeout := cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = types.DefaultConfirmationTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res *coretypes.ResultTx
	err := retry.Do(func() error {
		var err error
		res, err = client.Tx(waitCtx, hash)
		if err != nil && strings.Contains(err.Error(), errIndexingDisabled) {
			return retry.Unrecoverable(err)
		}
		return err
	},
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return res, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, types.WrapKind(types.ErrNetwork, ctx.Err(), "waiting for transaction %X", hash)
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		return nil, errorsmod.Wrapf(types.ErrNetwork, "transaction %X not included after %s", hash, timeout)
	default:
		return nil, types.WrapKind(types.ErrNetwork, err, "querying transaction %X", hash)
	}
}
