package txbuilder

import (
	"context"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	cmttypes "github.com/cometbft/cometbft/types"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	"github.com/cosmos/gogoproto/proto"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/proof"
	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// SignedTransaction is a transaction ready for broadcast together with the
// chain state the solo machine moves to once it is committed.
type SignedTransaction struct {
	TxBytes []byte
	Msgs    []sdk.Msg
	// NextState is the draft state with every sequence the proofs consumed.
	NextState *types.ChainState
}

// Hash is the CometBFT hash of the transaction.
func (t *SignedTransaction) Hash() string {
	return fmt.Sprintf("%X", cmttypes.Tx(t.TxBytes).Hash())
}

// Builder assembles and signs the transactions of every solo machine
// operation. It never modifies the chain state it is given.
type Builder struct {
	signer provider.Signer
	rpc    provider.RPCClient
	cdc    wire.Codec
	log    *zap.Logger
	now    func() time.Time
	memo   string
}

type Option func(*Builder)

// WithLogger sets the logger used for non-fatal adjustments.
func WithLogger(log *zap.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// WithClock replaces time.Now for proof timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithMemo sets the memo of every transaction.
func WithMemo(memo string) Option {
	return func(b *Builder) { b.memo = memo }
}

func New(signer provider.Signer, rpcClient provider.RPCClient, cdc wire.Codec, opts ...Option) *Builder {
	b := &Builder{
		signer: signer,
		rpc:    rpcClient,
		cdc:    cdc,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) client(state *types.ChainState) *rpc.Client {
	return rpc.ForChain(b.rpc, state.Config)
}

func (b *Builder) cursor(state *types.ChainState, requestID string) *proof.Cursor {
	return proof.NewCursor(b.signer, requestID, state, b.now)
}

func (b *Builder) address(ctx context.Context, chainID types.ChainID) (string, error) {
	addr, err := b.signer.AccountAddress(ctx, chainID)
	if err != nil {
		return "", types.WrapKind(types.ErrSigning, err, "resolving account address for %s", chainID)
	}
	return addr, nil
}

// sign wraps msgs into a transaction signed in SIGN_MODE_DIRECT by the account
// of the solo machine signer.
func (b *Builder) sign(ctx context.Context, state *types.ChainState, requestID string, next *types.ChainState, msgs ...sdk.Msg) (*SignedTransaction, error) {
	for _, msg := range msgs {
		if m, ok := msg.(sdk.HasValidateBasic); ok {
			if err := m.ValidateBasic(); err != nil {
				return nil, types.WrapKind(types.ErrValidation, err, "invalid %s", sdk.MsgTypeURL(msg))
			}
		}
	}

	anys := make([]*codectypes.Any, 0, len(msgs))
	for _, msg := range msgs {
		a, err := wire.ToAny(msg)
		if err != nil {
			return nil, err
		}
		anys = append(anys, a)
	}

	address, err := b.address(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	pubKey, err := b.signer.PublicKey(ctx, state.ID)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "resolving public key for %s", state.ID)
	}
	pubKeyAny, err := wire.ToAny(pubKey)
	if err != nil {
		return nil, err
	}

	account, err := b.client(state).Account(ctx, address)
	if err != nil {
		return nil, err
	}

	fees, err := state.Config.Fee.Coins()
	if err != nil {
		return nil, err
	}

	bodyBytes, err := proto.Marshal(&txtypes.TxBody{Messages: anys, Memo: b.memo})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding tx body")
	}
	authInfoBytes, err := proto.Marshal(&txtypes.AuthInfo{
		SignerInfos: []*txtypes.SignerInfo{{
			PublicKey: pubKeyAny,
			ModeInfo: &txtypes.ModeInfo{
				Sum: &txtypes.ModeInfo_Single_{Single: &txtypes.ModeInfo_Single{Mode: signing.SignMode_SIGN_MODE_DIRECT}},
			},
			Sequence: account.Sequence,
		}},
		Fee: &txtypes.Fee{Amount: fees, GasLimit: state.Config.Fee.GasLimit},
	})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding auth info")
	}

	signDoc, err := proto.Marshal(&txtypes.SignDoc{
		BodyBytes:     bodyBytes,
		AuthInfoBytes: authInfoBytes,
		ChainId:       state.ID.String(),
		AccountNumber: account.AccountNumber,
	})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding sign doc")
	}

	sig, err := b.signer.Sign(ctx, requestID, state.ID, signDoc)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "signing transaction for %s", state.ID)
	}
	if len(sig) == 0 {
		return nil, errorsmod.Wrapf(types.ErrSigning, "signer returned an empty signature for %s", state.ID)
	}

	txBytes, err := proto.Marshal(&txtypes.TxRaw{
		BodyBytes:     bodyBytes,
		AuthInfoBytes: authInfoBytes,
		Signatures:    [][]byte{sig},
	})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding transaction")
	}

	b.log.Debug("Built transaction",
		zap.String("chain_id", state.ID.String()),
		zap.String("request_id", requestID),
		zap.Int("msgs", len(msgs)),
		zap.Uint64("account_sequence", account.Sequence),
		zap.Uint64("solo_sequence", next.Sequence),
	)

	return &SignedTransaction{TxBytes: txBytes, Msgs: msgs, NextState: next}, nil
}
