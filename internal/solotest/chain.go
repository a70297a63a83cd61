package solotest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/cometbft/cometbft/crypto/ed25519"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtjson "github.com/cometbft/cometbft/libs/json"
	"github.com/cometbft/cometbft/p2p"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"
	cmttypes "github.com/cometbft/cometbft/types"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	stakingtypes "github.com/cosmos/cosmos-sdk/x/staking/types"
	"github.com/cosmos/gogoproto/proto"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

var _ provider.RPCClient = (*Chain)(nil)

const (
	// DefaultChainID is the chain id of a Chain built without options.
	DefaultChainID = "testchain-1"
	// DefaultUnbondingPeriod is the staking unbonding time the chain reports.
	DefaultUnbondingPeriod = 21 * 24 * time.Hour

	gasUsed = 80000
)

type abciFailure struct {
	code uint32
	log  string
}

// Chain is an in-process CometBFT node running the parts of the IBC, bank and
// auth modules the solo machine talks to. It answers JSON-RPC requests the
// way a real node does and verifies every transaction and solo machine proof.
type Chain struct {
	mu sync.Mutex

	id        string
	nodeID    string
	prefix    string
	unbonding time.Duration
	cdc       wire.Codec
	genesis   time.Time

	height   int64
	headers  map[int64]*cmttypes.Header
	accounts map[string]*authtypes.BaseAccount
	ledger   *ledger

	txs     map[string]*coretypes.ResultTx
	delays  map[string]int
	nextID  atomic.Int64
	calls   map[string]int
	faults  map[string][]error
	reject  *abciFailure
	fail    *abciFailure
	hold    bool
	noIndex bool
	delay   int
	ackErr  error
}

type ChainOption func(*Chain)

// WithChainID sets the chain id.
func WithChainID(id string) ChainOption {
	return func(c *Chain) { c.id = id }
}

// WithUnbondingPeriod sets the unbonding time of the staking module.
func WithUnbondingPeriod(d time.Duration) ChainOption {
	return func(c *Chain) { c.unbonding = d }
}

// WithInclusionDelay makes every transaction invisible to the tx query for
// the first n polls.
func WithInclusionDelay(n int) ChainOption {
	return func(c *Chain) { c.delay = n }
}

// NewChain starts a chain at height 5.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{
		id:        DefaultChainID,
		nodeID:    "0f4c2bd2a4ab4e1a5c0b0c8b3f9a6d8e7c6b5a41",
		prefix:    sdk.Bech32MainPrefix,
		unbonding: DefaultUnbondingPeriod,
		cdc:       wire.MakeCodec(),
		genesis:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		headers:   make(map[int64]*cmttypes.Header),
		accounts:  make(map[string]*authtypes.BaseAccount),
		ledger:    newLedger(),
		txs:       make(map[string]*coretypes.ResultTx),
		delays:    make(map[string]int),
		calls:     make(map[string]int),
		faults:    make(map[string][]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := 0; i < 5; i++ {
		c.commitBlock()
	}
	return c
}

// ID is the chain id.
func (c *Chain) ID() string { return c.id }

// NodeID is the id the node reports in its status.
func (c *Chain) NodeID() string { return c.nodeID }

// Prefix is the bech32 account prefix.
func (c *Chain) Prefix() string { return c.prefix }

// Config returns a chain config pointing at the chain with short polling
// intervals.
func (c *Chain) Config() types.ChainConfig {
	cfg := types.DefaultChainConfig()
	cfg.RPCAddr = "http://" + c.id + ":26657"
	cfg.AccountPrefix = c.prefix
	cfg.RPCTimeout = 5 * time.Second
	cfg.ConfirmationPollInterval = time.Millisecond
	cfg.ConfirmationTimeout = 2 * time.Second
	return cfg
}

// Height is the latest block height.
func (c *Chain) Height() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Header returns the header at height.
func (c *Chain) Header(height int64) *cmttypes.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[height]
}

// AdvanceBlocks commits n empty blocks.
func (c *Chain) AdvanceBlocks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.commitBlock()
	}
}

// Fund creates the account of address if needed and credits coins to it.
func (c *Chain) Fund(address string, coins sdk.Coins) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(address)
	c.ledger.balances[address] = c.ledger.balances[address].Add(coins...)
}

// Balance returns the balance of address in denom.
func (c *Chain) Balance(address, denom string) sdk.Coin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sdk.NewCoin(denom, c.ledger.balances[address].AmountOf(denom))
}

// Calls returns how many requests of method the chain served.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// FailNext makes the next request of method fail with err before reaching
// the node.
func (c *Chain) FailNext(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[method] = append(c.faults[method], err)
}

// RejectNextTx makes CheckTx reject the next transaction.
func (c *Chain) RejectNextTx(code uint32, log string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = &abciFailure{code: code, log: log}
}

// FailNextTx makes the next accepted transaction fail during execution.
func (c *Chain) FailNextTx(code uint32, log string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = &abciFailure{code: code, log: log}
}

// FailNextReceive makes the application write an error acknowledgement for
// the next packet it receives.
func (c *Chain) FailNextReceive(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackErr = err
}

// HoldTxs keeps accepted transactions out of blocks until released.
func (c *Chain) HoldTxs(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = hold
}

// DisableIndexing makes tx queries fail the way a node without an indexer does.
func (c *Chain) DisableIndexing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noIndex = true
}

func (c *Chain) NextID() int {
	return int(c.nextID.Add(1))
}

func (c *Chain) SendRequest(ctx context.Context, _ string, request rpctypes.RPCRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[request.Method]++
	if faults := c.faults[request.Method]; len(faults) > 0 {
		c.faults[request.Method] = faults[1:]
		return nil, faults[0]
	}

	result, err := c.handle(request)
	var resp rpctypes.RPCResponse
	if err != nil {
		resp = rpctypes.RPCInternalError(request.ID, err)
	} else {
		resp = rpctypes.NewRPCSuccessResponse(request.ID, result)
	}
	return json.Marshal(resp)
}

type requestParams struct {
	Height *int64            `json:"height,omitempty"`
	Path   string            `json:"path,omitempty"`
	Data   cmtbytes.HexBytes `json:"data,omitempty"`
	Tx     cmttypes.Tx       `json:"tx,omitempty"`
	Hash   []byte            `json:"hash,omitempty"`
}

func (c *Chain) handle(request rpctypes.RPCRequest) (interface{}, error) {
	var params requestParams
	if len(request.Params) > 0 {
		if err := cmtjson.Unmarshal(request.Params, &params); err != nil {
			return nil, fmt.Errorf("error converting json params to arguments: %w", err)
		}
	}

	switch request.Method {
	case "status":
		return c.status(), nil
	case "commit":
		return c.commit(params.Height)
	case "abci_query":
		return c.abciQuery(params.Path, params.Data), nil
	case "broadcast_tx_sync":
		return c.broadcastTxSync(params.Tx), nil
	case "tx":
		return c.tx(params.Hash)
	default:
		return nil, fmt.Errorf("method %s not found", request.Method)
	}
}

func (c *Chain) status() *coretypes.ResultStatus {
	header := c.headers[c.height]
	return &coretypes.ResultStatus{
		NodeInfo: p2p.DefaultNodeInfo{
			DefaultNodeID: p2p.ID(c.nodeID),
			Network:       c.id,
			Moniker:       "solotest",
		},
		SyncInfo: coretypes.SyncInfo{
			LatestBlockHash:     header.Hash(),
			LatestAppHash:       header.AppHash,
			LatestBlockHeight:   c.height,
			LatestBlockTime:     header.Time,
			EarliestBlockHeight: 1,
			EarliestBlockTime:   c.genesis,
		},
		ValidatorInfo: coretypes.ValidatorInfo{
			PubKey:      ed25519.GenPrivKeyFromSecret([]byte(c.id)).PubKey(),
			VotingPower: 10,
		},
	}
}

func (c *Chain) commit(height *int64) (*coretypes.ResultCommit, error) {
	h := c.height
	if height != nil {
		h = *height
	}
	header, ok := c.headers[h]
	if !ok {
		return nil, fmt.Errorf("height %d must be less than or equal to the current blockchain height %d", h, c.height)
	}
	commit := &cmttypes.Commit{
		Height:  h,
		BlockID: cmttypes.BlockID{Hash: header.Hash()},
	}
	return coretypes.NewResultCommit(header, commit, true), nil
}

func (c *Chain) abciQuery(path string, data []byte) *coretypes.ResultABCIQuery {
	res := &coretypes.ResultABCIQuery{}
	res.Response.Height = c.height

	var (
		resp proto.Message
		err  error
	)
	switch path {
	case "/cosmos.auth.v1beta1.Query/Account":
		resp, err = c.queryAccount(data)
	case "/cosmos.staking.v1beta1.Query/Params":
		params := stakingtypes.DefaultParams()
		params.UnbondingTime = c.unbonding
		resp = &stakingtypes.QueryParamsResponse{Params: params}
	default:
		err = errorsmod.Wrapf(sdkerrors.ErrUnknownRequest, "unknown query path %s", path)
	}
	if err == nil {
		res.Response.Value, err = proto.Marshal(resp)
	}
	if err != nil {
		res.Response.Codespace, res.Response.Code, res.Response.Log = errorsmod.ABCIInfo(err, false)
	}
	return res
}

func (c *Chain) queryAccount(data []byte) (proto.Message, error) {
	var req authtypes.QueryAccountRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		return nil, errorsmod.Wrap(sdkerrors.ErrInvalidRequest, err.Error())
	}
	acc, ok := c.accounts[req.Address]
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrNotFound, "account %s not found", req.Address)
	}
	accAny, err := wire.ToAny(acc)
	if err != nil {
		return nil, err
	}
	return &authtypes.QueryAccountResponse{Account: accAny}, nil
}

func (c *Chain) broadcastTxSync(tx cmttypes.Tx) *coretypes.ResultBroadcastTx {
	res := &coretypes.ResultBroadcastTx{Hash: tx.Hash()}

	if f := c.reject; f != nil {
		c.reject = nil
		res.Codespace, res.Code, res.Log = "sdk", f.code, f.log
		return res
	}

	msgs, signer, err := c.checkTx(tx)
	if err != nil {
		res.Codespace, res.Code, res.Log = errorsmod.ABCIInfo(err, false)
		return res
	}
	if c.hold {
		return res
	}

	c.commitBlock()
	result := c.deliverTx(msgs, signer)
	hash := tx.Hash()
	c.txs[hex.EncodeToString(hash)] = &coretypes.ResultTx{
		Hash:     hash,
		Height:   c.height,
		TxResult: result,
		Tx:       tx,
	}
	c.delays[hex.EncodeToString(hash)] = c.delay
	return res
}

func (c *Chain) tx(hash []byte) (*coretypes.ResultTx, error) {
	if c.noIndex {
		return nil, fmt.Errorf("transaction indexing is disabled")
	}
	key := hex.EncodeToString(hash)
	res, ok := c.txs[key]
	if !ok || c.delays[key] > 0 {
		c.delays[key]--
		return nil, fmt.Errorf("tx (%X) not found", hash)
	}
	return res, nil
}

// checkTx decodes tx, verifies its single signature and charges the fee.
func (c *Chain) checkTx(tx []byte) ([]sdk.Msg, string, error) {
	var raw txtypes.TxRaw
	if err := proto.Unmarshal(tx, &raw); err != nil {
		return nil, "", errorsmod.Wrap(sdkerrors.ErrTxDecode, err.Error())
	}
	var body txtypes.TxBody
	if err := proto.Unmarshal(raw.BodyBytes, &body); err != nil {
		return nil, "", errorsmod.Wrap(sdkerrors.ErrTxDecode, err.Error())
	}
	var authInfo txtypes.AuthInfo
	if err := proto.Unmarshal(raw.AuthInfoBytes, &authInfo); err != nil {
		return nil, "", errorsmod.Wrap(sdkerrors.ErrTxDecode, err.Error())
	}
	if len(authInfo.SignerInfos) != 1 || len(raw.Signatures) != 1 {
		return nil, "", errorsmod.Wrap(sdkerrors.ErrUnauthorized, "exactly one signer expected")
	}
	if authInfo.Fee == nil {
		return nil, "", errorsmod.Wrap(sdkerrors.ErrInsufficientFee, "no fee")
	}

	signerInfo := authInfo.SignerInfos[0]
	var pubKey cryptotypes.PubKey
	if err := c.cdc.InterfaceRegistry.UnpackAny(signerInfo.PublicKey, &pubKey); err != nil {
		return nil, "", errorsmod.Wrap(sdkerrors.ErrInvalidPubKey, err.Error())
	}
	address, err := sdk.Bech32ifyAddressBytes(c.prefix, pubKey.Address())
	if err != nil {
		return nil, "", err
	}
	acc, ok := c.accounts[address]
	if !ok {
		return nil, "", errorsmod.Wrapf(sdkerrors.ErrUnknownAddress, "account %s does not exist", address)
	}
	if signerInfo.Sequence != acc.Sequence {
		return nil, "", errorsmod.Wrapf(sdkerrors.ErrWrongSequence, "account sequence mismatch, expected %d, got %d", acc.Sequence, signerInfo.Sequence)
	}

	signDoc, err := proto.Marshal(&txtypes.SignDoc{
		BodyBytes:     raw.BodyBytes,
		AuthInfoBytes: raw.AuthInfoBytes,
		ChainId:       c.id,
		AccountNumber: acc.AccountNumber,
	})
	if err != nil {
		return nil, "", err
	}
	if !pubKey.VerifySignature(signDoc, raw.Signatures[0]) {
		return nil, "", errorsmod.Wrap(sdkerrors.ErrUnauthorized, "signature verification failed")
	}

	fee := sdk.NewCoins(authInfo.Fee.Amount...)
	balance := c.ledger.balances[address]
	remaining, negative := balance.SafeSub(fee...)
	if negative {
		return nil, "", errorsmod.Wrapf(sdkerrors.ErrInsufficientFunds, "%s is smaller than %s", balance, fee)
	}

	msgs := make([]sdk.Msg, 0, len(body.Messages))
	for _, a := range body.Messages {
		var msg sdk.Msg
		if err := c.cdc.InterfaceRegistry.UnpackAny(a, &msg); err != nil {
			return nil, "", errorsmod.Wrap(sdkerrors.ErrTxDecode, err.Error())
		}
		msgs = append(msgs, msg)
	}

	c.ledger.balances[address] = remaining
	acc.Sequence++
	return msgs, address, nil
}

func (c *Chain) deliverTx(msgs []sdk.Msg, signer string) abci.ExecTxResult {
	if f := c.fail; f != nil {
		c.fail = nil
		return abci.ExecTxResult{Codespace: "sdk", Code: f.code, Log: f.log, GasUsed: gasUsed}
	}

	next := c.ledger.clone()
	var events []abci.Event
	for _, msg := range msgs {
		evs, err := c.execute(next, msg, signer)
		if err != nil {
			codespace, code, log := errorsmod.ABCIInfo(err, false)
			return abci.ExecTxResult{Codespace: codespace, Code: code, Log: log, GasUsed: gasUsed}
		}
		events = append(events, evs...)
	}
	c.ledger = next
	return abci.ExecTxResult{Events: events, GasUsed: gasUsed, GasWanted: gasUsed}
}

func (c *Chain) account(address string) *authtypes.BaseAccount {
	acc, ok := c.accounts[address]
	if !ok {
		acc = &authtypes.BaseAccount{Address: address, AccountNumber: uint64(len(c.accounts) + 1)}
		c.accounts[address] = acc
	}
	return acc
}

func (c *Chain) commitBlock() {
	c.height++
	h := make([]byte, 8)
	binary.BigEndian.PutUint64(h, uint64(c.height))
	appHash := sha256.Sum256(append([]byte("app"), h...))
	valHash := sha256.Sum256([]byte("validators/" + c.id))
	c.headers[c.height] = &cmttypes.Header{
		ChainID:            c.id,
		Height:             c.height,
		Time:               c.genesis.Add(time.Duration(c.height) * 5 * time.Second),
		AppHash:            appHash[:],
		ValidatorsHash:     valHash[:],
		NextValidatorsHash: valHash[:],
		ProposerAddress:    ed25519.GenPrivKeyFromSecret([]byte(c.id)).PubKey().Address(),
	}
}

func attrs(kv ...string) []abci.EventAttribute {
	out := make([]abci.EventAttribute, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, abci.EventAttribute{Key: kv[i], Value: kv[i+1], Index: true})
	}
	return out
}

func event(typ string, kv ...string) abci.Event {
	return abci.Event{Type: typ, Attributes: attrs(kv...)}
}

func chanKey(port, channel string) string {
	return port + "/" + channel
}

func packetKey(port, channel string, sequence uint64) string {
	return fmt.Sprintf("%s/%d", chanKey(port, channel), sequence)
}

func isVoucher(denom string) bool {
	return strings.HasPrefix(denom, "ibc/")
}
