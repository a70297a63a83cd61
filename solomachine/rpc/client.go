package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/cometbft/cometbft/libs/bytes"
	cmtjson "github.com/cometbft/cometbft/libs/json"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"
	cmttypes "github.com/cometbft/cometbft/types"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// Client speaks the CometBFT RPC methods the solo machine needs over the
// RPCClient capability. Every call is bounded by the configured timeout.
type Client struct {
	rpc     provider.RPCClient
	url     string
	timeout time.Duration
}

// NewClient returns a client for the node at url.
func NewClient(rpc provider.RPCClient, url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = types.DefaultRPCTimeout
	}
	return &Client{rpc: rpc, url: url, timeout: timeout}
}

// ForChain returns a client for the node configured for a chain.
func ForChain(rpc provider.RPCClient, cfg types.ChainConfig) *Client {
	return NewClient(rpc, cfg.RPCAddr, cfg.RPCTimeout)
}

func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := rpctypes.MapToRequest(rpctypes.JSONRPCIntID(c.rpc.NextID()), method, params)
	if err != nil {
		return types.WrapKind(types.ErrSerialization, err, "encoding %s request", method)
	}

	raw, err := c.rpc.SendRequest(ctx, c.url, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.WrapKind(types.ErrNetwork, err, "%s timed out after %s", method, c.timeout)
		}
		return types.WrapKind(types.ErrNetwork, err, "%s request to %s", method, c.url)
	}

	var resp rpctypes.RPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return types.WrapKind(types.ErrSerialization, err, "decoding %s response", method)
	}
	if resp.Error != nil {
		return types.WrapKind(types.ErrNetwork, resp.Error, "%s failed", method)
	}
	if err := cmtjson.Unmarshal(resp.Result, result); err != nil {
		return types.WrapKind(types.ErrSerialization, err, "decoding %s result", method)
	}
	return nil
}

// Status returns the node status.
func (c *Client) Status(ctx context.Context) (*coretypes.ResultStatus, error) {
	result := new(coretypes.ResultStatus)
	if err := c.call(ctx, "status", map[string]interface{}{}, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Commit returns the signed header at height, or the latest one when height is nil.
func (c *Client) Commit(ctx context.Context, height *int64) (*coretypes.ResultCommit, error) {
	params := map[string]interface{}{}
	if height != nil {
		params["height"] = height
	}
	result := new(coretypes.ResultCommit)
	if err := c.call(ctx, "commit", params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ABCIQuery runs an ABCI query against the latest state. A non-zero response
// code is returned as an error.
func (c *Client) ABCIQuery(ctx context.Context, path string, data []byte) (*coretypes.ResultABCIQuery, error) {
	params := map[string]interface{}{
		"path":   path,
		"data":   bytes.HexBytes(data),
		"height": int64(0),
		"prove":  false,
	}
	result := new(coretypes.ResultABCIQuery)
	if err := c.call(ctx, "abci_query", params, result); err != nil {
		return nil, err
	}
	if !result.Response.IsOK() {
		return nil, types.WrapKind(types.ErrNetwork,
			errorsmod.ABCIError(result.Response.Codespace, result.Response.Code, result.Response.Log),
			"abci query %s", path)
	}
	return result, nil
}

// BroadcastTxSync submits tx and returns the CheckTx result.
func (c *Client) BroadcastTxSync(ctx context.Context, tx []byte) (*coretypes.ResultBroadcastTx, error) {
	result := new(coretypes.ResultBroadcastTx)
	if err := c.call(ctx, "broadcast_tx_sync", map[string]interface{}{"tx": cmttypes.Tx(tx)}, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Tx looks up an indexed transaction by hash.
func (c *Client) Tx(ctx context.Context, hash []byte) (*coretypes.ResultTx, error) {
	params := map[string]interface{}{
		"hash":  hash,
		"prove": false,
	}
	result := new(coretypes.ResultTx)
	if err := c.call(ctx, "tx", params, result); err != nil {
		return nil, err
	}
	return result, nil
}
