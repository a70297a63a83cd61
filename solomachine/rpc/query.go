package rpc

import (
	"context"
	"time"

	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	stakingtypes "github.com/cosmos/cosmos-sdk/x/staking/types"
	"github.com/cosmos/gogoproto/proto"

	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// gRPC query paths served over abci_query.
const (
	QueryAccountPath       = "/cosmos.auth.v1beta1.Query/Account"
	QueryStakingParamsPath = "/cosmos.staking.v1beta1.Query/Params"
)

func (c *Client) query(ctx context.Context, path string, req, resp proto.Message) error {
	bz, err := proto.Marshal(req)
	if err != nil {
		return types.WrapKind(types.ErrSerialization, err, "encoding %s request", path)
	}
	res, err := c.ABCIQuery(ctx, path, bz)
	if err != nil {
		return err
	}
	if err := proto.Unmarshal(res.Response.Value, resp); err != nil {
		return types.WrapKind(types.ErrSerialization, err, "decoding %s response", path)
	}
	return nil
}

// Account returns the on-chain account of address.
func (c *Client) Account(ctx context.Context, address string) (*authtypes.BaseAccount, error) {
	var resp authtypes.QueryAccountResponse
	if err := c.query(ctx, QueryAccountPath, &authtypes.QueryAccountRequest{Address: address}, &resp); err != nil {
		return nil, err
	}
	acc := new(authtypes.BaseAccount)
	if err := wire.FromAny(resp.Account, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// UnbondingPeriod returns the staking unbonding time of the chain.
func (c *Client) UnbondingPeriod(ctx context.Context) (time.Duration, error) {
	var resp stakingtypes.QueryParamsResponse
	if err := c.query(ctx, QueryStakingParamsPath, &stakingtypes.QueryParamsRequest{}, &resp); err != nil {
		return 0, err
	}
	return resp.Params.UnbondingTime, nil
}

// LatestHeight returns the latest block height known to the node.
func (c *Client) LatestHeight(ctx context.Context) (int64, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	return status.SyncInfo.LatestBlockHeight, nil
}
