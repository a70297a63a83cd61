package provider

import (
	"context"
	"encoding/json"

	errorsmod "cosmossdk.io/errors"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"

	"github.com/cosmos/solo-machine/solomachine/types"
)

// Signer holds the solo machine key material for each chain.
type Signer interface {
	PublicKey(ctx context.Context, chainID types.ChainID) (cryptotypes.PubKey, error)
	AccountAddress(ctx context.Context, chainID types.ChainID) (string, error)
	Sign(ctx context.Context, requestID string, chainID types.ChainID, msg []byte) ([]byte, error)
}

// AccessPoint names a collection a storage Transaction may touch.
type AccessPoint string

const (
	AccessChainStates AccessPoint = "chain_states"
	AccessChainKeys   AccessPoint = "chain_keys"
	AccessOperations  AccessPoint = "operations"
)

// AllAccessPoints is every collection known to Storage.
var AllAccessPoints = []AccessPoint{AccessChainStates, AccessChainKeys, AccessOperations}

// Records are the record operations available both directly on Storage and
// inside a Transaction.
type Records interface {
	AddChainState(ctx context.Context, state *types.ChainState) error
	GetChainState(ctx context.Context, chainID types.ChainID) (*types.ChainState, error)
	UpdateChainState(ctx context.Context, state *types.ChainState) error
	ListChainStates(ctx context.Context) ([]*types.ChainState, error)

	// AddChainKey appends key to the history of its chain and assigns key.ID.
	AddChainKey(ctx context.Context, key *types.ChainKey) error
	// GetChainKeys returns the key history of a chain, oldest first.
	GetChainKeys(ctx context.Context, chainID types.ChainID) ([]*types.ChainKey, error)

	// AddOperation appends op to the audit log and assigns op.ID.
	AddOperation(ctx context.Context, op *types.Operation) error
	// GetOperations returns up to limit operations of a chain, oldest first,
	// skipping the first offset. A zero limit returns everything.
	GetOperations(ctx context.Context, chainID types.ChainID, limit, offset int) ([]*types.Operation, error)
}

// Transaction is a scoped unit of work. Writes become visible together on
// Commit; Rollback, or any failure before Commit, discards all of them.
type Transaction interface {
	Records
	Commit(ctx context.Context) error
	Rollback()
}

// Storage persists chain states, chain keys and the operation log.
type Storage interface {
	Records
	Transaction(ctx context.Context, points ...AccessPoint) (Transaction, error)
	Close() error
}

// RPCClient carries CometBFT JSON-RPC requests to a chain node.
type RPCClient interface {
	NextID() int
	// SendRequest posts request to url and returns the raw JSON-RPC response.
	SendRequest(ctx context.Context, url string, request rpctypes.RPCRequest) (json.RawMessage, error)
}

// EventHandler observes engine events. Errors are logged and never abort the
// operation that emitted the event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event types.Event) error
}

// Context bundles the capabilities every engine component is built from.
type Context struct {
	Signer  Signer
	Storage Storage
	RPC     RPCClient
	Events  EventHandler
}

// Validate checks that every capability is set.
func (c Context) Validate() error {
	switch {
	case c.Signer == nil:
		return errorsmod.Wrap(types.ErrValidation, "signer capability is missing")
	case c.Storage == nil:
		return errorsmod.Wrap(types.ErrValidation, "storage capability is missing")
	case c.RPC == nil:
		return errorsmod.Wrap(types.ErrValidation, "rpc capability is missing")
	case c.Events == nil:
		return errorsmod.Wrap(types.ErrValidation, "event handler capability is missing")
	}
	return nil
}

// Update runs fn inside a Transaction over points. The transaction commits
// when fn returns nil and rolls back otherwise.
func Update(ctx context.Context, s Storage, points []AccessPoint, fn func(tx Transaction) error) error {
	tx, err := s.Transaction(ctx, points...)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit(ctx)
}
