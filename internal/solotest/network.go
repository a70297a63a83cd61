package solotest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"

	"github.com/cosmos/solo-machine/solomachine/provider"
)

var _ provider.RPCClient = (*Network)(nil)

// Network routes requests to the chain whose Config().RPCAddr they are sent to.
type Network struct {
	mu     sync.RWMutex
	chains map[string]*Chain
	nextID atomic.Int64
}

func NewNetwork(chains ...*Chain) *Network {
	n := &Network{chains: make(map[string]*Chain)}
	for _, c := range chains {
		n.Add(c)
	}
	return n
}

// Add makes c reachable at its RPC address.
func (n *Network) Add(c *Chain) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chains[c.Config().RPCAddr] = c
}

func (n *Network) NextID() int {
	return int(n.nextID.Add(1))
}

func (n *Network) SendRequest(ctx context.Context, url string, request rpctypes.RPCRequest) (json.RawMessage, error) {
	n.mu.RLock()
	c, ok := n.chains[url]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dial tcp: lookup %s: no such host", url)
	}
	return c.SendRequest(ctx, url, request)
}
