package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sync"
	"sync/atomic"

	jsonrpcclient "github.com/cometbft/cometbft/rpc/jsonrpc/client"
	rpctypes "github.com/cometbft/cometbft/rpc/jsonrpc/types"

	"github.com/cosmos/solo-machine/solomachine/provider"
)

var _ provider.RPCClient = (*HTTPClient)(nil)

// HTTPClient posts JSON-RPC requests to CometBFT nodes. HTTP clients are
// built once per node address with the CometBFT defaults.
type HTTPClient struct {
	nextID atomic.Int64

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{clients: make(map[string]*http.Client)}
}

func (c *HTTPClient) NextID() int {
	return int(c.nextID.Add(1))
}

func (c *HTTPClient) httpClient(url string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[url]; ok {
		return hc, nil
	}
	hc, err := jsonrpcclient.DefaultHTTPClient(url)
	if err != nil {
		return nil, err
	}
	c.clients[url] = hc
	return hc, nil
}

func (c *HTTPClient) SendRequest(ctx context.Context, url string, request rpctypes.RPCRequest) (json.RawMessage, error) {
	hc, err := c.httpClient(url)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL(url), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if u, err := neturl.Parse(url); err == nil && u.User != nil {
		password, _ := u.User.Password()
		req.SetBasicAuth(u.User.Username(), password)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && len(bz) == 0 {
		return nil, fmt.Errorf("node returned %s", resp.Status)
	}
	return bz, nil
}

// requestURL maps the node address onto an http url. Unix sockets are dialed
// by the transport, so any host works for them.
func requestURL(addr string) string {
	u, err := neturl.Parse(addr)
	if err != nil {
		return addr
	}
	switch u.Scheme {
	case "tcp":
		u.Scheme = "http"
	case "unix":
		return "http://localhost"
	}
	u.User = nil
	return u.String()
}
