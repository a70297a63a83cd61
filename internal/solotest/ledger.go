package solotest

import (
	"maps"

	sdk "github.com/cosmos/cosmos-sdk/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
)

// ledger is the state transactions execute against. Map values are never
// mutated in place so clone stays shallow. Clients are held as the encoded
// client state the light client reads and writes.
type ledger struct {
	clients     map[string][]byte
	connections map[string]conntypes.ConnectionEnd
	channels    map[string]chantypes.Channel
	commitments map[string][]byte
	receipts    map[string]bool
	nextSend    map[string]uint64
	nextRecv    map[string]uint64
	balances    map[string]sdk.Coins
	traces      map[string]string
	icaAccounts map[string]string

	clientCount, connectionCount, channelCount uint64
}

func newLedger() *ledger {
	return &ledger{
		clients:     make(map[string][]byte),
		connections: make(map[string]conntypes.ConnectionEnd),
		channels:    make(map[string]chantypes.Channel),
		commitments: make(map[string][]byte),
		receipts:    make(map[string]bool),
		nextSend:    make(map[string]uint64),
		nextRecv:    make(map[string]uint64),
		balances:    make(map[string]sdk.Coins),
		traces:      make(map[string]string),
		icaAccounts: make(map[string]string),
	}
}

func (l *ledger) clone() *ledger {
	return &ledger{
		clients:         maps.Clone(l.clients),
		connections:     maps.Clone(l.connections),
		channels:        maps.Clone(l.channels),
		commitments:     maps.Clone(l.commitments),
		receipts:        maps.Clone(l.receipts),
		nextSend:        maps.Clone(l.nextSend),
		nextRecv:        maps.Clone(l.nextRecv),
		balances:        maps.Clone(l.balances),
		traces:          maps.Clone(l.traces),
		icaAccounts:     maps.Clone(l.icaAccounts),
		clientCount:     l.clientCount,
		connectionCount: l.connectionCount,
		channelCount:    l.channelCount,
	}
}
