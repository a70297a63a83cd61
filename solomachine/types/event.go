package types

import "time"

// EventType identifies what an Event reports.
type EventType string

const (
	EventChainAdded          EventType = "chain_added"
	EventClientCreated       EventType = "client_created"
	EventConnectionOpenInit  EventType = "connection_open_init"
	EventConnectionOpened    EventType = "connection_opened"
	EventChannelOpenTry      EventType = "channel_open_try"
	EventChannelOpened       EventType = "channel_opened"
	EventTokensMinted        EventType = "tokens_minted"
	EventTokensBurnt         EventType = "tokens_burnt"
	EventPacketAcknowledged  EventType = "packet_acknowledged"
	EventSignerUpdated       EventType = "signer_updated"
	EventICAChannelOpened    EventType = "ica_channel_opened"
	EventICAPacketSent       EventType = "ica_packet_sent"
	EventTransactionRejected EventType = "transaction_rejected"
)

// Event attribute keys.
const (
	AttributeTxHash      = "tx_hash"
	AttributeClientID    = "client_id"
	AttributeConnection  = "connection_id"
	AttributeChannelID   = "channel_id"
	AttributePortID      = "port_id"
	AttributeDenom       = "denom"
	AttributeAmount      = "amount"
	AttributeAddress     = "address"
	AttributeSequence    = "sequence"
	AttributePublicKey   = "public_key"
	AttributeError       = "error"
	AttributeGasUsed     = "gas_used"
	AttributeOperationID = "operation_id"
	AttributeOperation   = "operation"
)

// Event is emitted to the EventHandler after state changes are committed.
type Event struct {
	Type       EventType         `json:"type"`
	ChainID    ChainID           `json:"chain_id"`
	RequestID  string            `json:"request_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Time       time.Time         `json:"time"`
}

// NewEvent returns an event stamped with now.
func NewEvent(typ EventType, chainID ChainID, requestID string, now time.Time, attrs map[string]string) Event {
	return Event{Type: typ, ChainID: chainID, RequestID: requestID, Attributes: attrs, Time: now}
}
