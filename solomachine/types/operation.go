package types

import (
	"fmt"
	"time"
)

// OperationKind names what a finalized transaction did.
type OperationKind string

const (
	OperationCreateClient          OperationKind = "create-client"
	OperationConnectionOpenInit    OperationKind = "connection-open-init"
	OperationConnectionOpenAck     OperationKind = "connection-open-ack"
	OperationChannelOpenTry        OperationKind = "channel-open-try"
	OperationChannelOpenConfirm    OperationKind = "channel-open-confirm"
	OperationMint                  OperationKind = "mint"
	OperationBurn                  OperationKind = "burn"
	OperationAcknowledge           OperationKind = "acknowledge"
	OperationUpdateSigner          OperationKind = "update-signer"
	OperationICAChannelOpenTry     OperationKind = "ica-channel-open-try"
	OperationICAChannelOpenConfirm OperationKind = "ica-channel-open-confirm"
	OperationICASend               OperationKind = "ica-send"
)

// OperationType is the kind of an operation plus the token movement it carried, if any.
type OperationType struct {
	Kind    OperationKind `json:"kind"`
	Denom   string        `json:"denom,omitempty"`
	Amount  string        `json:"amount,omitempty"`
	Address string        `json:"address,omitempty"`
}

func (t OperationType) String() string {
	if t.Amount == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s %s%s -> %s", t.Kind, t.Amount, t.Denom, t.Address)
}

// Operation is the immutable audit record of one finalized transaction.
type Operation struct {
	ID              uint64        `json:"id"`
	ChainID         ChainID       `json:"chain_id"`
	PortID          PortID        `json:"port_id,omitempty"`
	Type            OperationType `json:"type"`
	TransactionHash string        `json:"transaction_hash"`
	RequestID       string        `json:"request_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
