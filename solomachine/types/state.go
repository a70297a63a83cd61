package types

import (
	"time"

	errorsmod "cosmossdk.io/errors"

	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
)

// ChainState is the mutable record kept for every chain the solo machine talks to.
type ChainState struct {
	ID     ChainID     `json:"id"`
	NodeID string      `json:"node_id"`
	Config ChainConfig `json:"config"`

	// Sequence is the solo machine sequence the next proof is signed at.
	Sequence uint64 `json:"sequence"`
	// PacketSequence is the sequence of the next transfer packet sent by the solo machine.
	PacketSequence uint64 `json:"packet_sequence"`
	// ConsensusTimestamp is the last timestamp (unix nanoseconds) used in a signature.
	ConsensusTimestamp uint64 `json:"consensus_timestamp"`

	Connection ConnectionDetails `json:"connection"`
	ICA        *ICAChannel       `json:"ica,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewChainState returns the state of a freshly added chain.
func NewChainState(id ChainID, nodeID string, cfg ChainConfig, now time.Time) *ChainState {
	return &ChainState{
		ID:                 id,
		NodeID:             nodeID,
		Config:             cfg,
		Sequence:           1,
		PacketSequence:     1,
		ConsensusTimestamp: uint64(now.UnixNano()),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy that can be modified without touching s.
func (s *ChainState) Clone() *ChainState {
	c := *s
	if s.ICA != nil {
		ica := *s.ICA
		c.ICA = &ica
	}
	return &c
}

// Height is the height of the solo machine client at the current sequence.
func (s *ChainState) Height() clienttypes.Height {
	return clienttypes.NewHeight(0, s.Sequence)
}

// CheckAdvance verifies next is a legal successor of s. Sequences never go
// backwards and the handshake never regresses within an epoch.
func (s *ChainState) CheckAdvance(next *ChainState) error {
	switch {
	case next.ID != s.ID:
		return errorsmod.Wrapf(ErrPrecondition, "state of %s cannot replace %s", next.ID, s.ID)
	case next.Sequence < s.Sequence:
		return NewMultiKind("solo machine sequence cannot decrease", ErrPrecondition)
	case next.PacketSequence < s.PacketSequence:
		return NewMultiKind("packet sequence cannot decrease", ErrPrecondition)
	case next.ConsensusTimestamp < s.ConsensusTimestamp:
		return NewMultiKind("consensus timestamp cannot decrease", ErrPrecondition)
	}
	return checkHandshake(s.Connection, next.Connection)
}

func checkHandshake(prev, next ConnectionDetails) error {
	switch {
	case next.Epoch < prev.Epoch:
		return NewMultiKind("handshake epoch cannot decrease", ErrPrecondition)
	case next.Epoch > prev.Epoch+1:
		return NewMultiKind("handshake epoch cannot be skipped", ErrPrecondition)
	case next.Epoch == prev.Epoch+1:
		if next.Stage > StageClientCreated {
			return NewMultiKind("restarted handshake must begin with client creation", ErrPrecondition)
		}
		return nil
	case next.Stage < prev.Stage:
		return NewMultiKind("handshake stage cannot regress", ErrPrecondition)
	case next.Stage > prev.Stage+1:
		return NewMultiKind("handshake stage cannot be skipped", ErrPrecondition)
	}
	return nil
}
