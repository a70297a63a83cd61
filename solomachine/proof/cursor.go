package proof

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	"github.com/cosmos/gogoproto/proto"
	solomachine "github.com/cosmos/ibc-go/v8/modules/light-clients/06-solomachine"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// Cursor signs a series of proofs against a draft copy of a chain state. Each
// proof consumes one solo machine sequence, in the order the chain verifies
// them. The original state is never touched; the caller commits Draft once
// the transaction carrying the proofs is confirmed.
type Cursor struct {
	signer    provider.Signer
	requestID string
	draft     *types.ChainState
	now       func() time.Time
}

// NewCursor starts a cursor at the committed sequence of state.
func NewCursor(signer provider.Signer, requestID string, state *types.ChainState, now func() time.Time) *Cursor {
	if now == nil {
		now = time.Now
	}
	return &Cursor{
		signer:    signer,
		requestID: requestID,
		draft:     state.Clone(),
		now:       now,
	}
}

// Draft is the state after every proof produced so far.
func (c *Cursor) Draft() *types.ChainState {
	return c.draft
}

// Prove signs data at the ICS-24 store path and advances the draft.
func (c *Cursor) Prove(ctx context.Context, path string, data []byte) (*Proof, error) {
	return c.prove(ctx, []byte(path), data)
}

// ProveBytes is Prove returning the encoded proof.
func (c *Cursor) ProveBytes(ctx context.Context, path string, data []byte) ([]byte, error) {
	p, err := c.Prove(ctx, path, data)
	if err != nil {
		return nil, err
	}
	return p.Bytes()
}

func (c *Cursor) prove(ctx context.Context, path, data []byte) (*Proof, error) {
	p, err := Generate(ctx, c.signer, c.requestID, c.draft, path, data, Timestamp(c.draft, c.now()))
	if err != nil {
		return nil, err
	}
	c.draft.Sequence++
	c.draft.ConsensusTimestamp = p.Timestamp
	return p, nil
}

// Header signs a rotation to newPubKey with the current key. The diversifier
// is part of the immutable chain config and carries over unchanged.
func (c *Cursor) Header(ctx context.Context, newPubKey cryptotypes.PubKey) (*solomachine.Header, error) {
	if newPubKey == nil {
		return nil, errorsmod.Wrap(types.ErrValidation, "new public key cannot be nil")
	}
	newDiversifier := c.draft.Config.Diversifier

	pubKeyAny, err := codectypes.NewAnyWithValue(newPubKey)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "packing public key")
	}
	data, err := proto.Marshal(&solomachine.HeaderData{
		NewPubKey:      pubKeyAny,
		NewDiversifier: newDiversifier,
	})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding header data")
	}

	p, err := c.prove(ctx, []byte(HeaderPath), data)
	if err != nil {
		return nil, err
	}
	return &solomachine.Header{
		Timestamp:      p.Timestamp,
		Signature:      p.Signature,
		NewPublicKey:   pubKeyAny,
		NewDiversifier: newDiversifier,
	}, nil
}
