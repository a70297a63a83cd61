package proof

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	"github.com/cosmos/gogoproto/proto"
	solomachine "github.com/cosmos/ibc-go/v8/modules/light-clients/06-solomachine"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// CommitmentPrefix is the store prefix the solo machine declares for its own
// commitments when opening a connection. Proofs sign the ICS-24 key alone,
// which the light client takes from the prefixed path.
const CommitmentPrefix = "ibc"

// HeaderPath is the sign-bytes path of a solo machine header.
const HeaderPath = "solomachine:header"

// Proof is a signature of the solo machine over a value at a path. It replaces
// a Merkle proof and is consumed by exactly one message.
type Proof struct {
	Sequence    uint64
	Timestamp   uint64
	Diversifier string
	Path        []byte
	Data        []byte
	// Signature is the marshalled signing.SignatureDescriptor_Data.
	Signature []byte
}

// Bytes encodes the proof the way the solo machine light client expects it.
func (p *Proof) Bytes() ([]byte, error) {
	bz, err := proto.Marshal(&solomachine.TimestampedSignatureData{
		SignatureData: p.Signature,
		Timestamp:     p.Timestamp,
	})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding proof")
	}
	return bz, nil
}

// SignBytes returns the canonical bytes the proof signature covers.
func (p *Proof) SignBytes() ([]byte, error) {
	return signBytes(p.Sequence, p.Timestamp, p.Diversifier, p.Path, p.Data)
}

// Timestamp returns the timestamp the next signature for state uses. It never
// goes below the last timestamp the chain saw.
func Timestamp(state *types.ChainState, now time.Time) uint64 {
	ts := uint64(now.UnixNano())
	if ts < state.ConsensusTimestamp {
		return state.ConsensusTimestamp
	}
	return ts
}

// Generate signs data at path with the state's current sequence and
// diversifier. state is not modified.
func Generate(
	ctx context.Context,
	signer provider.Signer,
	requestID string,
	state *types.ChainState,
	path, data []byte,
	timestamp uint64,
) (*Proof, error) {
	if len(path) == 0 {
		return nil, errorsmod.Wrap(types.ErrValidation, "proof path cannot be empty")
	}

	p := &Proof{
		Sequence:    state.Sequence,
		Timestamp:   timestamp,
		Diversifier: state.Config.Diversifier,
		Path:        path,
		Data:        data,
	}

	bz, err := p.SignBytes()
	if err != nil {
		return nil, err
	}

	sig, err := sign(ctx, signer, requestID, state.ID, bz)
	if err != nil {
		return nil, err
	}
	p.Signature = sig

	return p, nil
}

func signBytes(sequence, timestamp uint64, diversifier string, path, data []byte) ([]byte, error) {
	bz, err := proto.Marshal(&solomachine.SignBytes{
		Sequence:    sequence,
		Timestamp:   timestamp,
		Diversifier: diversifier,
		Path:        path,
		Data:        data,
	})
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding sign bytes")
	}
	return bz, nil
}

// sign has the signer sign msg and wraps the raw signature into the signature
// descriptor the solo machine client unmarshals.
func sign(ctx context.Context, signer provider.Signer, requestID string, chainID types.ChainID, msg []byte) ([]byte, error) {
	raw, err := signer.Sign(ctx, requestID, chainID, msg)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "signing for %s", chainID)
	}
	if len(raw) == 0 {
		return nil, errorsmod.Wrapf(types.ErrSigning, "signer returned an empty signature for %s", chainID)
	}

	sigData := signing.SignatureDataToProto(&signing.SingleSignatureData{Signature: raw})
	bz, err := proto.Marshal(sigData)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "encoding signature")
	}
	return bz, nil
}
