package types

import (
	"time"

	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
)

// ChainKey is one entry in the append-only history of signer keys used for a chain.
type ChainKey struct {
	ID        uint64             `json:"id"`
	ChainID   ChainID            `json:"chain_id"`
	PublicKey cryptotypes.PubKey `json:"-"`
	CreatedAt time.Time          `json:"created_at"`
}
