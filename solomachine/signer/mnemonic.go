package signer

import (
	"context"
	"strings"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/cosmos/cosmos-sdk/crypto/hd"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/go-bip39"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

var _ provider.Signer = (*MnemonicSigner)(nil)

// DefaultHDPath is the cosmos hub derivation path of the first account.
var DefaultHDPath = hd.CreateHDPath(sdk.CoinType, 0, 0).String()

type key struct {
	priv   cryptotypes.PrivKey
	prefix string
}

// MnemonicSigner derives secp256k1 keys from BIP-39 mnemonics. A default key
// serves every chain unless a chain has its own key.
type MnemonicSigner struct {
	mu       sync.RWMutex
	fallback key
	chains   map[types.ChainID]key
}

// CreateMnemonic returns a new 24 word mnemonic.
func CreateMnemonic() (string, error) {
	entropySeed, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropySeed)
}

// DeriveKey derives the secp256k1 key at hdPath from mnemonic.
func DeriveKey(mnemonic, hdPath string) (cryptotypes.PrivKey, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errorsmod.Wrap(types.ErrValidation, "invalid mnemonic")
	}
	if hdPath == "" {
		hdPath = DefaultHDPath
	}
	if _, err := hd.NewParamsFromPath(hdPath); err != nil {
		return nil, types.WrapKind(types.ErrValidation, err, "invalid hd path %q", hdPath)
	}

	bz, err := hd.Secp256k1.Derive()(mnemonic, "", hdPath)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "deriving key")
	}
	return hd.Secp256k1.Generate()(bz), nil
}

// NewMnemonicSigner returns a signer whose default key is derived from
// mnemonic at hdPath. Addresses use accountPrefix.
func NewMnemonicSigner(mnemonic, hdPath, accountPrefix string) (*MnemonicSigner, error) {
	priv, err := DeriveKey(mnemonic, hdPath)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(priv, accountPrefix), nil
}

// NewKeySigner returns a signer using priv for every chain.
func NewKeySigner(priv cryptotypes.PrivKey, accountPrefix string) *MnemonicSigner {
	if accountPrefix == "" {
		accountPrefix = sdk.Bech32MainPrefix
	}
	return &MnemonicSigner{
		fallback: key{priv: priv, prefix: accountPrefix},
		chains:   make(map[types.ChainID]key),
	}
}

// SetChainKey makes chainID sign with priv and use accountPrefix.
func (s *MnemonicSigner) SetChainKey(chainID types.ChainID, priv cryptotypes.PrivKey, accountPrefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accountPrefix == "" {
		accountPrefix = s.fallback.prefix
	}
	s.chains[chainID] = key{priv: priv, prefix: accountPrefix}
}

func (s *MnemonicSigner) keyFor(chainID types.ChainID) key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k, ok := s.chains[chainID]; ok {
		return k
	}
	return s.fallback
}

func (s *MnemonicSigner) PublicKey(_ context.Context, chainID types.ChainID) (cryptotypes.PubKey, error) {
	return s.keyFor(chainID).priv.PubKey(), nil
}

func (s *MnemonicSigner) AccountAddress(_ context.Context, chainID types.ChainID) (string, error) {
	k := s.keyFor(chainID)
	addr, err := sdk.Bech32ifyAddressBytes(k.prefix, k.priv.PubKey().Address())
	if err != nil {
		return "", types.WrapKind(types.ErrValidation, err, "encoding address with prefix %q", k.prefix)
	}
	return addr, nil
}

func (s *MnemonicSigner) Sign(ctx context.Context, _ string, chainID types.ChainID, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "signing cancelled")
	}
	sig, err := s.keyFor(chainID).priv.Sign(msg)
	if err != nil {
		return nil, types.WrapKind(types.ErrSigning, err, "signing for %s", chainID)
	}
	return sig, nil
}
