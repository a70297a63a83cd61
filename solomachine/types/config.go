package types

import (
	"encoding/hex"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	cmtmath "github.com/cometbft/cometbft/libs/math"
	"github.com/cometbft/cometbft/light"
	sdk "github.com/cosmos/cosmos-sdk/types"

	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
)

// Default chain parameters. The values mirror what a relayer would pick for a
// fresh tendermint client.
const (
	DefaultDiversifier               = "solo-machine"
	DefaultTrustingPeriod            = 14 * 24 * time.Hour
	DefaultMaxClockDrift             = 3 * time.Second
	DefaultRPCTimeout                = 60 * time.Second
	DefaultPacketTimeoutHeightOffset = 20
	DefaultGasLimit                  = 300000
	DefaultConfirmationPollInterval  = time.Second
	DefaultConfirmationTimeout       = 60 * time.Second
)

// Fee is the fee paid for every transaction sent to the chain.
type Fee struct {
	Amount   string `json:"amount" yaml:"amount" mapstructure:"amount"`
	Denom    string `json:"denom" yaml:"denom" mapstructure:"denom"`
	GasLimit uint64 `json:"gas_limit" yaml:"gas-limit" mapstructure:"gas-limit"`
}

// Coins returns the fee amount as sdk.Coins.
func (f Fee) Coins() (sdk.Coins, error) {
	amount, ok := sdkmath.NewIntFromString(f.Amount)
	if !ok || amount.IsNegative() {
		return nil, errorsmod.Wrapf(ErrValidation, "invalid fee amount %q", f.Amount)
	}
	if err := sdk.ValidateDenom(f.Denom); err != nil {
		return nil, WrapKind(ErrValidation, err, "invalid fee denom %q", f.Denom)
	}
	return sdk.NewCoins(sdk.NewCoin(f.Denom, amount)), nil
}

// TrustLevel is the fraction of validator power the tendermint client trusts.
type TrustLevel struct {
	Numerator   uint64 `json:"numerator" yaml:"numerator" mapstructure:"numerator"`
	Denominator uint64 `json:"denominator" yaml:"denominator" mapstructure:"denominator"`
}

// Fraction converts the trust level into the CometBFT representation.
func (t TrustLevel) Fraction() cmtmath.Fraction {
	return cmtmath.Fraction{Numerator: t.Numerator, Denominator: t.Denominator}
}

// ChainConfig holds the static per-chain parameters. It is set once when the
// chain is added and never changes afterwards.
type ChainConfig struct {
	RPCAddr                   string        `json:"rpc_addr" yaml:"rpc-addr" mapstructure:"rpc-addr"`
	GRPCAddr                  string        `json:"grpc_addr,omitempty" yaml:"grpc-addr" mapstructure:"grpc-addr"`
	AccountPrefix             string        `json:"account_prefix" yaml:"account-prefix" mapstructure:"account-prefix"`
	Fee                       Fee           `json:"fee" yaml:"fee" mapstructure:"fee"`
	TrustLevel                TrustLevel    `json:"trust_level" yaml:"trust-level" mapstructure:"trust-level"`
	TrustingPeriod            time.Duration `json:"trusting_period" yaml:"trusting-period" mapstructure:"trusting-period"`
	MaxClockDrift             time.Duration `json:"max_clock_drift" yaml:"max-clock-drift" mapstructure:"max-clock-drift"`
	RPCTimeout                time.Duration `json:"rpc_timeout" yaml:"rpc-timeout" mapstructure:"rpc-timeout"`
	Diversifier               string        `json:"diversifier" yaml:"diversifier" mapstructure:"diversifier"`
	PortID                    PortID        `json:"port_id" yaml:"port-id" mapstructure:"port-id"`
	TrustedHeight             uint64        `json:"trusted_height,omitempty" yaml:"trusted-height" mapstructure:"trusted-height"`
	TrustedHash               string        `json:"trusted_hash,omitempty" yaml:"trusted-hash" mapstructure:"trusted-hash"`
	PacketTimeoutHeightOffset uint64        `json:"packet_timeout_height_offset" yaml:"packet-timeout-height-offset" mapstructure:"packet-timeout-height-offset"`
	ConfirmationPollInterval  time.Duration `json:"confirmation_poll_interval" yaml:"confirmation-poll-interval" mapstructure:"confirmation-poll-interval"`
	ConfirmationTimeout       time.Duration `json:"confirmation_timeout" yaml:"confirmation-timeout" mapstructure:"confirmation-timeout"`
}

// DefaultChainConfig returns a config with every optional field populated.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		RPCAddr:                   "http://localhost:26657",
		AccountPrefix:             sdk.Bech32MainPrefix,
		Fee:                       Fee{Amount: "1000", Denom: "stake", GasLimit: DefaultGasLimit},
		TrustLevel:                TrustLevel{Numerator: light.DefaultTrustLevel.Numerator, Denominator: light.DefaultTrustLevel.Denominator},
		TrustingPeriod:            DefaultTrustingPeriod,
		MaxClockDrift:             DefaultMaxClockDrift,
		RPCTimeout:                DefaultRPCTimeout,
		Diversifier:               DefaultDiversifier,
		PortID:                    PortID(transfertypes.PortID),
		PacketTimeoutHeightOffset: DefaultPacketTimeoutHeightOffset,
		ConfirmationPollInterval:  DefaultConfirmationPollInterval,
		ConfirmationTimeout:       DefaultConfirmationTimeout,
	}
}

// Validate checks the config for values the chain or the light client would reject.
func (c ChainConfig) Validate() error {
	if strings.TrimSpace(c.RPCAddr) == "" {
		return errorsmod.Wrap(ErrValidation, "rpc address cannot be blank")
	}
	if strings.TrimSpace(c.AccountPrefix) == "" {
		return errorsmod.Wrap(ErrValidation, "account prefix cannot be blank")
	}
	if _, err := c.Fee.Coins(); err != nil {
		return err
	}
	if c.Fee.GasLimit == 0 {
		return errorsmod.Wrap(ErrValidation, "gas limit must be positive")
	}
	if err := light.ValidateTrustLevel(c.TrustLevel.Fraction()); err != nil {
		return WrapKind(ErrValidation, err, "invalid trust level")
	}
	if c.TrustingPeriod <= 0 {
		return errorsmod.Wrap(ErrValidation, "trusting period must be positive")
	}
	if c.MaxClockDrift <= 0 {
		return errorsmod.Wrap(ErrValidation, "max clock drift must be positive")
	}
	if c.RPCTimeout <= 0 {
		return errorsmod.Wrap(ErrValidation, "rpc timeout must be positive")
	}
	if strings.TrimSpace(c.Diversifier) == "" {
		return errorsmod.Wrap(ErrValidation, "diversifier cannot be blank")
	}
	if _, err := NewPortID(string(c.PortID)); err != nil {
		return err
	}
	if c.TrustedHash != "" {
		if _, err := hex.DecodeString(c.TrustedHash); err != nil {
			return WrapKind(ErrValidation, err, "trusted hash is not hex")
		}
		if c.TrustedHeight == 0 {
			return errorsmod.Wrap(ErrValidation, "trusted hash requires a trusted height")
		}
	}
	if c.PacketTimeoutHeightOffset == 0 {
		return errorsmod.Wrap(ErrValidation, "packet timeout height offset must be positive")
	}
	if c.ConfirmationPollInterval <= 0 || c.ConfirmationTimeout < c.ConfirmationPollInterval {
		return errorsmod.Wrapf(ErrValidation, "confirmation timeout %s must not be shorter than poll interval %s",
			c.ConfirmationTimeout, c.ConfirmationPollInterval)
	}
	return nil
}
