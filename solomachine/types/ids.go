package types

import (
	"strings"
	"unicode"

	errorsmod "cosmossdk.io/errors"
	cmttypes "github.com/cometbft/cometbft/types"

	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	host "github.com/cosmos/ibc-go/v8/modules/core/24-host"
	ibcexported "github.com/cosmos/ibc-go/v8/modules/core/exported"
)

// ChainID identifies a counterparty chain.
type ChainID string

// ClientID is an ICS-02 client identifier.
type ClientID string

// ConnectionID is an ICS-03 connection identifier.
type ConnectionID string

// ChannelID is an ICS-04 channel identifier.
type ChannelID string

// PortID is an ICS-05 port identifier.
type PortID string

// NewChainID validates s as a CometBFT chain id.
func NewChainID(s string) (ChainID, error) {
	if strings.TrimSpace(s) == "" {
		return "", errorsmod.Wrap(ErrValidation, "chain id cannot be blank")
	}
	if len(s) > cmttypes.MaxChainIDLen {
		return "", errorsmod.Wrapf(ErrValidation, "chain id %q is longer than %d characters", s, cmttypes.MaxChainIDLen)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' {
			return "", errorsmod.Wrapf(ErrValidation, "chain id %q contains invalid character %q", s, r)
		}
	}
	return ChainID(s), nil
}

func (id ChainID) String() string { return string(id) }

// RevisionNumber parses the IBC revision number out of the chain id.
func (id ChainID) RevisionNumber() uint64 {
	return clienttypes.ParseChainID(string(id))
}

func (id *ChainID) UnmarshalText(text []byte) error {
	v, err := NewChainID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// NewClientID validates s as an ICS-24 client identifier.
func NewClientID(s string) (ClientID, error) {
	if err := host.ClientIdentifierValidator(s); err != nil {
		return "", WrapKind(ErrValidation, err, "invalid client id %q", s)
	}
	return ClientID(s), nil
}

func (id ClientID) String() string { return string(id) }

func (id *ClientID) UnmarshalText(text []byte) error {
	v, err := NewClientID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// NewConnectionID validates s as an ICS-24 connection identifier.
func NewConnectionID(s string) (ConnectionID, error) {
	if err := host.ConnectionIdentifierValidator(s); err != nil {
		return "", WrapKind(ErrValidation, err, "invalid connection id %q", s)
	}
	return ConnectionID(s), nil
}

func (id ConnectionID) String() string { return string(id) }

func (id *ConnectionID) UnmarshalText(text []byte) error {
	v, err := NewConnectionID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// NewChannelID validates s as an ICS-24 channel identifier.
func NewChannelID(s string) (ChannelID, error) {
	if err := host.ChannelIdentifierValidator(s); err != nil {
		return "", WrapKind(ErrValidation, err, "invalid channel id %q", s)
	}
	return ChannelID(s), nil
}

func (id ChannelID) String() string { return string(id) }

func (id *ChannelID) UnmarshalText(text []byte) error {
	v, err := NewChannelID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// NewPortID validates s as an ICS-24 port identifier.
func NewPortID(s string) (PortID, error) {
	if err := host.PortIdentifierValidator(s); err != nil {
		return "", WrapKind(ErrValidation, err, "invalid port id %q", s)
	}
	return PortID(s), nil
}

func (id PortID) String() string { return string(id) }

func (id *PortID) UnmarshalText(text []byte) error {
	v, err := NewPortID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Identifiers the solo machine assigns to its own side of the handshake. The
// solo machine hosts exactly one client, connection and channel per chain.
var (
	SoloMachineTendermintClientID = ClientID(clienttypes.FormatClientIdentifier(ibcexported.Tendermint, 0))
	SoloMachineConnectionID       = ConnectionID(conntypes.FormatConnectionIdentifier(0))
	SoloMachineTransferChannelID  = ChannelID(chantypes.FormatChannelIdentifier(0))
	SoloMachineICAChannelID       = ChannelID(chantypes.FormatChannelIdentifier(1))
)
