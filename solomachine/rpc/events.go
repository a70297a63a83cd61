package rpc

import (
	"encoding/hex"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	abci "github.com/cometbft/cometbft/abci/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"

	"github.com/cosmos/solo-machine/solomachine/types"
)

// FindAttribute returns the value of key in the first event of eventType.
func FindAttribute(events []abci.Event, eventType, key string) (string, bool) {
	for _, event := range events {
		if event.Type != eventType {
			continue
		}
		for _, attr := range event.Attributes {
			if attr.Key == key {
				return attr.Value, true
			}
		}
	}
	return "", false
}

// RequireAttribute is FindAttribute failing with a serialization error when
// the attribute is missing.
func RequireAttribute(events []abci.Event, eventType, key string) (string, error) {
	v, ok := FindAttribute(events, eventType, key)
	if !ok || v == "" {
		return "", errorsmod.Wrapf(types.ErrSerialization, "%s event has no %s attribute", eventType, key)
	}
	return v, nil
}

// ParseSendPacket rebuilds the packet announced by the send_packet event.
func ParseSendPacket(events []abci.Event) (chantypes.Packet, error) {
	var (
		packet chantypes.Packet
		found  bool
	)
	for _, event := range events {
		if event.Type != chantypes.EventTypeSendPacket {
			continue
		}
		found = true
		for _, attr := range event.Attributes {
			var err error
			switch attr.Key {
			case chantypes.AttributeKeySequence:
				packet.Sequence, err = strconv.ParseUint(attr.Value, 10, 64)
			case chantypes.AttributeKeyTimeoutTimestamp:
				packet.TimeoutTimestamp, err = strconv.ParseUint(attr.Value, 10, 64)
			case chantypes.AttributeKeyTimeoutHeight:
				packet.TimeoutHeight, err = clienttypes.ParseHeight(attr.Value)
			case chantypes.AttributeKeyDataHex:
				packet.Data, err = hex.DecodeString(attr.Value)
			case chantypes.AttributeKeySrcPort:
				packet.SourcePort = attr.Value
			case chantypes.AttributeKeySrcChannel:
				packet.SourceChannel = attr.Value
			case chantypes.AttributeKeyDstPort:
				packet.DestinationPort = attr.Value
			case chantypes.AttributeKeyDstChannel:
				packet.DestinationChannel = attr.Value
			}
			if err != nil {
				return chantypes.Packet{}, types.WrapKind(types.ErrSerialization, err, "parsing %s", attr.Key)
			}
		}
		break
	}
	if !found {
		return chantypes.Packet{}, errorsmod.Wrap(types.ErrSerialization, "no send_packet event in transaction")
	}
	if err := packet.ValidateBasic(); err != nil {
		return chantypes.Packet{}, types.WrapKind(types.ErrSerialization, err, "invalid packet in send_packet event")
	}
	return packet, nil
}
