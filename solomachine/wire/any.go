package wire

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/cosmos/gogoproto/proto"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	solomachine "github.com/cosmos/ibc-go/v8/modules/light-clients/06-solomachine"
	ibctm "github.com/cosmos/ibc-go/v8/modules/light-clients/07-tendermint"

	"github.com/cosmos/solo-machine/solomachine/types"
)

// Kind enumerates the message types the solo machine knows how to build and read.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateClient
	KindUpdateClient
	KindConnectionOpenInit
	KindConnectionOpenAck
	KindChannelOpenTry
	KindChannelOpenConfirm
	KindRecvPacket
	KindAcknowledgement
	KindTransfer
	KindSend
	KindSoloMachineClientState
	KindSoloMachineConsensusState
	KindSoloMachineHeader
	KindTendermintClientState
	KindTendermintConsensusState
)

// Type URLs of the known kinds.
const (
	TypeURLCreateClient              = "/ibc.core.client.v1.MsgCreateClient"
	TypeURLUpdateClient              = "/ibc.core.client.v1.MsgUpdateClient"
	TypeURLConnectionOpenInit        = "/ibc.core.connection.v1.MsgConnectionOpenInit"
	TypeURLConnectionOpenAck         = "/ibc.core.connection.v1.MsgConnectionOpenAck"
	TypeURLChannelOpenTry            = "/ibc.core.channel.v1.MsgChannelOpenTry"
	TypeURLChannelOpenConfirm        = "/ibc.core.channel.v1.MsgChannelOpenConfirm"
	TypeURLRecvPacket                = "/ibc.core.channel.v1.MsgRecvPacket"
	TypeURLAcknowledgement           = "/ibc.core.channel.v1.MsgAcknowledgement"
	TypeURLTransfer                  = "/ibc.applications.transfer.v1.MsgTransfer"
	TypeURLSend                      = "/cosmos.bank.v1beta1.MsgSend"
	TypeURLSoloMachineClientState    = "/ibc.lightclients.solomachine.v3.ClientState"
	TypeURLSoloMachineConsensusState = "/ibc.lightclients.solomachine.v3.ConsensusState"
	TypeURLSoloMachineHeader         = "/ibc.lightclients.solomachine.v3.Header"
	TypeURLTendermintClientState     = "/ibc.lightclients.tendermint.v1.ClientState"
	TypeURLTendermintConsensusState  = "/ibc.lightclients.tendermint.v1.ConsensusState"
)

type kindInfo struct {
	name    string
	typeURL string
	new     func() proto.Message
}

var kindTable = map[Kind]kindInfo{
	KindCreateClient:              {"create_client", TypeURLCreateClient, func() proto.Message { return &clienttypes.MsgCreateClient{} }},
	KindUpdateClient:              {"update_client", TypeURLUpdateClient, func() proto.Message { return &clienttypes.MsgUpdateClient{} }},
	KindConnectionOpenInit:        {"connection_open_init", TypeURLConnectionOpenInit, func() proto.Message { return &conntypes.MsgConnectionOpenInit{} }},
	KindConnectionOpenAck:         {"connection_open_ack", TypeURLConnectionOpenAck, func() proto.Message { return &conntypes.MsgConnectionOpenAck{} }},
	KindChannelOpenTry:            {"channel_open_try", TypeURLChannelOpenTry, func() proto.Message { return &chantypes.MsgChannelOpenTry{} }},
	KindChannelOpenConfirm:        {"channel_open_confirm", TypeURLChannelOpenConfirm, func() proto.Message { return &chantypes.MsgChannelOpenConfirm{} }},
	KindRecvPacket:                {"recv_packet", TypeURLRecvPacket, func() proto.Message { return &chantypes.MsgRecvPacket{} }},
	KindAcknowledgement:           {"acknowledgement", TypeURLAcknowledgement, func() proto.Message { return &chantypes.MsgAcknowledgement{} }},
	KindTransfer:                  {"transfer", TypeURLTransfer, func() proto.Message { return &transfertypes.MsgTransfer{} }},
	KindSend:                      {"send", TypeURLSend, func() proto.Message { return &banktypes.MsgSend{} }},
	KindSoloMachineClientState:    {"solomachine_client_state", TypeURLSoloMachineClientState, func() proto.Message { return &solomachine.ClientState{} }},
	KindSoloMachineConsensusState: {"solomachine_consensus_state", TypeURLSoloMachineConsensusState, func() proto.Message { return &solomachine.ConsensusState{} }},
	KindSoloMachineHeader:         {"solomachine_header", TypeURLSoloMachineHeader, func() proto.Message { return &solomachine.Header{} }},
	KindTendermintClientState:     {"tendermint_client_state", TypeURLTendermintClientState, func() proto.Message { return &ibctm.ClientState{} }},
	KindTendermintConsensusState:  {"tendermint_consensus_state", TypeURLTendermintConsensusState, func() proto.Message { return &ibctm.ConsensusState{} }},
}

var kindByURL = func() map[string]Kind {
	m := make(map[string]Kind, len(kindTable))
	for k, info := range kindTable {
		m[info.typeURL] = k
	}
	return m
}()

func (k Kind) String() string {
	if info, ok := kindTable[k]; ok {
		return info.name
	}
	return "unknown"
}

// TypeURL is the constant type URL of k, empty for KindUnknown.
func (k Kind) TypeURL() string {
	return kindTable[k].typeURL
}

// KindOf returns the kind registered for typeURL.
func KindOf(typeURL string) Kind {
	return kindByURL[typeURL]
}

// Message is a decoded Any. Known kinds hold their concrete payload type; a
// KindUnknown message holds whatever the interface registry resolved.
type Message struct {
	Kind  Kind
	Value proto.Message
}

// NewMessage tags v with its kind. Only known kinds can be built this way.
func NewMessage(v proto.Message) (Message, error) {
	kind := KindOf(typeURLOf(v))
	if kind == KindUnknown {
		return Message{}, errorsmod.Wrapf(types.ErrValidation, "%s is not a known message kind", typeURLOf(v))
	}
	return Message{Kind: kind, Value: v}, nil
}

// ToAny wraps the message into an Any envelope.
func (m Message) ToAny() (*codectypes.Any, error) {
	return ToAny(m.Value)
}

// ToAny wraps any protobuf message into an Any envelope carrying its type URL.
func ToAny(msg proto.Message) (*codectypes.Any, error) {
	if msg == nil {
		return nil, errorsmod.Wrap(types.ErrSerialization, "cannot pack nil message")
	}
	anyMsg, err := codectypes.NewAnyWithValue(msg)
	if err != nil {
		return nil, types.WrapKind(types.ErrSerialization, err, "packing %s", typeURLOf(msg))
	}
	return anyMsg, nil
}

// FromAny decodes anyMsg into target. The envelope must carry exactly the type
// URL of target; any other URL fails without touching target.
func FromAny(anyMsg *codectypes.Any, target proto.Message) error {
	if anyMsg == nil {
		return errorsmod.Wrap(types.ErrSerialization, "nil any")
	}
	expected := typeURLOf(target)
	if anyMsg.TypeUrl != expected {
		return types.NewMultiKind(
			fmt.Sprintf("type url mismatch: expected %s, got %s", expected, anyMsg.TypeUrl),
			types.ErrValidation, types.ErrSerialization,
		)
	}
	if err := proto.Unmarshal(anyMsg.Value, target); err != nil {
		return types.WrapKind(types.ErrSerialization, err, "decoding %s", expected)
	}
	return nil
}

// Decode turns anyMsg into a Message. Known type URLs decode into their
// concrete types; other URLs are resolved through the codec's registry.
func Decode(cdc Codec, anyMsg *codectypes.Any) (Message, error) {
	if anyMsg == nil {
		return Message{}, errorsmod.Wrap(types.ErrSerialization, "nil any")
	}
	if kind := KindOf(anyMsg.TypeUrl); kind != KindUnknown {
		v := kindTable[kind].new()
		if err := FromAny(anyMsg, v); err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, Value: v}, nil
	}

	v, err := cdc.InterfaceRegistry.Resolve(anyMsg.TypeUrl)
	if err != nil {
		return Message{}, types.WrapKind(types.ErrSerialization, err, "resolving %s", anyMsg.TypeUrl)
	}
	if err := proto.Unmarshal(anyMsg.Value, v); err != nil {
		return Message{}, types.WrapKind(types.ErrSerialization, err, "decoding %s", anyMsg.TypeUrl)
	}
	return Message{Kind: KindUnknown, Value: v}, nil
}

func typeURLOf(msg proto.Message) string {
	return "/" + proto.MessageName(msg)
}
