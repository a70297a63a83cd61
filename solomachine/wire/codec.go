package wire

import (
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	"github.com/cosmos/cosmos-sdk/std"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	icatypes "github.com/cosmos/ibc-go/v8/modules/apps/27-interchain-accounts/types"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	commitmenttypes "github.com/cosmos/ibc-go/v8/modules/core/23-commitment/types"
	solomachine "github.com/cosmos/ibc-go/v8/modules/light-clients/06-solomachine"
	ibctm "github.com/cosmos/ibc-go/v8/modules/light-clients/07-tendermint"
)

// Codec bundles the interface registry and the binary codec used for every
// message the solo machine encodes or decodes.
type Codec struct {
	InterfaceRegistry codectypes.InterfaceRegistry
	Marshaler         codec.Codec
}

// MakeCodec registers the SDK, IBC core, light client and application types
// the solo machine exchanges with a chain.
func MakeCodec() Codec {
	interfaceRegistry := codectypes.NewInterfaceRegistry()
	std.RegisterInterfaces(interfaceRegistry)
	authtypes.RegisterInterfaces(interfaceRegistry)
	banktypes.RegisterInterfaces(interfaceRegistry)
	clienttypes.RegisterInterfaces(interfaceRegistry)
	conntypes.RegisterInterfaces(interfaceRegistry)
	chantypes.RegisterInterfaces(interfaceRegistry)
	commitmenttypes.RegisterInterfaces(interfaceRegistry)
	transfertypes.RegisterInterfaces(interfaceRegistry)
	icatypes.RegisterInterfaces(interfaceRegistry)
	solomachine.RegisterInterfaces(interfaceRegistry)
	ibctm.RegisterInterfaces(interfaceRegistry)

	return Codec{
		InterfaceRegistry: interfaceRegistry,
		Marshaler:         codec.NewProtoCodec(interfaceRegistry),
	}
}
