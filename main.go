package main

import (
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/cosmos/solo-machine/cmd"
)

func main() {
	cmd.Execute()
}

func init() {
	// Chains use different bech32 prefixes; the address cache would hand out
	// strings encoded with whichever prefix was cached first.
	sdk.SetAddrCacheEnabled(false)
}
