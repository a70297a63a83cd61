package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/spf13/cobra"

	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

func icaCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ica",
		Short: "Interchain account operations",
	}

	cmd.AddCommand(
		icaOpenCmd(a),
		icaSendCmd(a),
	)

	return cmd
}

func icaOpenCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "open [chain-id] [owner]",
		Aliases: []string{"o"},
		Short:   "Opens an interchain account channel owned by owner and prints the account address",
		Args:    withUsage(cobra.ExactArgs(2)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s ica open cosmoshub-4 treasury`, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			requestID, err := getRequestID(cmd)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				ica, err := e.handler.OpenICAChannel(cmd.Context(), chainID, args[1], requestID)
				if err != nil {
					return err
				}
				return printJSON(cmd, ica)
			})
		},
	}
	return requestIDFlag(a.viper, cmd)
}

func icaSendCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "send [chain-id] [msgs-file]",
		Aliases: []string{"s"},
		Short:   "Has the interchain account execute the messages in msgs-file",
		Long: "Has the interchain account execute the messages in msgs-file, " +
			"a json array of messages each carrying its type in an \"@type\" field.",
		Args: withUsage(cobra.ExactArgs(2)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ cat msgs.json
[{"@type": "/cosmos.bank.v1beta1.MsgSend", "from_address": "cosmos1...", "to_address": "cosmos1...", "amount": [{"denom": "stake", "amount": "10"}]}]
$ %s ica send cosmoshub-4 msgs.json`, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			msgs, err := readMsgs(args[1])
			if err != nil {
				return err
			}
			memo, err := cmd.Flags().GetString(flagMemo)
			if err != nil {
				return err
			}
			requestID, err := getRequestID(cmd)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				op, err := e.handler.SendICA(cmd.Context(), chainID, msgs, memo, requestID)
				return printOperation(cmd, op, err)
			})
		},
	}
	return requestIDFlag(a.viper, memoFlag(a.viper, cmd))
}

func readMsgs(file string) ([]sdk.Msg, error) {
	bz, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(bz, &raws); err != nil {
		return nil, fmt.Errorf("%s must hold a json array of messages: %w", file, err)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("%s holds no messages", file)
	}

	cdc := wire.MakeCodec()
	msgs := make([]sdk.Msg, len(raws))
	for i, raw := range raws {
		if err := cdc.Marshaler.UnmarshalInterfaceJSON(raw, &msgs[i]); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return msgs, nil
}
