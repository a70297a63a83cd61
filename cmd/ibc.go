package cmd

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine"
	"github.com/cosmos/solo-machine/solomachine/signer"
	"github.com/cosmos/solo-machine/solomachine/types"
)

func ibcCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ibc",
		Short: "IBC operations between the solo machine and a chain",
	}

	cmd.AddCommand(
		ibcConnectCmd(a),
		ibcMintCmd(a),
		ibcBurnCmd(a),
		ibcAckCmd(a),
		ibcUpdateSignerCmd(a),
		ibcHistoryCmd(a),
	)

	return cmd
}

func ibcConnectCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connect [chain-id]",
		Aliases: []string{"c", "link"},
		Short:   "Creates the clients, connection and transfer channel with a chain, resuming an interrupted handshake",
		Args:    withUsage(cobra.ExactArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s ibc connect cosmoshub-4
$ %s ibc connect cosmoshub-4 --force`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool(flagForce)
			if err != nil {
				return err
			}
			requestID, err := getRequestID(cmd)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				state, err := e.handler.Connect(cmd.Context(), chainID, requestID, force)
				if err != nil {
					return err
				}
				a.Log.Info("Chain connected",
					zap.String("chain_id", chainID.String()),
					zap.String("connection_id", state.Connection.SoloMachineConnectionID.String()),
					zap.String("channel_id", state.Connection.TendermintChannelID.String()),
				)
				return printJSON(cmd, state.Connection)
			})
		},
	}
	return requestIDFlag(a.viper, forceFlag(a.viper, cmd))
}

// transferRequest parses the [amount] [denom] arguments and transfer flags.
func transferRequest(cmd *cobra.Command, amount, denom string) (solomachine.TransferRequest, error) {
	amt, ok := sdkmath.NewIntFromString(amount)
	if !ok || !amt.IsPositive() {
		return solomachine.TransferRequest{}, fmt.Errorf("invalid amount %q: must be a positive integer", amount)
	}
	address, err := cmd.Flags().GetString(flagAddress)
	if err != nil {
		return solomachine.TransferRequest{}, err
	}
	memo, err := cmd.Flags().GetString(flagMemo)
	if err != nil {
		return solomachine.TransferRequest{}, err
	}
	return solomachine.TransferRequest{Denom: denom, Amount: amt, Address: address, Memo: memo}, nil
}

// printOperation prints op even when err is set, since some failures are
// reported after the transaction was recorded.
func printOperation(cmd *cobra.Command, op *types.Operation, err error) error {
	if op != nil {
		if perr := printJSON(cmd, op); perr != nil && err == nil {
			return perr
		}
	}
	return err
}

func ibcMintCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mint [chain-id] [amount] [denom]",
		Aliases: []string{"m"},
		Short:   "Sends tokens from the solo machine to an account on the chain",
		Args:    withUsage(cobra.ExactArgs(3)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s ibc mint cosmoshub-4 100 gold
$ %s ibc mint cosmoshub-4 100 gold --address cosmos1...`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			req, err := transferRequest(cmd, args[1], args[2])
			if err != nil {
				return err
			}
			requestID, err := getRequestID(cmd)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				op, err := e.handler.Mint(cmd.Context(), chainID, req, requestID)
				return printOperation(cmd, op, err)
			})
		},
	}
	return requestIDFlag(a.viper, memoFlag(a.viper, addressFlag(a.viper, cmd)))
}

func ibcBurnCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "burn [chain-id] [amount] [denom]",
		Aliases: []string{"b"},
		Short:   "Returns tokens minted on the chain to the solo machine",
		Args:    withUsage(cobra.ExactArgs(3)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s ibc burn cosmoshub-4 100 gold`, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			req, err := transferRequest(cmd, args[1], args[2])
			if err != nil {
				return err
			}
			requestID, err := getRequestID(cmd)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				op, err := e.handler.Burn(cmd.Context(), chainID, req, requestID)
				if err != nil && op != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "burn recorded; run `%s ibc ack %s %s` to acknowledge it\n",
						appName, chainID, op.TransactionHash)
				}
				return printOperation(cmd, op, err)
			})
		},
	}
	return requestIDFlag(a.viper, memoFlag(a.viper, addressFlag(a.viper, cmd)))
}

func ibcAckCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ack [chain-id] [burn-tx-hash]",
		Aliases: []string{"acknowledge"},
		Short:   "Acknowledges the packet of a burn whose acknowledgement failed",
		Args:    withUsage(cobra.ExactArgs(2)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s ibc ack cosmoshub-4 4A1B...`, appName)),
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
				op, err := e.handler.AcknowledgeBurn(cmd.Context(), chainID, args[1], requestID)
				return printOperation(cmd, op, err)
			})
		},
	}
	return requestIDFlag(a.viper, cmd)
}

func ibcUpdateSignerCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "update-signer [chain-id] [hd-path]",
		Aliases: []string{"rotate"},
		Short:   "Rotates the key signing for a chain to the mnemonic's key at hd-path",
		Long: "Rotates the key signing for a chain to the mnemonic's key at hd-path. " +
			"The new key also signs transactions, so its account must be funded afterwards.",
		Args: withUsage(cobra.ExactArgs(2)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s ibc update-signer cosmoshub-4 "m/44'/118'/1'/0/0"`, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			hdPath := args[1]
			requestID, err := getRequestID(cmd)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				state, err := e.handler.GetChain(cmd.Context(), chainID)
				if err != nil {
					return err
				}
				mnemonic, err := a.mnemonic()
				if err != nil {
					return err
				}
				priv, err := signer.DeriveKey(mnemonic, hdPath)
				if err != nil {
					return err
				}

				if _, err := e.handler.UpdateSigner(cmd.Context(), chainID, priv.PubKey(), requestID); err != nil {
					return err
				}

				cfg := *a.Config
				cfg.Signers = make(map[string]string, len(a.Config.Signers)+1)
				for k, v := range a.Config.Signers {
					cfg.Signers[k] = v
				}
				cfg.Signers[chainID.String()] = hdPath
				if err := a.writeConfig(&cfg); err != nil {
					return fmt.Errorf("key rotated on chain but config not saved, add %s: %q under signers: %w", chainID, hdPath, err)
				}

				e.signer.SetChainKey(chainID, priv, state.Config.AccountPrefix)
				address, err := e.signer.AccountAddress(cmd.Context(), chainID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "signer of %s rotated; fund %s to pay for transactions\n", chainID, address)
				return nil
			})
		},
	}
	return requestIDFlag(a.viper, cmd)
}

func ibcHistoryCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history [chain-id]",
		Aliases: []string{"h", "ops"},
		Short:   "Prints the operations recorded for a chain, oldest first",
		Args:    withUsage(cobra.ExactArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s ibc history cosmoshub-4 --limit 10`, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			offset, err := cmd.Flags().GetInt(flagOffset)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				ops, err := e.handler.History(cmd.Context(), chainID, limit, offset)
				if err != nil {
					return err
				}
				return printJSON(cmd, ops)
			})
		},
	}
	return paginationFlags(a.viper, cmd)
}
