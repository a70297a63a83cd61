package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cosmos/solo-machine/solomachine/types"
)

func chainCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chain",
		Aliases: []string{"chains", "ch"},
		Short:   "Commands to add and inspect the chains the solo machine talks to",
	}

	cmd.AddCommand(
		chainAddCmd(a),
		chainShowCmd(a),
		chainListCmd(a),
		chainKeysCmd(a),
	)

	return cmd
}

func chainAddCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add [rpc-addr]",
		Aliases: []string{"a"},
		Short:   "Adds the chain served by the node at rpc-addr and prints the account to fund",
		Long: "Adds the chain served by the node at rpc-addr. The chain id is the one the node reports. " +
			"Settings not given as flags are taken from chain-defaults in the config file.",
		Args: withUsage(cobra.ExactArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s chain add http://localhost:26657
$ %s ch a http://localhost:26657 --fee-amount 2000 --fee-denom uatom --account-prefix cosmos`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Config == nil {
				return errConfigNotFound(a.configPath())
			}
			cfg, err := chainConfig(cmd, a.Config.ChainDefaults)
			if err != nil {
				return err
			}
			cfg.RPCAddr = args[0]

			requestID, err := getRequestID(cmd)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), cfg.AccountPrefix, func(e *engine) error {
				state, err := e.handler.AddChain(cmd.Context(), cfg, requestID)
				if err != nil {
					return err
				}
				address, err := e.signer.AccountAddress(cmd.Context(), state.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s; fund %s to pay for transactions\n", state.ID, address)
				return nil
			})
		},
	}
	return requestIDFlag(a.viper, chainConfigFlags(cmd))
}

func chainShowCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show [chain-id]",
		Aliases: []string{"s"},
		Short:   "Prints the state kept for a chain as json",
		Args:    withUsage(cobra.ExactArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s chain show cosmoshub-4`, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				state, err := e.handler.GetChain(cmd.Context(), chainID)
				if err != nil {
					return err
				}
				return printJSON(cmd, state)
			})
		},
	}
	return cmd
}

type chainStatus struct {
	ChainID      types.ChainID `json:"chain_id"`
	Stage        string        `json:"stage"`
	LatestHeight int64         `json:"latest_height,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func chainListCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l"},
		Short:   "Lists every chain with its handshake stage and the height its node reports",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s chain list
$ %s ch l --json`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsn, err := cmd.Flags().GetBool(flagJSON)
			if err != nil {
				return err
			}

			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				statuses, err := e.handler.Statuses(cmd.Context())
				if err != nil {
					return err
				}
				if len(statuses) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning: no chains found (do you need to run 'chain add'?)")
					return nil
				}

				out := make([]chainStatus, len(statuses))
				for i, s := range statuses {
					out[i] = chainStatus{
						ChainID:      s.State.ID,
						Stage:        s.State.Connection.Stage.String(),
						LatestHeight: s.LatestHeight,
					}
					if s.Err != nil {
						out[i].Error = s.Err.Error()
					}
				}
				if jsn {
					return printJSON(cmd, out)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, s := range out {
					height := fmt.Sprint(s.LatestHeight)
					if s.Error != "" {
						height = "unreachable: " + s.Error
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.ChainID, s.Stage, height)
				}
				return w.Flush()
			})
		},
	}
	return jsonFlag(a.viper, cmd)
}

type chainKey struct {
	ID        uint64    `json:"id"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

func chainKeysCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keys [chain-id]",
		Aliases: []string{"k"},
		Short:   "Prints every public key that has signed for a chain, oldest first",
		Args:    withUsage(cobra.ExactArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s chain keys cosmoshub-4`, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				keys, err := e.handler.ChainKeys(cmd.Context(), chainID)
				if err != nil {
					return err
				}
				out := make([]chainKey, len(keys))
				for i, k := range keys {
					out[i] = chainKey{ID: k.ID, PublicKey: hex.EncodeToString(k.PublicKey.Bytes()), CreatedAt: k.CreatedAt}
				}
				return printJSON(cmd, out)
			})
		},
	}
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
