package cmd

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cosmos/solo-machine/solomachine/signer"
	"github.com/cosmos/solo-machine/solomachine/types"
)

func keysCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keys",
		Aliases: []string{"k"},
		Short:   "Manage the mnemonic the solo machine signs with",
	}

	cmd.AddCommand(
		keysNewCmd(a),
		keysRestoreCmd(a),
		keysShowCmd(a),
	)

	return cmd
}

// keysNewCmd respresents the `keys new` command
func keysNewCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "new",
		Aliases: []string{"n", "add"},
		Short:   "Creates a new mnemonic and prints it with the default account address",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s keys new
$ %s k n`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Config == nil {
				return errConfigNotFound(a.configPath())
			}
			mnemonic, err := signer.CreateMnemonic()
			if err != nil {
				return err
			}
			address, err := a.defaultAddress(cmd, mnemonic)
			if err != nil {
				return err
			}
			if err := a.writeMnemonic(mnemonic); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "mnemonic:", mnemonic)
			fmt.Fprintln(out, "address: ", address)
			return nil
		},
	}
	return cmd
}

// keysRestoreCmd respresents the `keys restore` command
func keysRestoreCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "restore [mnemonic]",
		Aliases: []string{"r"},
		Short:   "Restores a mnemonic, read from standard input when not given, and prints the default account address",
		Args:    withUsage(cobra.MaximumNArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s keys restore "[mnemonic-words]"
$ echo "[mnemonic-words]" | %s k r`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Config == nil {
				return errConfigNotFound(a.configPath())
			}

			var mnemonic string
			if len(args) == 1 {
				mnemonic = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no mnemonic given")
				}
				mnemonic = line
			}
			mnemonic = strings.Join(strings.Fields(mnemonic), " ")

			address, err := a.defaultAddress(cmd, mnemonic)
			if err != nil {
				return err
			}
			if err := a.writeMnemonic(mnemonic); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), address)
			return nil
		},
	}
	return cmd
}

// keysShowCmd respresents the `keys show` command
func keysShowCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show [chain-id]",
		Aliases: []string{"s"},
		Short:   "Prints the account address signing for a chain, or the default one",
		Args:    withUsage(cobra.MaximumNArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s keys show
$ %s keys show cosmoshub-4 --pubkey`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			showPubKey, err := cmd.Flags().GetBool(flagPubKey)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				if a.Config == nil {
					return errConfigNotFound(a.configPath())
				}
				mnemonic, err := a.mnemonic()
				if err != nil {
					return err
				}
				priv, err := signer.DeriveKey(mnemonic, a.Config.Global.HDPath)
				if err != nil {
					return err
				}
				return printKey(cmd, signer.NewKeySigner(priv, a.Config.Global.AccountPrefix), "", showPubKey)
			}

			chainID, err := types.NewChainID(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), "", func(e *engine) error {
				if _, err := e.handler.GetChain(cmd.Context(), chainID); err != nil {
					return err
				}
				return printKey(cmd, e.signer, chainID, showPubKey)
			})
		},
	}
	cmd.Flags().Bool(flagPubKey, false, "also print the hex encoded public key")
	return cmd
}

func printKey(cmd *cobra.Command, s *signer.MnemonicSigner, chainID types.ChainID, showPubKey bool) error {
	address, err := s.AccountAddress(cmd.Context(), chainID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), address)
	if !showPubKey {
		return nil
	}
	pubKey, err := s.PublicKey(cmd.Context(), chainID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pubKey.Bytes()))
	return nil
}

// defaultAddress validates mnemonic and returns its account address at the
// configured hd path.
func (a *appState) defaultAddress(cmd *cobra.Command, mnemonic string) (string, error) {
	s, err := signer.NewMnemonicSigner(mnemonic, a.Config.Global.HDPath, a.Config.Global.AccountPrefix)
	if err != nil {
		return "", err
	}
	return s.AccountAddress(cmd.Context(), "")
}
