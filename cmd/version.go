package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cosmos/solo-machine/internal/solometrics"
)

// Set through -ldflags by the release build.
var (
	Version = ""
	Commit  = ""
	Dirty   = ""
)

func getVersionCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print the solo machine version and the IBC stack it was built with",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s version --json
$ %s v`,
			appName, appName,
		)),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool(flagJSON)
			if err != nil {
				return err
			}

			info := solometrics.ReadBuildInfo(Version, Commit, Dirty != "" && Dirty != "0")
			var out []byte
			if asJSON {
				out, err = json.Marshal(info)
			} else {
				out, err = yaml.Marshal(&info)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	return jsonFlag(a.viper, cmd)
}
