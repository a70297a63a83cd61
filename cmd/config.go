package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cosmos/solo-machine/solomachine/signer"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// Config is the content of config/config.yaml under the home directory.
type Config struct {
	Global        GlobalConfig      `yaml:"global" json:"global"`
	ChainDefaults types.ChainConfig `yaml:"chain-defaults" json:"chain-defaults"`
	// Signers maps a chain id to the hd path of the key signing for it when
	// it differs from the global one.
	Signers map[string]string `yaml:"signers,omitempty" json:"signers,omitempty"`
}

// GlobalConfig holds the settings shared by every chain.
type GlobalConfig struct {
	LogFormat         string `yaml:"log-format" json:"log-format"`
	DBPath            string `yaml:"db-path" json:"db-path"`
	HDPath            string `yaml:"hd-path" json:"hd-path"`
	AccountPrefix     string `yaml:"account-prefix" json:"account-prefix"`
	Memo              string `yaml:"memo" json:"memo"`
	MetricsListenAddr string `yaml:"metrics-listen-addr" json:"metrics-listen-addr"`
}

func defaultConfig() *Config {
	defaults := types.DefaultChainConfig()
	defaults.RPCAddr = ""
	return &Config{
		Global: GlobalConfig{
			LogFormat:     "auto",
			DBPath:        "data",
			HDPath:        signer.DefaultHDPath,
			AccountPrefix: defaults.AccountPrefix,
		},
		ChainDefaults: defaults,
	}
}

// Validate checks the settings a command cannot recover from at run time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Global.DBPath) == "" {
		return errors.New("global.db-path cannot be blank")
	}
	if strings.TrimSpace(c.Global.AccountPrefix) == "" {
		return errors.New("global.account-prefix cannot be blank")
	}
	for chainID := range c.Signers {
		if _, err := types.NewChainID(chainID); err != nil {
			return fmt.Errorf("signers: %w", err)
		}
	}
	return nil
}

// hdPath returns the derivation path of the key signing for chainID.
func (c *Config) hdPath(chainID types.ChainID) string {
	if p, ok := c.Signers[chainID.String()]; ok {
		return p
	}
	return c.Global.HDPath
}

func configCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"cfg"},
		Short:   "Manage configuration file",
	}

	cmd.AddCommand(
		configShowCmd(a),
		configInitCmd(a),
	)

	return cmd
}

// Command for printing current configuration
func configShowCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"s", "list", "l"},
		Short:   "Prints current configuration",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s config show --home %s
$ %s cfg list`, appName, defaultHome, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Config == nil {
				if _, err := os.Stat(a.HomePath); os.IsNotExist(err) {
					return fmt.Errorf("home path does not exist: %s", a.HomePath)
				}
				return errConfigNotFound(a.configPath())
			}

			jsn, err := cmd.Flags().GetBool(flagJSON)
			if err != nil {
				return err
			}

			var out []byte
			if jsn {
				out, err = json.Marshal(a.Config)
			} else {
				out, err = yaml.Marshal(a.Config)
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

// Command for initializing an empty config at the --home location
func configInitCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "init",
		Aliases: []string{"i"},
		Short:   "Creates a default home directory at path defined by --home",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s config init --home %s
$ %s cfg i`, appName, defaultHome, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := a.configPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}

			memo, err := cmd.Flags().GetString(flagMemo)
			if err != nil {
				return err
			}
			metricsAddr, err := cmd.Flags().GetString(flagMetricsListenAddr)
			if err != nil {
				return err
			}

			cfg := defaultConfig()
			cfg.Global.Memo = memo
			cfg.Global.MetricsListenAddr = metricsAddr
			return a.writeConfig(cfg)
		},
	}

	cmd = memoFlag(a.viper, cmd)
	return metricsListenAddrFlag(a.viper, cmd)
}

func (a *appState) configPath() string {
	return filepath.Join(a.HomePath, cfgDir, cfgFile)
}
