package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cosmos/solo-machine/solomachine/provider"
)

const appName = "solo-machine"

var defaultHome = filepath.Join(os.Getenv("HOME"), ".solo-machine")

const (
	cfgDir  = "config"
	cfgFile = "config.yaml"
	keyDir  = "keys"
)

// Option customizes the root command.
type Option func(*appState)

// WithRPCClient makes every command talk to chains through c instead of
// plain HTTP.
func WithRPCClient(c provider.RPCClient) Option {
	return func(a *appState) { a.rpc = c }
}

// NewRootCmd returns the root command for the solo machine CLI.
//
// If log is nil, a new zap.Logger is set on the app state
// based on the command line flags regarding logging.
func NewRootCmd(log *zap.Logger, opts ...Option) *cobra.Command {
	a := &appState{
		viper: viper.New(),
		Log:   log,
	}
	for _, opt := range opts {
		opt(a)
	}

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "An IBC solo machine that connects to Cosmos chains and moves tokens over ICS-20 and ICS-27",
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// reads `homeDir/config/config.yaml` into `a.Config`
		if err := a.loadConfigFile(); err != nil {
			return err
		}

		if a.Log == nil {
			format := a.viper.GetString("log-format")
			if !cmd.Flags().Changed("log-format") && a.Config != nil && a.Config.Global.LogFormat != "" {
				format = a.Config.Global.LogFormat
			}
			log, err := newRootLogger(format, a.viper.GetBool("debug"))
			if err != nil {
				return err
			}
			a.Log = log
		}
		return nil
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, _ []string) {
		// Errors are ignored here; stderr may already be closed.
		_ = a.Log.Sync()
	}

	rootCmd.PersistentFlags().StringVar(&a.HomePath, flagHome, defaultHome, "set home directory")
	if err := a.viper.BindPFlag(flagHome, rootCmd.PersistentFlags().Lookup(flagHome)); err != nil {
		panic(err)
	}

	rootCmd.PersistentFlags().BoolVarP(&a.Debug, "debug", "d", false, "debug output")
	if err := a.viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err)
	}

	rootCmd.PersistentFlags().String("log-format", "auto", "log output format (auto, logfmt, json, or console)")
	if err := a.viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format")); err != nil {
		panic(err)
	}

	a.viper.SetEnvPrefix("SOLO_MACHINE")
	a.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.viper.AutomaticEnv()

	rootCmd.AddCommand(
		configCmd(a),
		keysCmd(a),
		chainCmd(a),
		ibcCmd(a),
		icaCmd(a),
		getVersionCmd(a),
	)

	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.EnableCommandSorting = false

	rootCmd := NewRootCmd(nil)
	rootCmd.SilenceUsage = true

	// Cancel the context on the first interrupt. A second interrupt exits
	// without waiting for in-flight transactions.
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootLogger(format string, debug bool) (*zap.Logger, error) {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format("2006-01-02T15:04:05.000000Z07:00"))
	}
	config.LevelKey = "lvl"

	var enc zapcore.Encoder
	switch format {
	case "json":
		enc = zapcore.NewJSONEncoder(config)
	case "auto", "console":
		enc = zapcore.NewConsoleEncoder(config)
	case "logfmt":
		enc = zaplogfmt.NewEncoder(config)
	default:
		return nil, fmt.Errorf("unrecognized log format %q", format)
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	return zap.New(zapcore.NewCore(
		enc,
		os.Stderr,
		level,
	)), nil
}

// withUsage wraps a PositionalArgs to display usage only when the
// PositionalArgs variant is violated.
func withUsage(inner cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := inner(cmd, args); err != nil {
			cmd.Root().SilenceUsage = false
			cmd.SilenceUsage = false
			return err
		}

		return nil
	}
}
