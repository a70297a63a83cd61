package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cosmos/solo-machine/internal/solometrics"
	"github.com/cosmos/solo-machine/solomachine"
	"github.com/cosmos/solo-machine/solomachine/event"
	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/rpc"
	"github.com/cosmos/solo-machine/solomachine/signer"
	"github.com/cosmos/solo-machine/solomachine/store"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

// appState is the modifiable state of the application.
type appState struct {
	// Log is the root logger of the application.
	// Consumers are expected to store and use local copies of the logger
	// after modifying with the .With method.
	Log *zap.Logger

	viper *viper.Viper

	HomePath string
	Debug    bool
	Config   *Config

	rpc provider.RPCClient
}

// loadConfigFile reads config.yaml into a.Config. A missing file leaves
// a.Config nil so that commands which need it can report it.
func (a *appState) loadConfigFile() error {
	cfgPath := a.configPath()
	if _, err := os.Stat(cfgPath); err != nil {
		return nil
	}

	a.viper.SetConfigFile(cfgPath)
	if err := a.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cfgPath, err)
	}

	file, err := os.ReadFile(a.viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	a.Config = cfg
	return nil
}

// writeConfig replaces config.yaml with cfg and makes it the current config.
func (a *appState) writeConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	cfgPath := a.configPath()
	if err := os.MkdirAll(filepath.Dir(cfgPath), os.ModePerm); err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, out, 0o600); err != nil {
		return err
	}

	a.Config = cfg
	return nil
}

func (a *appState) mnemonicPath() string {
	return filepath.Join(a.HomePath, keyDir, "mnemonic")
}

// mnemonic returns the mnemonic from SOLO_MACHINE_MNEMONIC or, when unset,
// from the keys directory.
func (a *appState) mnemonic() (string, error) {
	if m := strings.TrimSpace(a.viper.GetString("mnemonic")); m != "" {
		return m, nil
	}
	bz, err := os.ReadFile(a.mnemonicPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errNoMnemonic
		}
		return "", err
	}
	return strings.TrimSpace(string(bz)), nil
}

func (a *appState) writeMnemonic(mnemonic string) error {
	p := a.mnemonicPath()
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("a mnemonic already exists at %s", p)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(mnemonic+"\n"), 0o600)
}

func (a *appState) dbPath() string {
	if filepath.IsAbs(a.Config.Global.DBPath) {
		return a.Config.Global.DBPath
	}
	return filepath.Join(a.HomePath, a.Config.Global.DBPath)
}

// engine is everything a command needs to run solo machine operations.
type engine struct {
	handler *solomachine.Handler
	signer  *signer.MnemonicSigner
	store   *store.Store
}

// withEngine opens the database, builds the signer for every known chain and
// runs fn with a handler over them. New chains get addresses with prefix, or
// the configured account prefix when prefix is empty.
func (a *appState) withEngine(ctx context.Context, prefix string, fn func(e *engine) error) (err error) {
	if a.Config == nil {
		return errConfigNotFound(a.configPath())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mnemonic, err := a.mnemonic()
	if err != nil {
		return err
	}
	if prefix == "" {
		prefix = a.Config.Global.AccountPrefix
	}
	sig, err := signer.NewMnemonicSigner(mnemonic, a.Config.Global.HDPath, prefix)
	if err != nil {
		return err
	}

	st, err := store.Open(a.dbPath(), wire.MakeCodec(), a.Log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()

	states, err := st.ListChainStates(ctx)
	if err != nil {
		return err
	}
	for _, state := range states {
		priv, err := signer.DeriveKey(mnemonic, a.Config.hdPath(state.ID))
		if err != nil {
			return fmt.Errorf("deriving key of %s: %w", state.ID, err)
		}
		sig.SetChainKey(state.ID, priv, state.Config.AccountPrefix)
	}

	events, err := a.eventHandler(ctx)
	if err != nil {
		return err
	}

	rpcClient := a.rpc
	if rpcClient == nil {
		rpcClient = rpc.NewHTTPClient()
	}

	h, err := solomachine.NewHandler(provider.Context{
		Signer:  sig,
		Storage: st,
		RPC:     rpcClient,
		Events:  events,
	},
		solomachine.WithLogger(a.Log),
		solomachine.WithMemo(a.Config.Global.Memo),
	)
	if err != nil {
		return err
	}

	return fn(&engine{handler: h, signer: sig, store: st})
}

// eventHandler logs every event and, when a metrics address is configured,
// exports them until ctx is done.
func (a *appState) eventHandler(ctx context.Context) (provider.EventHandler, error) {
	handlers := event.Multi{event.NewLogHandler(a.Log)}

	addr := a.Config.Global.MetricsListenAddr
	if addr == "" {
		return handlers, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		a.Log.Error(
			"Failed to listen on metrics address. If another solo machine process is running, set global.metrics-listen-addr to a different address.",
			zap.String("address", addr),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to listen on metrics address %q: %w", addr, err)
	}
	metrics := event.NewPrometheusMetrics()
	solometrics.StartMetricsServer(ctx, a.Log.With(zap.String("sys", "metricshttp")), ln, metrics.Registry)

	return append(handlers, metrics), nil
}
