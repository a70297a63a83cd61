// Package clitest enables testing the solo machine command-line interface
// from within Go unit tests.
package clitest

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/cosmos/solo-machine/cmd"
	"github.com/cosmos/solo-machine/internal/solotest"
	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/signer"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// System is a system under test.
type System struct {
	// Temporary directory to be injected as --home argument.
	HomeDir string

	// RPC, when set, replaces the HTTP client for every command.
	RPC provider.RPCClient
}

// NewSystem creates a new system with a home dir associated with a temp dir belonging to t.
//
// The returned System does not store a reference to t;
// some of its methods expect a *testing.T as an argument.
// This allows creating one instance of System to be shared with subtests.
func NewSystem(t *testing.T) *System {
	t.Helper()

	return &System{
		HomeDir: t.TempDir(),
	}
}

// RunResult is the stdout and stderr resulting from a call to (*System).Run,
// and any error that was returned.
type RunResult struct {
	Stdout, Stderr bytes.Buffer

	Err error
}

// Run calls s.RunC with context.Background().
func (s *System) Run(log *zap.Logger, args ...string) RunResult {
	return s.RunC(context.Background(), log, args...)
}

// RunC calls s.RunWithInputC with an empty stdin.
func (s *System) RunC(ctx context.Context, log *zap.Logger, args ...string) RunResult {
	return s.RunWithInputC(ctx, log, bytes.NewReader(nil), args...)
}

// RunWithInput is shorthand for RunWithInputC(context.Background(), ...).
func (s *System) RunWithInput(log *zap.Logger, in io.Reader, args ...string) RunResult {
	return s.RunWithInputC(context.Background(), log, in, args...)
}

// RunWithInputC executes the root command with the given context and args,
// providing in as the command's standard input,
// and returns a RunResult that has its Stdout and Stderr populated.
func (s *System) RunWithInputC(ctx context.Context, log *zap.Logger, in io.Reader, args ...string) RunResult {
	var opts []cmd.Option
	if s.RPC != nil {
		opts = append(opts, cmd.WithRPCClient(s.RPC))
	}
	rootCmd := cmd.NewRootCmd(log, opts...)
	rootCmd.SetIn(in)
	// cmd.Execute also sets SilenceUsage,
	// so match that here for more correct assertions.
	rootCmd.SilenceUsage = true

	var res RunResult
	rootCmd.SetOut(&res.Stdout)
	rootCmd.SetErr(&res.Stderr)

	// Prepend the system's home directory to any provided args.
	args = append([]string{"--home", s.HomeDir}, args...)
	rootCmd.SetArgs(args)

	res.Err = rootCmd.ExecuteContext(ctx)
	return res
}

// MustRun calls Run, but also calls t.Fatal if RunResult.Err is not nil.
func (s *System) MustRun(t *testing.T, args ...string) RunResult {
	t.Helper()

	return s.MustRunWithInput(t, bytes.NewReader(nil), args...)
}

// MustRunWithInput calls RunWithInput, but also calls t.Fatal if RunResult.Err is not nil.
func (s *System) MustRunWithInput(t *testing.T, in io.Reader, args ...string) RunResult {
	t.Helper()

	res := s.RunWithInput(zaptest.NewLogger(t), in, args...)
	if res.Err != nil {
		t.Logf("Error executing %v: %v", args, res.Err)
		t.Logf("Stdout: %q", res.Stdout.String())
		t.Logf("Stderr: %q", res.Stderr.String())
		t.FailNow()
	}

	return res
}

// MustInit runs "config init" and restores TestMnemonic as the signing key.
func (s *System) MustInit(t *testing.T) {
	t.Helper()

	_ = s.MustRun(t, "config", "init")
	_ = s.MustRun(t, "keys", "restore", TestMnemonic)
}

// MustAddChain funds the default account on c and calls "chain add" with
// short confirmation intervals.
func (s *System) MustAddChain(t *testing.T, c *solotest.Chain) {
	t.Helper()

	c.Fund(TestAddress(t, c.Prefix()), sdk.NewCoins(sdk.NewInt64Coin("stake", 10_000_000)))

	cfg := c.Config()
	_ = s.MustRun(t, "chain", "add", cfg.RPCAddr,
		"--account-prefix", c.Prefix(),
		"--confirmation-poll-interval", cfg.ConfirmationPollInterval.String(),
		"--confirmation-timeout", cfg.ConfirmationTimeout.String(),
		"--rpc-timeout", cfg.RPCTimeout.String(),
	)
}

// MustGetConfig reads and decodes config/config.yaml.
func (s *System) MustGetConfig(t *testing.T) (config cmd.Config) {
	t.Helper()

	configBz, err := os.ReadFile(filepath.Join(s.HomeDir, "config", "config.yaml"))
	require.NoError(t, err, "failed to read config file")

	err = yaml.Unmarshal(configBz, &config)
	require.NoError(t, err, "failed to unmarshal config file")

	return config
}

// TestMnemonic is a fixed mnemonic, helpful for tests that need one.
const TestMnemonic = solotest.TestMnemonic

// TestAddress is the address TestMnemonic derives at the default hd path.
func TestAddress(t *testing.T, prefix string) string {
	t.Helper()
	return KeyAddress(t, signer.DefaultHDPath, prefix)
}

// KeyAddress is the address TestMnemonic derives at hdPath.
func KeyAddress(t *testing.T, hdPath, prefix string) string {
	t.Helper()

	priv, err := signer.DeriveKey(TestMnemonic, hdPath)
	require.NoError(t, err)
	s := signer.NewKeySigner(priv, prefix)
	addr, err := s.AccountAddress(context.Background(), types.ChainID(""))
	require.NoError(t, err)
	return addr
}
