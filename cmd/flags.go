package cmd

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cosmos/solo-machine/solomachine/types"
)

const (
	flagHome              = "home"
	flagJSON              = "json"
	flagForce             = "force"
	flagMemo              = "memo"
	flagAddress           = "address"
	flagRequestID         = "request-id"
	flagLimit             = "limit"
	flagOffset            = "offset"
	flagMetricsListenAddr = "metrics-listen-addr"
	flagPubKey            = "pubkey"

	flagGRPCAddr                  = "grpc-addr"
	flagAccountPrefix             = "account-prefix"
	flagFeeAmount                 = "fee-amount"
	flagFeeDenom                  = "fee-denom"
	flagGasLimit                  = "gas-limit"
	flagTrustingPeriod            = "trusting-period"
	flagMaxClockDrift             = "max-clock-drift"
	flagRPCTimeout                = "rpc-timeout"
	flagDiversifier               = "diversifier"
	flagPortID                    = "port-id"
	flagTrustedHeight             = "trusted-height"
	flagTrustedHash               = "trusted-hash"
	flagPacketTimeoutHeightOffset = "packet-timeout-height-offset"
	flagConfirmationPollInterval  = "confirmation-poll-interval"
	flagConfirmationTimeout       = "confirmation-timeout"
)

func jsonFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().BoolP(flagJSON, "j", false, "returns the response in json format")
	if err := v.BindPFlag(flagJSON, cmd.Flags().Lookup(flagJSON)); err != nil {
		panic(err)
	}
	return cmd
}

func forceFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().BoolP(flagForce, "f", false, "start a new handshake even if the chain is already connected")
	if err := v.BindPFlag(flagForce, cmd.Flags().Lookup(flagForce)); err != nil {
		panic(err)
	}
	return cmd
}

func memoFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagMemo, "", "memo to include")
	if err := v.BindPFlag(flagMemo, cmd.Flags().Lookup(flagMemo)); err != nil {
		panic(err)
	}
	return cmd
}

func addressFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagAddress, "", "account on the chain; defaults to the signer's account")
	if err := v.BindPFlag(flagAddress, cmd.Flags().Lookup(flagAddress)); err != nil {
		panic(err)
	}
	return cmd
}

func metricsListenAddrFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagMetricsListenAddr, "", "address to serve metrics and pprof on while commands run")
	if err := v.BindPFlag(flagMetricsListenAddr, cmd.Flags().Lookup(flagMetricsListenAddr)); err != nil {
		panic(err)
	}
	return cmd
}

func paginationFlags(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().IntP(flagLimit, "l", 100, "maximum number of records to return; 0 returns all")
	cmd.Flags().IntP(flagOffset, "o", 0, "number of records to skip")
	if err := v.BindPFlag(flagLimit, cmd.Flags().Lookup(flagLimit)); err != nil {
		panic(err)
	}
	if err := v.BindPFlag(flagOffset, cmd.Flags().Lookup(flagOffset)); err != nil {
		panic(err)
	}
	return cmd
}

// requestIDFlag adds --request-id. Commands that send transactions tag
// their events and records with it.
func requestIDFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagRequestID, "", "id recorded with every operation; a random UUID if unset")
	if err := v.BindPFlag(flagRequestID, cmd.Flags().Lookup(flagRequestID)); err != nil {
		panic(err)
	}
	return cmd
}

func getRequestID(cmd *cobra.Command) (string, error) {
	id, err := cmd.Flags().GetString(flagRequestID)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	return id, nil
}

// chainConfigFlags adds a flag for every chain setting. Their defaults are
// only shown for reference; unset flags take the config file's
// chain-defaults.
func chainConfigFlags(cmd *cobra.Command) *cobra.Command {
	d := types.DefaultChainConfig()
	f := cmd.Flags()
	f.String(flagGRPCAddr, "", "gRPC address of the node, recorded for reference")
	f.String(flagAccountPrefix, d.AccountPrefix, "bech32 prefix of account addresses")
	f.String(flagFeeAmount, d.Fee.Amount, "fee paid per transaction")
	f.String(flagFeeDenom, d.Fee.Denom, "denomination of the fee")
	f.Uint64(flagGasLimit, d.Fee.GasLimit, "gas limit per transaction")
	f.Duration(flagTrustingPeriod, d.TrustingPeriod, "trusting period of the tendermint client")
	f.Duration(flagMaxClockDrift, d.MaxClockDrift, "max clock drift of the tendermint client")
	f.Duration(flagRPCTimeout, d.RPCTimeout, "timeout of every RPC request")
	f.String(flagDiversifier, d.Diversifier, "solo machine diversifier")
	f.String(flagPortID, d.PortID.String(), "ICS-20 port on the chain")
	f.Uint64(flagTrustedHeight, 0, "height of the header the tendermint client is built from; latest if 0")
	f.String(flagTrustedHash, "", "hex hash the trusted header must have")
	f.Uint64(flagPacketTimeoutHeightOffset, d.PacketTimeoutHeightOffset, "blocks after which packets sent to the chain time out")
	f.Duration(flagConfirmationPollInterval, d.ConfirmationPollInterval, "interval between transaction inclusion checks")
	f.Duration(flagConfirmationTimeout, d.ConfirmationTimeout, "time to wait for a transaction to be included")
	return cmd
}

// chainConfig applies the chain flags that were set on top of base.
func chainConfig(cmd *cobra.Command, base types.ChainConfig) (types.ChainConfig, error) {
	cfg := base
	f := cmd.Flags()

	strs := []struct {
		name string
		dst  *string
	}{
		{flagGRPCAddr, &cfg.GRPCAddr},
		{flagAccountPrefix, &cfg.AccountPrefix},
		{flagFeeAmount, &cfg.Fee.Amount},
		{flagFeeDenom, &cfg.Fee.Denom},
		{flagDiversifier, &cfg.Diversifier},
		{flagTrustedHash, &cfg.TrustedHash},
	}
	for _, s := range strs {
		if !f.Changed(s.name) {
			continue
		}
		v, err := f.GetString(s.name)
		if err != nil {
			return cfg, err
		}
		*s.dst = v
	}

	uints := []struct {
		name string
		dst  *uint64
	}{
		{flagGasLimit, &cfg.Fee.GasLimit},
		{flagTrustedHeight, &cfg.TrustedHeight},
		{flagPacketTimeoutHeightOffset, &cfg.PacketTimeoutHeightOffset},
	}
	for _, u := range uints {
		if !f.Changed(u.name) {
			continue
		}
		v, err := f.GetUint64(u.name)
		if err != nil {
			return cfg, err
		}
		*u.dst = v
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{flagTrustingPeriod, &cfg.TrustingPeriod},
		{flagMaxClockDrift, &cfg.MaxClockDrift},
		{flagRPCTimeout, &cfg.RPCTimeout},
		{flagConfirmationPollInterval, &cfg.ConfirmationPollInterval},
		{flagConfirmationTimeout, &cfg.ConfirmationTimeout},
	}
	for _, d := range durations {
		if !f.Changed(d.name) {
			continue
		}
		v, err := f.GetDuration(d.name)
		if err != nil {
			return cfg, err
		}
		*d.dst = v
	}

	if f.Changed(flagPortID) {
		v, err := f.GetString(flagPortID)
		if err != nil {
			return cfg, err
		}
		cfg.PortID = types.PortID(v)
	}
	return cfg, nil
}
