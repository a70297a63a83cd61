package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionDetailsAdvance(t *testing.T) {
	var d ConnectionDetails

	require.ErrorIs(t, d.Advance(StageConnectionOpen), ErrPrecondition)
	require.ErrorIs(t, d.Advance(StageClientCreated), ErrPrecondition)

	d.SoloMachineClientID = "06-solomachine-0"
	d.TendermintClientID = SoloMachineTendermintClientID
	d.TendermintClientHeight = 10
	require.NoError(t, d.Advance(StageClientCreated))
	require.ErrorIs(t, d.Advance(StageClientCreated), ErrPrecondition)

	require.NoError(t, d.Require(StageClientCreated))
	require.ErrorIs(t, d.Require(StageChannelOpen), ErrPrecondition)

	d.TendermintConnectionID = "connection-3"
	d.SoloMachineConnectionID = SoloMachineConnectionID
	require.NoError(t, d.Advance(StageConnectionOpen))

	require.ErrorIs(t, d.Advance(StageChannelOpen), ErrPrecondition)
	d.SoloMachineChannelID = SoloMachineTransferChannelID
	d.TendermintChannelID = "channel-7"
	require.NoError(t, d.Advance(StageChannelOpen))
	require.Equal(t, StageChannelOpen, d.Stage)
}

func TestStageText(t *testing.T) {
	for stage := StageUninitialized; stage <= StageChannelOpen; stage++ {
		text, err := stage.MarshalText()
		require.NoError(t, err)

		var got Stage
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, stage, got)
	}

	_, err := Stage(9).MarshalText()
	require.ErrorIs(t, err, ErrSerialization)

	var s Stage
	require.ErrorIs(t, s.UnmarshalText([]byte("open")), ErrSerialization)
}

func TestChainStateClone(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s := NewChainState("testchain-1", "node", DefaultChainConfig(), now)
	s.ICA = &ICAChannel{Owner: "alice", PacketSequence: 1}

	c := s.Clone()
	c.Sequence = 5
	c.ICA.PacketSequence = 9
	c.Connection.Stage = StageClientCreated

	require.Equal(t, uint64(1), s.Sequence)
	require.Equal(t, uint64(1), s.ICA.PacketSequence)
	require.Equal(t, StageUninitialized, s.Connection.Stage)
	require.Equal(t, uint64(now.UnixNano()), s.ConsensusTimestamp)
	require.Equal(t, uint64(5), c.Height().RevisionHeight)
}

func TestChainStateCheckAdvance(t *testing.T) {
	s := NewChainState("testchain-1", "node", DefaultChainConfig(), time.Now())

	next := s.Clone()
	next.Sequence += 3
	next.ConsensusTimestamp++
	require.NoError(t, s.CheckAdvance(next))

	back := s.Clone()
	back.Sequence = 0
	require.ErrorIs(t, s.CheckAdvance(back), ErrPrecondition)

	skip := s.Clone()
	skip.Connection.Stage = StageConnectionOpen
	require.ErrorIs(t, s.CheckAdvance(skip), ErrPrecondition)

	other := s.Clone()
	other.ID = "other-1"
	require.ErrorIs(t, s.CheckAdvance(other), ErrPrecondition)
}

func TestChainStateCheckAdvanceEpoch(t *testing.T) {
	s := NewChainState("testchain-1", "node", DefaultChainConfig(), time.Now())
	s.Connection.Stage = StageChannelOpen

	restarted := s.Clone()
	restarted.Connection = s.Connection.Restart()
	require.Equal(t, uint64(1), restarted.Connection.Epoch)
	require.Equal(t, StageUninitialized, restarted.Connection.Stage)
	require.NoError(t, s.CheckAdvance(restarted))

	restarted.Connection.Stage = StageClientCreated
	require.NoError(t, s.CheckAdvance(restarted))

	restarted.Connection.Stage = StageConnectionOpen
	require.ErrorIs(t, s.CheckAdvance(restarted), ErrPrecondition)

	jump := s.Clone()
	jump.Connection = ConnectionDetails{Epoch: 2}
	require.ErrorIs(t, s.CheckAdvance(jump), ErrPrecondition)

	older := restarted.Clone()
	older.Connection = ConnectionDetails{Stage: StageChannelOpen}
	restarted.Connection.Stage = StageClientCreated
	require.ErrorIs(t, restarted.CheckAdvance(older), ErrPrecondition)
}

func TestChainStateJSON(t *testing.T) {
	s := NewChainState("testchain-1", "node", DefaultChainConfig(), time.Unix(1700000000, 0).UTC())
	s.Connection.Stage = StageClientCreated
	s.Connection.SoloMachineClientID = "06-solomachine-0"

	bz, err := json.Marshal(s)
	require.NoError(t, err)
	require.Contains(t, string(bz), `"stage":"client-created"`)

	var got ChainState
	require.NoError(t, json.Unmarshal(bz, &got))
	require.Equal(t, *s, got)
}

func TestChainConfigValidate(t *testing.T) {
	require.NoError(t, DefaultChainConfig().Validate())

	tests := []struct {
		name   string
		modify func(*ChainConfig)
	}{
		{"blank rpc", func(c *ChainConfig) { c.RPCAddr = "" }},
		{"bad fee", func(c *ChainConfig) { c.Fee.Amount = "-1" }},
		{"bad denom", func(c *ChainConfig) { c.Fee.Denom = "1" }},
		{"zero gas", func(c *ChainConfig) { c.Fee.GasLimit = 0 }},
		{"trust level", func(c *ChainConfig) { c.TrustLevel = TrustLevel{Numerator: 1, Denominator: 4} }},
		{"trusting period", func(c *ChainConfig) { c.TrustingPeriod = 0 }},
		{"diversifier", func(c *ChainConfig) { c.Diversifier = " " }},
		{"port", func(c *ChainConfig) { c.PortID = "p" }},
		{"hash", func(c *ChainConfig) { c.TrustedHash = "zz"; c.TrustedHeight = 1 }},
		{"hash without height", func(c *ChainConfig) { c.TrustedHash = "abcd" }},
		{"poll", func(c *ChainConfig) { c.ConfirmationTimeout = time.Millisecond }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultChainConfig()
			tc.modify(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrValidation)
		})
	}
}
