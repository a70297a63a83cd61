package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewChainID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"simple", "cosmoshub-4", true},
		{"no revision", "testchain", true},
		{"blank", "   ", false},
		{"empty", "", false},
		{"space", "my chain", false},
		{"slash", "a/b", false},
		{"too long", strings.Repeat("a", 51), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := NewChainID(tc.input)
			if !tc.valid {
				require.ErrorIs(t, err, ErrValidation)
				require.Empty(t, id)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.input, id.String())
		})
	}
}

func TestChainIDRevisionNumber(t *testing.T) {
	require.Equal(t, uint64(4), ChainID("cosmoshub-4").RevisionNumber())
	require.Equal(t, uint64(0), ChainID("testchain").RevisionNumber())
}

func TestIdentifierValidation(t *testing.T) {
	_, err := NewClientID("06-solomachine-0")
	require.NoError(t, err)
	_, err = NewClientID("a")
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewConnectionID("connection-12")
	require.NoError(t, err)
	_, err = NewConnectionID("conn/1")
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewChannelID("channel-0")
	require.NoError(t, err)
	_, err = NewChannelID("")
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewPortID("transfer")
	require.NoError(t, err)
	_, err = NewPortID("x")
	require.ErrorIs(t, err, ErrValidation)
}

func TestIdentifierUnmarshalRejectsInvalid(t *testing.T) {
	var details ConnectionDetails
	err := json.Unmarshal([]byte(`{"stage":"client-created","solo_machine_client_id":"a"}`), &details)
	require.ErrorIs(t, err, ErrValidation)

	err = json.Unmarshal([]byte(`{"stage":"client-created","solo_machine_client_id":"06-solomachine-3"}`), &details)
	require.NoError(t, err)
	require.Equal(t, ClientID("06-solomachine-3"), details.SoloMachineClientID)
	require.Equal(t, StageClientCreated, details.Stage)
}

func TestSoloMachineIdentifiers(t *testing.T) {
	require.Equal(t, ClientID("07-tendermint-0"), SoloMachineTendermintClientID)
	require.Equal(t, ConnectionID("connection-0"), SoloMachineConnectionID)
	require.Equal(t, ChannelID("channel-0"), SoloMachineTransferChannelID)
	require.Equal(t, ChannelID("channel-1"), SoloMachineICAChannelID)
}
