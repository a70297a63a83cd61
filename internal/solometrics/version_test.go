package solometrics_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmos/solo-machine/internal/solometrics"
)

func TestReadBuildInfo(t *testing.T) {
	tests := []struct {
		name   string
		commit string
		dirty  bool
		want   string
	}{
		{name: "stamped", commit: "abc123", want: "abc123"},
		{name: "stamped dirty", commit: "abc123", dirty: true, want: "abc123 (dirty)"},
		{name: "from toolchain", want: solometrics.BuildCommit()},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			info := solometrics.ReadBuildInfo("v1.2.3", tt.commit, tt.dirty)
			require.Equal(t, "v1.2.3", info.Version)
			require.Equal(t, tt.want, info.Commit)
			require.Contains(t, info.Go, runtime.Version())
			require.NotEmpty(t, info.CosmosSDK)
			require.NotEmpty(t, info.IBCGo)
		})
	}
}
