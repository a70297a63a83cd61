package solometrics_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cosmos/solo-machine/internal/solometrics"
	"github.com/cosmos/solo-machine/solomachine/event"
	"github.com/cosmos/solo-machine/solomachine/types"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func TestMetricsServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	metrics := event.NewPrometheusMetrics()
	solometrics.StartMetricsServer(ctx, zaptest.NewLogger(t), ln, metrics.Registry)

	chainID, err := types.NewChainID("testchain-1")
	require.NoError(t, err)
	ev := types.NewEvent(types.EventClientCreated, chainID, "req-1", time.Unix(1700000000, 0), nil)
	require.NoError(t, metrics.HandleEvent(ctx, ev))

	base := "http://" + ln.Addr().String()

	code, body := get(t, base+solometrics.MetricsPath)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `solo_machine_events{chain="testchain-1",type="client_created"} 1`)
	require.Contains(t, body, `solo_machine_handshake_stage{chain="testchain-1"} 1`)
	require.NotContains(t, body, "go_goroutines")

	code, body = get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "go_goroutines")

	code, _ = get(t, base+"/debug/pprof/cmdline")
	require.Equal(t, http.StatusOK, code)
}

func TestMetricsServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	solometrics.StartMetricsServer(ctx, zaptest.NewLogger(t), ln, event.NewPrometheusMetrics().Registry)
	cancel()

	require.Eventually(t, func() bool {
		_, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
}
