package event

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
)

var _ provider.EventHandler = (*PrometheusMetrics)(nil)

// PrometheusMetrics turns engine events into prometheus series.
type PrometheusMetrics struct {
	Registry          *prometheus.Registry
	EventCounter      *prometheus.CounterVec
	TxFailureCounter  *prometheus.CounterVec
	HandshakeStage    *prometheus.GaugeVec
	PacketSequence    *prometheus.GaugeVec
	LastEventTimeSecs *prometheus.GaugeVec
}

var stageByEvent = map[types.EventType]types.Stage{
	types.EventChainAdded:       types.StageUninitialized,
	types.EventClientCreated:    types.StageClientCreated,
	types.EventConnectionOpened: types.StageConnectionOpen,
	types.EventChannelOpened:    types.StageChannelOpen,
}

func NewPrometheusMetrics() *PrometheusMetrics {
	eventLabels := []string{"chain", "type"}
	chainLabels := []string{"chain"}
	registry := prometheus.NewRegistry()
	registerer := promauto.With(registry)
	return &PrometheusMetrics{
		Registry: registry,
		EventCounter: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "solo_machine_events",
			Help: "The total number of events emitted by the solo machine",
		}, eventLabels),
		TxFailureCounter: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "solo_machine_tx_failures",
			Help: "The total number of transactions rejected by a chain",
		}, chainLabels),
		HandshakeStage: registerer.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solo_machine_handshake_stage",
			Help: "The handshake stage reached with a chain (0 uninitialized, 3 channel open)",
		}, chainLabels),
		PacketSequence: registerer.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solo_machine_packet_sequence",
			Help: "The sequence of the last packet sent to a chain",
		}, chainLabels),
		LastEventTimeSecs: registerer.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solo_machine_last_event_timestamp_seconds",
			Help: "Unix time of the last event emitted for a chain",
		}, chainLabels),
	}
}

func (m *PrometheusMetrics) HandleEvent(_ context.Context, ev types.Event) error {
	chain := ev.ChainID.String()

	m.EventCounter.WithLabelValues(chain, string(ev.Type)).Inc()
	m.LastEventTimeSecs.WithLabelValues(chain).Set(float64(ev.Time.Unix()))

	if stage, ok := stageByEvent[ev.Type]; ok {
		m.HandshakeStage.WithLabelValues(chain).Set(float64(stage))
	}

	switch ev.Type {
	case types.EventTransactionRejected:
		m.TxFailureCounter.WithLabelValues(chain).Inc()
	case types.EventTokensMinted, types.EventICAPacketSent:
		if seq, err := strconv.ParseUint(ev.Attributes[types.AttributeSequence], 10, 64); err == nil {
			m.PacketSequence.WithLabelValues(chain).Set(float64(seq))
		}
	}
	return nil
}
