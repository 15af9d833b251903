package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsProcessed tracks verified and dispatched packets
	PacketsProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "packets_processed_total",
			Help:      "Total number of packets verified and dispatched",
		},
		[]string{"type"}, // payload y code: m, r, rr, p, x
	)

	// PacketsDropped tracks packets rejected before dispatch
	PacketsDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "packets_dropped_total",
			Help:      "Total number of packets dropped before dispatch",
		},
		[]string{"reason"}, // duplicate, decode, decrypt, signature, channel, stale
	)

	// PacketsSent tracks outgoing packets
	PacketsSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "packets_sent_total",
			Help:      "Total number of packets published",
		},
		[]string{"type"}, // broadcast, directed
	)

	// PeersKnown tracks the size of the peer table
	PeersKnown = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "peers_known",
			Help:      "Number of peers currently in the peer table",
		},
	)

	// RPCCalls tracks request/response activity
	RPCCalls = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "rpc_calls_total",
			Help:      "Total number of RPC requests issued and served",
		},
		[]string{"direction", "status"}, // outgoing/incoming, ok/missing_handler
	)
)
