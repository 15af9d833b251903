package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksSent tracks chunk writes to the graph store
	ChunksSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks_sent_total",
			Help:      "Total number of chunks written to the graph store",
		},
	)

	// ChunksReceived tracks chunks stored by the receiver
	ChunksReceived = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "chunks_received_total",
			Help:      "Total number of chunks stored by the receiver",
		},
	)

	// SweepsRun tracks recovery sweeps
	SweepsRun = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "sweeps_run_total",
			Help:      "Total number of chunk recovery sweeps",
		},
		[]string{"kind"}, // final, timeout
	)

	// RetransmissionRequests tracks request-chunks RPCs issued
	RetransmissionRequests = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "retransmission_requests_total",
			Help:      "Total number of request-chunks calls issued",
		},
	)

	// TransfersCompleted tracks transfer outcomes on the receive side
	TransfersCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "completed_total",
			Help:      "Total number of finished transfers by outcome",
		},
		[]string{"outcome"}, // received, incomplete
	)

	// CacheEntries tracks the sender cache size
	CacheEntries = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "cache_entries",
			Help:      "Number of transfers currently held in the sender cache",
		},
	)
)
