package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesEncrypted tracks outbound overlay encryptions
	MessagesEncrypted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "messages_encrypted_total",
			Help:      "Total number of payloads encrypted for peers",
		},
	)

	// MessagesDecrypted tracks inbound overlay decryptions
	MessagesDecrypted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "messages_decrypted_total",
			Help:      "Total number of decryption attempts",
		},
		[]string{"status"}, // success, failure
	)

	// HandshakesCompleted tracks peer key exchanges
	HandshakesCompleted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "handshakes_completed_total",
			Help:      "Total number of completed peer key exchanges",
		},
	)

	// SeenIDsTracked tracks the overlay dedup set size
	SeenIDsTracked = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "seen_ids_tracked",
			Help:      "Number of message ids currently in the dedup set",
		},
	)
)
