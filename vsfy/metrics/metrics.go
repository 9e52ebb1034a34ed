package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vsfy"

var (
	DirectoryLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "lines_received_total",
		Help:      "Lines read from the directory connection.",
	})

	UnclaimedLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "lines_unclaimed_total",
		Help:      "Directory lines that matched no pending request and were dropped.",
	})

	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "pending_requests",
		Help:      "Requests currently waiting for a directory response.",
	})

	BytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "bytes_served_total",
		Help:      "Payload bytes streamed to peers.",
	})

	BytesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "bytes_fetched_total",
		Help:      "Payload bytes received from peers.",
	})

	// Sessions counts finished transfer sessions by side (serve, fetch) and
	// outcome (completed, not_found, failed).
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "sessions_total",
		Help:      "Finished transfer sessions.",
	}, []string{"side", "outcome"})
)
