package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edgemq"

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "total",
			Help:      "Frames read or written, by direction and frame type.",
		},
		[]string{"direction", "type"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "bytes_total",
			Help:      "Bytes moved through the transport, by direction.",
		},
		[]string{"direction"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Synchronous RPC round-trip time by request method and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)
	publishes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "basic",
			Name:      "publishes_total",
			Help:      "Messages handed to the transport by basic.publish.",
		},
	)
	confirms = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirm",
			Name:      "resolved_total",
			Help:      "Publish sequence numbers resolved by the broker, by outcome.",
		},
		[]string{"outcome"},
	)
	deliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "basic",
			Name:      "deliveries_total",
			Help:      "basic.deliver commands scheduled to consumers.",
		},
	)
	callbackErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "callback_errors_total",
			Help:      "Consumer callbacks that failed or panicked, by operation.",
		},
		[]string{"operation"},
	)
	openChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "open",
			Help:      "Channels currently open across all connections.",
		},
	)
	connectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "closed_total",
			Help:      "Connection shutdowns by initiator.",
		},
		[]string{"initiator"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal,
			frameBytes,
			rpcDuration,
			publishes,
			confirms,
			deliveries,
			callbackErrors,
			openChannels,
			connectionsClosed,
		)
	})
}

func RecordFrame(direction, frameType string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, frameType).Inc()
}

func RecordBytes(direction string, n int) {
	RegisterMetrics()
	frameBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordRPC(method string, err error, duration time.Duration) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	rpcDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

func RecordPublish(n int) {
	RegisterMetrics()
	publishes.Add(float64(n))
}

func RecordConfirm(ack bool, count int) {
	RegisterMetrics()
	outcome := "ack"
	if !ack {
		outcome = "nack"
	}
	confirms.WithLabelValues(outcome).Add(float64(count))
}

func RecordDelivery() {
	RegisterMetrics()
	deliveries.Inc()
}

func RecordCallbackError(operation string) {
	RegisterMetrics()
	callbackErrors.WithLabelValues(operation).Inc()
}

func ChannelOpened() {
	RegisterMetrics()
	openChannels.Inc()
}

func ChannelClosed() {
	RegisterMetrics()
	openChannels.Dec()
}

func RecordConnectionClosed(initiator string) {
	RegisterMetrics()
	connectionsClosed.WithLabelValues(initiator).Inc()
}
