package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dutctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"instance", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instance", "method", "path", "status"},
	)
	controlExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "exchanges_total",
			Help:      "Control channel request/response exchanges.",
		},
		[]string{"kind", "outcome"},
	)
	controlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "exchange_duration_seconds",
			Help:      "Control channel exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
	supervisorOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "operations_total",
			Help:      "Emulator lifecycle operations.",
		},
		[]string{"instance", "op", "success"},
	)
	supervisorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "operation_duration_seconds",
			Help:      "Emulator lifecycle operation duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"instance", "op", "success"},
	)
	dutState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dut",
			Name:      "state",
			Help:      "1 for the current DUT state of an instance, 0 otherwise.",
		},
		[]string{"instance", "state"},
	)
)

// DUTStates lists the label values used by the state gauge.
var DUTStates = []string{"off", "on", "busy", "error"}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			controlExchanges,
			controlDuration,
			supervisorOps,
			supervisorDuration,
			dutState,
		)
	})
}

func RecordHTTPRequest(instance, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(instance, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(instance, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordControlExchange counts one channel exchange. outcome is "ok",
// "remote_error", "protocol_error" or "io_error".
func RecordControlExchange(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	controlExchanges.WithLabelValues(kind, outcome).Inc()
	controlDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

func RecordSupervisorOp(instance, op string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	supervisorOps.WithLabelValues(instance, op, successLabel).Inc()
	supervisorDuration.WithLabelValues(instance, op, successLabel).Observe(duration.Seconds())
}

// SetDUTState marks state as current for instance and clears the others.
func SetDUTState(instance, state string) {
	RegisterMetrics()
	for _, candidate := range DUTStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		dutState.WithLabelValues(instance, candidate).Set(value)
	}
}

// ForgetInstance drops the gauge series of a closed instance.
func ForgetInstance(instance string) {
	RegisterMetrics()
	for _, candidate := range DUTStates {
		dutState.DeleteLabelValues(instance, candidate)
	}
}
