package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drivenet"

var (
	ledgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Chaincode transactions by function, kind and outcome.",
		},
		[]string{"function", "kind", "outcome"},
	)
	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transaction_duration_seconds",
			Help:      "Time spent waiting for the ledger.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"function", "kind"},
	)
	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)
	registerOnce sync.Once
)

// Register adds the DriveNet collectors to the default registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ledgerTransactions, ledgerDuration, logins)
	})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Recorder feeds ledger and login events into prometheus.
type Recorder struct{}

func (Recorder) ObserveTransaction(fn string, kind string, duration time.Duration, err error) {
	ledgerTransactions.WithLabelValues(fn, kind, outcome(err == nil)).Inc()
	ledgerDuration.WithLabelValues(fn, kind).Observe(duration.Seconds())
}

func (Recorder) IncLogin(success bool) {
	logins.WithLabelValues(outcome(success)).Inc()
}

func NewMetricsServer(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
