package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 操作结果标签
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var CreditOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credit",
	Name:      "operations_total",
	Help:      "Credit engine operations by operation and result.",
}, []string{"operation", "result"})

var CreditAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credit",
	Name:      "amount_total",
	Help:      "Credits moved through the ledger, by ledger entry type.",
}, []string{"type"})

var ExpirationSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "credit",
	Name:      "expiration_sweep_duration_seconds",
	Help:      "Wall time of one expiration sweep.",
	Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
})

var ExpirationEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credit",
	Name:      "expiration_entries_total",
	Help:      "Ledger entries handled by the expiration sweep, by result.",
}, []string{"result"})

var OutboxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "credit",
	Name:      "outbox_messages_total",
	Help:      "Outbox messages delivered to the broker, by result.",
}, []string{"result"})

// ObserveOperation 记录一次操作的结果
func ObserveOperation(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	CreditOperations.WithLabelValues(operation, result).Inc()
}
