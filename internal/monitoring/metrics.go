package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_issuance_total",
			Help: "Ticket batch issuance attempts by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	transferTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_transfer_total",
			Help: "Ticket purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	confirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_confirmation_seconds",
			Help:    "Time from submission to ledger confirmation",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"kind"},
	)

	pendingOperations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_operations",
			Help: "Operations currently tracked by the reconciler",
		},
	)

	reconciliationFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_flags_total",
			Help: "Tickets flagged for manual reconciliation",
		},
		[]string{"kind"},
	)

	ledgerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_requests_total",
			Help: "Requests made to the ledger node",
		},
		[]string{"operation", "status"},
	)
)

// Issuance paths.
const (
	PathLedger   = "ledger"
	PathFallback = "fallback"
)

func TrackIssuance(path, outcome string) {
	issuanceTotal.WithLabelValues(path, outcome).Inc()
}

func TrackTransfer(outcome string) {
	transferTotal.WithLabelValues(outcome).Inc()
}

func ObserveConfirmation(kind string, submittedAt time.Time) {
	if submittedAt.IsZero() {
		return
	}
	confirmationDuration.WithLabelValues(kind).Observe(time.Since(submittedAt).Seconds())
}

func SetPendingOperations(n int) {
	pendingOperations.Set(float64(n))
}

func TrackReconciliationFlag(kind string) {
	reconciliationFlags.WithLabelValues(kind).Inc()
}

func TrackLedgerRequest(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ledgerRequests.WithLabelValues(operation, status).Inc()
}
