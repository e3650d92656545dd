package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimvault_ledger_claims_total",
			Help: "Total number of claim attempts by result",
		},
		[]string{"result"}, // "paid", a rejection code, "transfer_failed", "error"
	)

	ClaimedAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claimvault_ledger_claimed_amount_total",
			Help: "Total token base units paid out by successful claims",
		},
	)

	WhitelistOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimvault_ledger_whitelist_operations_total",
			Help: "Total number of whitelist mutations",
		},
		[]string{"operation", "status"},
	)

	VaultsInitializedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claimvault_ledger_vaults_initialized_total",
			Help: "Total number of vaults created",
		},
	)

	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimvault_ledger_transfer_duration_seconds",
			Help:    "Duration of external transfers",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"status"},
	)

	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimvault_ledger_audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"kind", "status"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimvault_ledger_alerts_total",
			Help: "Total number of low balance alerts sent",
		},
		[]string{"status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWhitelistOperation records a whitelist upsert or removal.
func RecordWhitelistOperation(operation string, err error) {
	WhitelistOperationsTotal.WithLabelValues(operation, status(err)).Inc()
}

// RecordTransfer records the duration and outcome of a transfer.
func RecordTransfer(seconds float64, err error) {
	TransferDuration.WithLabelValues(status(err)).Observe(seconds)
}

// RecordClaimPaid records a successful payout of amount units.
func RecordClaimPaid(amount uint64) {
	ClaimsTotal.WithLabelValues("paid").Inc()
	ClaimedAmountTotal.Add(float64(amount))
}

// RecordClaimFailed records a claim that did not pay out.
func RecordClaimFailed(result string) {
	ClaimsTotal.WithLabelValues(result).Inc()
}

func RecordAuditEvent(kind string, err error) {
	AuditEventsTotal.WithLabelValues(kind, status(err)).Inc()
}

func RecordAlert(err error) {
	AlertsTotal.WithLabelValues(status(err)).Inc()
}
