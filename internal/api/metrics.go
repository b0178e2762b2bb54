package api

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/policeintel/auditledger/internal/custody"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auditledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	entriesAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_entries_appended_total",
		Help: "Total ledger entries appended by action.",
	}, []string{"action"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_verifications_total",
		Help: "Total chain verifications by result.",
	}, []string{"result"})

	custodyChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_custody_checks_total",
		Help: "Total custody checks by result.",
	}, []string{"result"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by success status.",
	}, []string{"status"})

	chainIntact = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auditledger_chain_intact",
		Help: "1 while the audit chain verifies, 0 once a break has been seen.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// actionLabels bounds the action label; any other action counts as "other".
var actionLabels = map[string]bool{
	"CREATE_CASE":                    true,
	"UPDATE_CASE":                    true,
	"CLOSE_CASE":                     true,
	"VIEW_CASE":                      true,
	"UPLOAD_EVIDENCE":                true,
	"VIEW_EVIDENCE":                  true,
	"SHARE_EVIDENCE":                 true,
	"TRANSFER_CUSTODY":               true,
	custody.ActionFingerprinted:      true,
	custody.ActionVerified:           true,
	custody.ActionVerificationFailed: true,
}

func actionLabel(action string) string {
	if actionLabels[action] {
		return action
	}
	return "other"
}

// RecordLedgerAppend records an appended entry.
func RecordLedgerAppend(action string) {
	entriesAppendedTotal.WithLabelValues(actionLabel(action)).Inc()
}

// RecordVerification records a chain verification result.
func RecordVerification(intact bool) {
	verificationsTotal.WithLabelValues(intactLabel(intact)).Inc()
}

// RecordChainState records a watchdog pass. The gauge never returns to 1
// after a break, matching the latched ledger state.
func RecordChainState(intact bool) {
	RecordVerification(intact)
	if !intact {
		brokenSeen.Store(true)
		chainIntact.Set(0)
		return
	}
	if !brokenSeen.Load() {
		chainIntact.Set(1)
	}
}

var brokenSeen atomic.Bool

// RecordCustodyCheck records a custody check outcome.
func RecordCustodyCheck(res custody.Result) {
	label := "verified"
	if !res.Verified {
		label = string(res.Reason)
	}
	custodyChecksTotal.WithLabelValues(label).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

func intactLabel(intact bool) string {
	if intact {
		return "intact"
	}
	return "compromised"
}
