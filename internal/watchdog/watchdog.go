// Package watchdog periodically verifies the audit ledger and reports its
// state to health checks, metrics and alert webhooks.
package watchdog

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/policeintel/auditledger/internal/ledger"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service reporting the chain state.
const ServiceName = "auditledger.Ledger"

// Config holds watchdog configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

// WebhookDispatchFunc is an optional callback for dispatching the
// ledger-compromised alert.
type WebhookDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(intact bool)

// StatusSetter receives serving status updates. *health.Server satisfies it.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Watchdog runs Verify on a schedule. Once it has seen the chain
// compromised it keeps reporting COMPROMISED until the process restarts,
// even if a later pass finds the chain intact.
type Watchdog struct {
	ledger    ledger.Ledger
	cfg       Config
	mu        sync.RWMutex
	state     ledger.State
	last      *ledger.Verification
	firstSeen *ledger.Verification
	onWebhook WebhookDispatchFunc
	onMetrics MetricsRecordFunc
	health    StatusSetter
	logger    *zap.Logger
}

// New creates a Watchdog for l.
func New(l ledger.Ledger, cfg Config, logger *zap.Logger) *Watchdog {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = cfg.CheckInterval
	}
	return &Watchdog{
		ledger: l,
		cfg:    cfg,
		state:  ledger.StateIntact,
		logger: logger,
	}
}

// SetWebhookDispatch configures the alert callback.
func (w *Watchdog) SetWebhookDispatch(fn WebhookDispatchFunc) {
	w.onWebhook = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (w *Watchdog) SetMetricsRecord(fn MetricsRecordFunc) {
	w.onMetrics = fn
}

// SetHealthServer configures the gRPC health status target.
func (w *Watchdog) SetHealthServer(s StatusSetter) {
	w.health = s
	w.publishStatus(w.State())
}

// Start runs an immediate check and then one per interval until quit is
// signalled.
func (w *Watchdog) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	w.tick()
	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-quit:
			return
		}
	}
}

func (w *Watchdog) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CheckTimeout)
	defer cancel()
	w.Check(ctx) //nolint:errcheck
}

// Check verifies the ledger once and updates the watchdog state. A storage
// error leaves the state unchanged.
func (w *Watchdog) Check(ctx context.Context) (*ledger.Verification, error) {
	v, err := w.ledger.Verify(ctx)
	if err != nil {
		w.logger.Error("watchdog: verify ledger", zap.Error(err))
		return nil, err
	}

	if w.onMetrics != nil {
		w.onMetrics(v.Intact)
	}

	w.mu.Lock()
	w.last = v
	transition := !v.Intact && w.state == ledger.StateIntact
	if transition {
		w.state = ledger.StateCompromised
		w.firstSeen = v
	}
	w.mu.Unlock()

	if v.Intact {
		w.logger.Debug("watchdog: ledger intact", zap.Int("length", v.Length))
		return v, nil
	}
	if !transition {
		return v, nil
	}

	brokenAt := ""
	if v.BrokenAt != nil {
		brokenAt = strconv.FormatUint(*v.BrokenAt, 10)
	}
	w.logger.Error("watchdog: ledger compromised",
		zap.String("broken_at", brokenAt),
		zap.String("reason", string(v.Reason)),
		zap.String("expected", v.Expected),
		zap.String("actual", v.Actual),
	)
	w.publishStatus(ledger.StateCompromised)
	if w.onWebhook != nil {
		w.onWebhook(ctx, "ledger.compromised", map[string]string{
			"broken_at": brokenAt,
			"reason":    string(v.Reason),
			"length":    strconv.Itoa(v.Length),
		})
	}
	return v, nil
}

// State returns the latched ledger state.
func (w *Watchdog) State() ledger.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Last returns the most recent verification, or nil before the first check.
func (w *Watchdog) Last() *ledger.Verification {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// FirstBreak returns the verification that first reported a break.
func (w *Watchdog) FirstBreak() *ledger.Verification {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.firstSeen
}

func (w *Watchdog) publishStatus(state ledger.State) {
	if w.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if state == ledger.StateCompromised {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	w.health.SetServingStatus(ServiceName, status)
}
