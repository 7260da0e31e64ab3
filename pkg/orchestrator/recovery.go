package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/telemetry/logging"
	"northstar-hq/polaris/pkg/telemetry/metrics"
)

// DefaultRecoverySchedule runs the recovery pass once a minute.
const DefaultRecoverySchedule = "@every 1m"

// DefaultAuditRetention bounds pruned audit records to thirty days.
const DefaultAuditRetention = 30 * 24 * time.Hour

// OrphanReconciler is implemented by stores whose secondary indexes can
// outlive expired entries (the Redis backing).
type OrphanReconciler interface {
	ReconcileOrphans(ctx context.Context) (int, error)
}

// AuditPruner is implemented by stores without native TTLs (the SQLite
// backing) to age out audit records.
type AuditPruner interface {
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
}

// RecoveryConfig tunes the background recovery task.
type RecoveryConfig struct {
	// Schedule is a cron expression or descriptor ("@every 30s").
	// Empty means DefaultRecoverySchedule.
	Schedule string

	// AuditRetention is how long pruned backings keep audit records.
	// Zero means DefaultAuditRetention.
	AuditRetention time.Duration

	// Reconciler, when set, has its orphan reconciliation run each pass.
	Reconciler OrphanReconciler

	// Pruner, when set, has audit records older than AuditRetention
	// removed each pass.
	Pruner AuditPruner
}

// Recovery is the per-process background task: each pass returns
// cooled-down throttled keys to service via the key manager, reconciles
// store orphans, and prunes aged audit records. At most one task runs per
// Recovery value; Start is idempotent while running.
type Recovery struct {
	keys    *keys.Manager
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Collector

	schedule   string
	retention  time.Duration
	reconciler OrphanReconciler
	pruner     AuditPruner

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRecovery builds the recovery task around the key manager.
func NewRecovery(km *keys.Manager, cfg RecoveryConfig, clk clock.Clock, logger *logging.Logger, collector *metrics.Collector) *Recovery {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultRecoverySchedule
	}
	if cfg.AuditRetention <= 0 {
		cfg.AuditRetention = DefaultAuditRetention
	}
	return &Recovery{
		keys:       km,
		clock:      clk,
		logger:     logger,
		metrics:    collector,
		schedule:   cfg.Schedule,
		retention:  cfg.AuditRetention,
		reconciler: cfg.Reconciler,
		pruner:     cfg.Pruner,
	}
}

// Start schedules the task and returns. The task stops when ctx is
// cancelled or Stop is called, whichever comes first.
func (r *Recovery) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return fmt.Errorf("invalid recovery schedule %q: %w", r.schedule, err)
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduling recovery: %w", err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.logger.Info("recovery task started", "schedule", r.schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// RunOnce executes a single recovery pass. Exposed for on-demand
// invocation by the management server and tests.
func (r *Recovery) RunOnce(ctx context.Context) {
	recovered, err := r.keys.CheckAndRecover(ctx)
	if err != nil {
		r.logger.Warn("recovery pass failed", "error", err)
	}
	for _, key := range recovered {
		if r.metrics != nil {
			r.metrics.RecordRecovery(key.ProviderID)
		}
	}
	if len(recovered) > 0 {
		r.logger.Info("throttled keys recovered", "count", len(recovered))
	}

	if r.reconciler != nil {
		removed, err := r.reconciler.ReconcileOrphans(ctx)
		if err != nil {
			r.logger.Warn("orphan reconciliation failed", "error", err)
		} else if removed > 0 {
			r.logger.Info("store orphans reconciled", "removed", removed)
		}
	}
	if r.pruner != nil {
		before := r.clock.Now().Add(-r.retention)
		pruned, err := r.pruner.PruneAudit(ctx, before)
		if err != nil {
			r.logger.Warn("audit pruning failed", "error", err)
		} else if pruned > 0 {
			r.logger.Info("audit records pruned", "count", pruned, "before", before)
		}
	}
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Recovery) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	r.logger.Info("recovery task stopped")
}

// Running reports whether the schedule is active.
func (r *Recovery) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
