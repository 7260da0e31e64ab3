package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/cost"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/quota"
	"northstar-hq/polaris/pkg/routing"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/logging"
	"northstar-hq/polaris/pkg/telemetry/metrics"
	"northstar-hq/polaris/pkg/telemetry/tracing"
)

// DefaultMaxAttempts bounds one Route call to the first try plus two
// failovers.
const DefaultMaxAttempts = 3

// DefaultRequestTimeout is applied to adapter calls when the caller's
// context carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Options carries the orchestrator's collaborators. Router, Keys,
// Registry, and Store are required; Quota and Costs enable their
// respective write-backs when present.
type Options struct {
	Router   *routing.Engine
	Keys     *keys.Manager
	Registry *providers.Registry
	Store    state.StateStore
	Quota    *quota.Engine
	Costs    *cost.Controller

	Clock   clock.Clock
	IDs     clock.IDSource
	Emitter events.Emitter
	Logger  *logging.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer

	// MaxAttempts bounds the attempts per Route call, first try
	// included. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// RequestTimeout is the per-attempt adapter deadline applied when
	// the caller supplies none.
	RequestTimeout time.Duration

	// HealthThreshold is the consecutive-failure count after which a
	// provider reports unhealthy. Zero uses the providers default.
	HealthThreshold int
}

// Orchestrator executes routed requests with bounded failover. Safe for
// concurrent use; each in-flight Route call is independent.
type Orchestrator struct {
	router   *routing.Engine
	keys     *keys.Manager
	registry *providers.Registry
	store    state.StateStore
	quota    *quota.Engine
	costs    *cost.Controller

	clock   clock.Clock
	ids     clock.IDSource
	emitter events.Emitter
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer

	maxAttempts     int
	requestTimeout  time.Duration
	healthThreshold int

	healthMu sync.Mutex
	health   map[string]*providers.HealthTracker
}

// New creates an orchestrator from opts.
func New(opts Options) (*Orchestrator, error) {
	if opts.Router == nil {
		return nil, errors.New("orchestrator: routing engine is required")
	}
	if opts.Keys == nil {
		return nil, errors.New("orchestrator: key manager is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("orchestrator: provider registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("orchestrator: state store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IDs == nil {
		opts.IDs = clock.UUIDSource{}
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	return &Orchestrator{
		router:          opts.Router,
		keys:            opts.Keys,
		registry:        opts.Registry,
		store:           opts.Store,
		quota:           opts.Quota,
		costs:           opts.Costs,
		clock:           opts.Clock,
		ids:             opts.IDs,
		emitter:         opts.Emitter,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		maxAttempts:     opts.MaxAttempts,
		requestTimeout:  opts.RequestTimeout,
		healthThreshold: opts.HealthThreshold,
		health:          make(map[string]*providers.HealthTracker),
	}, nil
}

// RouteNamed routes with a string objective ("cost", "reliability", ...).
// An empty or unknown name falls back to fairness, the router default.
func (o *Orchestrator) RouteNamed(ctx context.Context, intent *providers.RequestIntent, objective string) (*providers.Response, error) {
	return o.Route(ctx, intent, state.ObjectiveFor(objective))
}

// Route executes one request end to end: validate, enforce the
// request-level budget, decide, persist the decision, then invoke the
// adapter with bounded failover across the decision's eligible keys.
//
// Observable write order on success: decision saved, adapter invoked,
// quota updated, key usage updated, cost reconciled. On failure the
// decision save still stands; the downstream writes never happen. A
// caller cancellation between the decision save and the adapter's return
// abandons the call with no usage writes.
func (o *Orchestrator) Route(ctx context.Context, intent *providers.RequestIntent, objective state.Objective) (*providers.Response, error) {
	if err := providers.ValidateIntent(intent); err != nil {
		return nil, err
	}
	if objective.Primary == "" && len(objective.Weights) == 0 {
		objective.Primary = state.ObjectiveFairness
	}

	requestID := o.ids.NewID()
	correlationID := o.ids.NewID()
	ctx = logging.WithRequestID(ctx, requestID)
	ctx = logging.WithCorrelationID(ctx, correlationID)
	ctx = logging.WithProvider(ctx, intent.ProviderID)
	logger := o.logger.WithContext(ctx)

	start := o.clock.Now()
	if o.tracer != nil {
		sctx, span := o.tracer.Start(ctx, "orchestrator.Route")
		defer span.End()
		tracing.SetRequestAttributes(span, requestID, correlationID, intent.Model)
		ctx = sctx
	}

	adapter, err := o.registry.Get(intent.ProviderID)
	if err != nil {
		return nil, err
	}
	if err := providers.CheckCapabilities(intent, adapter.Capabilities()); err != nil {
		return nil, err
	}

	// Request-level budget gate: a hard ceiling refuses the request
	// before any key is selected or decision recorded. Per-key budgets
	// are the routing engine's business.
	var estimate state.CostEstimate
	if o.costs != nil {
		estimate, err = o.costs.EstimateRequestCost(intent, intent.ProviderID)
		if err == nil {
			if _, err := o.costs.EnforceBudget(ctx, estimate, cost.ScopeRef{ProviderID: intent.ProviderID}); err != nil {
				o.recordOutcome(intent.ProviderID, "budget_exceeded", start, 0)
				return nil, err
			}
		}
	}

	decision, err := o.router.Route(ctx, intent, objective)
	if err != nil {
		o.recordOutcome(intent.ProviderID, "no_decision", start, 0)
		return nil, err
	}

	if err := o.store.SaveRoutingDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("persisting routing decision: %w", err)
	}
	o.emitter.Emit(ctx, events.Event{
		Name:          events.RoutingDecisionMade,
		Timestamp:     decision.Timestamp,
		CorrelationID: correlationID,
		Fields: map[string]any{
			"decision_id":  decision.ID,
			"request_id":   requestID,
			"provider_id":  decision.SelectedProviderID,
			"selected_key": decision.SelectedKeyID,
			"confidence":   decision.Confidence,
			"eligible":     len(decision.EligibleKeys),
		},
	})

	if o.costs != nil {
		o.costs.RecordEstimatedCost(ctx, requestID, estimate, intent.ProviderID, intent.Model, decision.SelectedKeyID)
	}

	return o.execute(ctx, logger, adapter, intent, decision, estimate, requestID, correlationID, start)
}

// execute runs the attempt loop over the selected key and the decision's
// remaining eligible keys.
func (o *Orchestrator) execute(ctx context.Context, logger *logging.Logger, adapter providers.Adapter, intent *providers.RequestIntent, decision *state.RoutingDecision, estimate state.CostEstimate, requestID, correlationID string, start time.Time) (*providers.Response, error) {
	order := attemptOrder(decision)
	var lastErr *providers.SystemError

	for attempt := 0; attempt < o.maxAttempts && attempt < len(order); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, providers.Normalize(intent.ProviderID, err)
		}

		keyID := order[attempt]
		resp, sysErr := o.attempt(ctx, adapter, intent, keyID, attempt+1)
		if sysErr == nil {
			o.finishSuccess(ctx, logger, resp, intent, keyID, estimate, requestID, correlationID, start, attempt+1)
			return resp, nil
		}
		lastErr = sysErr

		o.finishFailedAttempt(ctx, logger, intent.ProviderID, keyID, sysErr, correlationID, attempt+1)

		if !sysErr.Retryable() {
			break
		}
		// Caller cancellation must not be mistaken for a retryable
		// provider timeout.
		if ctx.Err() != nil {
			break
		}
		if attempt+1 < o.maxAttempts && attempt+1 < len(order) {
			if o.metrics != nil {
				o.metrics.RecordFailover(intent.ProviderID)
			}
			logger.Info("failing over to alternative key",
				"failed_key", keyID,
				"next_key", order[attempt+1],
				"attempt", attempt+1,
			)
		}
	}

	o.recordOutcome(intent.ProviderID, "failed", start, len(order))
	if lastErr == nil {
		lastErr = &providers.SystemError{
			Provider: intent.ProviderID,
			Category: providers.CategoryUnknown,
			Message:  "no attempt executed",
		}
	}
	return nil, lastErr
}

// attempt executes one adapter call with the per-attempt deadline.
func (o *Orchestrator) attempt(ctx context.Context, adapter providers.Adapter, intent *providers.RequestIntent, keyID string, attempt int) (*providers.Response, *providers.SystemError) {
	material, err := o.keys.Material(ctx, keyID)
	if err != nil {
		return nil, providers.Normalize(intent.ProviderID, fmt.Errorf("resolving key %s: %w", keyID, err))
	}

	actx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}

	if o.tracer != nil {
		sctx, span := o.tracer.Start(actx, "provider.ExecuteRequest")
		defer span.End()
		tracing.SetAttemptAttribute(span, attempt)
		actx = sctx
	}

	resp, err := adapter.ExecuteRequest(actx, intent, providers.Credential{KeyID: keyID, Material: material})
	if err != nil {
		sysErr := adapter.MapError(err)
		if sysErr == nil {
			sysErr = providers.Normalize(intent.ProviderID, err)
		}
		return nil, sysErr
	}
	if resp == nil {
		return nil, &providers.SystemError{
			Provider: intent.ProviderID,
			Category: providers.CategoryProvider,
			Message:  "adapter returned no response",
		}
	}
	return resp, nil
}

// finishSuccess applies the ordered post-success writes and stamps the
// response.
func (o *Orchestrator) finishSuccess(ctx context.Context, logger *logging.Logger, resp *providers.Response, intent *providers.RequestIntent, keyID string, estimate state.CostEstimate, requestID, correlationID string, start time.Time, attempts int) {
	now := o.clock.Now()

	if o.quota != nil {
		if _, err := o.quota.UpdateCapacity(ctx, keyID, quota.Consumption{
			ProviderID: intent.ProviderID,
			Requests:   1,
			Tokens:     int64(resp.Metadata.TokensUsed.Total),
		}); err != nil {
			logger.Warn("quota update failed after success", "key_id", keyID, "error", err)
		}
	}
	if err := o.keys.RecordSuccess(ctx, keyID); err != nil {
		logger.Warn("usage update failed after success", "key_id", keyID, "error", err)
	}
	if o.costs != nil {
		actual := actualAmount(resp, estimate)
		if _, err := o.costs.RecordActualCost(ctx, requestID, actual, cost.ScopeRef{
			ProviderID: intent.ProviderID,
			KeyID:      keyID,
		}); err != nil {
			logger.Warn("cost reconciliation failed", "key_id", keyID, "error", err)
		}
	}
	o.tracker(intent.ProviderID).RecordSuccess()

	resp.KeyUsed = keyID
	resp.RequestID = requestID
	resp.Metadata.RequestID = requestID
	resp.Metadata.CorrelationID = correlationID
	if resp.Metadata.ProviderID == "" {
		resp.Metadata.ProviderID = intent.ProviderID
	}
	if resp.Metadata.Timestamp.IsZero() {
		resp.Metadata.Timestamp = now
	}

	o.emitter.Emit(ctx, events.Event{
		Name:          events.RequestCompleted,
		Timestamp:     now,
		CorrelationID: correlationID,
		Fields: map[string]any{
			"request_id":   requestID,
			"provider_id":  intent.ProviderID,
			"key_id":       keyID,
			"attempts":     attempts,
			"tokens_total": resp.Metadata.TokensUsed.Total,
		},
	})
	o.recordOutcome(intent.ProviderID, "completed", start, attempts)
	logger.Info("request completed",
		"key_id", keyID,
		"attempts", attempts,
		"tokens", resp.Metadata.TokensUsed.Total,
		"duration_ms", now.Sub(start).Milliseconds(),
	)
}

// finishFailedAttempt records the failure against the key and, on rate
// limits, throttles it with the provider's retry-after as cooldown.
func (o *Orchestrator) finishFailedAttempt(ctx context.Context, logger *logging.Logger, providerID, keyID string, sysErr *providers.SystemError, correlationID string, attempt int) {
	if err := o.keys.RecordFailure(ctx, keyID); err != nil {
		logger.Warn("failure count update failed", "key_id", keyID, "error", err)
	}
	o.tracker(providerID).RecordFailure(sysErr)

	switch sysErr.Category {
	case providers.CategoryRateLimit:
		cooldown := sysErr.RetryAfter
		if _, err := o.keys.UpdateState(ctx, keyID, keys.TransitionRequest{
			Target:   state.KeyStateThrottled,
			Trigger:  keys.TriggerRateLimit,
			Cooldown: &cooldown,
			Context:  map[string]string{"correlation_id": correlationID},
		}); err != nil {
			logger.Warn("throttle transition failed", "key_id", keyID, "error", err)
		}
	case providers.CategoryAuthentication:
		if _, err := o.keys.UpdateState(ctx, keyID, keys.TransitionRequest{
			Target:  state.KeyStateInvalid,
			Trigger: "authentication_failure",
			Context: map[string]string{"correlation_id": correlationID},
		}); err != nil {
			logger.Warn("invalid transition failed", "key_id", keyID, "error", err)
		}
	}

	o.emitter.Emit(ctx, events.Event{
		Name:          events.RequestFailed,
		Timestamp:     o.clock.Now(),
		CorrelationID: correlationID,
		Fields: map[string]any{
			"provider_id": providerID,
			"key_id":      keyID,
			"category":    string(sysErr.Category),
			"retryable":   sysErr.Retryable(),
			"attempt":     attempt,
		},
	})
	logger.Warn("request attempt failed",
		"key_id", keyID,
		"category", sysErr.Category,
		"retryable", sysErr.Retryable(),
		"attempt", attempt,
	)
}

func (o *Orchestrator) recordOutcome(providerID, outcome string, start time.Time, attempts int) {
	if o.metrics != nil {
		o.metrics.RecordRequest(providerID, outcome, o.clock.Now().Sub(start), attempts)
	}
}

// attemptOrder is the selected key first, then the remaining eligible
// keys in the decision's order.
func attemptOrder(decision *state.RoutingDecision) []string {
	order := make([]string, 0, len(decision.EligibleKeys))
	order = append(order, decision.SelectedKeyID)
	for _, id := range decision.EligibleKeys {
		if id != decision.SelectedKeyID {
			order = append(order, id)
		}
	}
	return order
}

// actualAmount resolves the spend to reconcile: the adapter-reported cost
// when the response carries one, the estimate otherwise.
func actualAmount(resp *providers.Response, estimate state.CostEstimate) decimal.Decimal {
	if resp.Cost != nil {
		if d, err := decimal.NewFromString(resp.Cost.Amount); err == nil && !d.IsNegative() {
			return d
		}
	}
	return estimate.Amount
}
