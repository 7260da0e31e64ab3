// Package tracing provides OpenTelemetry distributed tracing for Polaris.
//
// # Overview
//
// The tracing package wraps the OpenTelemetry SDK behind a small Tracer type
// that the orchestrator and management server use to create spans around
// routing decisions and adapter execution. When tracing is disabled the
// tracer degrades to a no-op with sub-microsecond overhead.
//
// # Span Hierarchy
//
// A routed request produces a span tree like:
//
//	route_request
//	├── routing_decision        (scoring pass, strategy, candidates)
//	├── adapter_execute         (attempt 1, provider round trip)
//	├── adapter_execute         (attempt 2, after failover)
//	└── record_outcome          (quota, usage, cost writes)
//
// The request correlation id is recorded as a span attribute on every span
// so traces can be joined against the audit event stream.
//
// # Usage
//
//	tracer, err := tracing.New(tracing.Config{
//		Enabled:     true,
//		ServiceName: "polaris",
//		Exporter:    "otlp",
//		Endpoint:    "localhost:4317",
//	})
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "route_request")
//	defer span.End()
//	tracing.SetRoutingAttributes(span, "openai", "cost_optimized", 4)
//
// # Sampling
//
// Three strategies are supported through Config.Sampler:
//
//   - always: sample 100% of traces (development)
//   - never: sample 0% of traces
//   - ratio: sample Config.SampleRatio of traces (production)
//
// All samplers are wrapped in ParentBased so a sampled parent always yields
// sampled children.
package tracing
