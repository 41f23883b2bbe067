// Package control binds the policy gate pipeline to a live session. The
// engine runs the gate over user and assistant transcripts, applies the
// severity override that escalates hard refusals into output cancellation,
// resolves required disclaimers against the shared catalog, publishes
// decision events on the session's event fabric, and drives the arbitrator
// on cancellation.
package control

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nxtg-ai/voxbridge/internal/eventbus"
	"github.com/nxtg-ai/voxbridge/internal/observe"
	"github.com/nxtg-ai/voxbridge/internal/policy"
	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
)

// Event types published by the engine.
const (
	EventPolicyDecision  = "policy.decision"
	EventControlOverride = "control.override"
)

// DefaultCancelSeverity is the severity at which a refuse or escalate
// decision is upgraded to cancel_output.
const DefaultCancelSeverity = policy.MaxSeverity

// Canceller is the arbitrator surface the engine needs: cutting in-flight
// assistant output.
type Canceller interface {
	OnPolicyCancel()
}

// Outcome is a policy result after session-level processing: override
// applied and disclaimer resolved.
type Outcome struct {
	policy.Result

	// Overridden is true when the severity override upgraded the decision
	// to cancel_output.
	Overridden bool

	// DisclaimerText is the resolved text for the carried required
	// disclaimer, empty when none applies or the ID is unknown.
	DisclaimerText string
}

// Metrics counts decisions evaluated by one session's engine.
type Metrics struct {
	Evaluations int
	ByKind      map[policy.Kind]int
	Overrides   int
	Cancels     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithCancelSeverity sets the override threshold. Values above
// policy.MaxSeverity disable the override.
func WithCancelSeverity(sev int) Option {
	return func(e *Engine) { e.cancelSeverity = sev }
}

// WithCanceller installs the arbitrator hook invoked on cancel_output.
func WithCanceller(c Canceller) Option {
	return func(e *Engine) { e.canceller = c }
}

// Engine evaluates transcripts for one session. Safe for concurrent use.
type Engine struct {
	gate           *policy.Gate
	catalog        *knowledge.DisclaimerCatalog
	bus            *eventbus.Bus
	canceller      Canceller
	log            *slog.Logger
	cancelSeverity int

	mu      sync.Mutex
	metrics Metrics
}

// NewEngine wires a gate to a session's event bus and disclaimer catalog.
// catalog and bus may be nil; disclaimer resolution and event publication
// are then skipped.
func NewEngine(gate *policy.Gate, catalog *knowledge.DisclaimerCatalog, bus *eventbus.Bus, opts ...Option) *Engine {
	e := &Engine{
		gate:           gate,
		catalog:        catalog,
		bus:            bus,
		log:            slog.Default(),
		cancelSeverity: DefaultCancelSeverity,
		metrics:        Metrics{ByKind: make(map[policy.Kind]int)},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "control")
	return e
}

// Evaluate runs the pipeline over in and applies session-level processing:
// the severity override, disclaimer resolution, event publication, and the
// arbitrator cancel hook. The returned outcome is binding on the caller.
func (e *Engine) Evaluate(ctx context.Context, in policy.Input) Outcome {
	ctx, span := observe.StartSpan(ctx, "policy.evaluate")
	defer span.End()

	res := e.gate.Evaluate(ctx, in)
	out := Outcome{Result: res}
	span.SetAttributes(
		attribute.String("policy.role", string(in.Role)),
		attribute.String("policy.decision", string(res.Kind)),
		attribute.Int("policy.severity", res.Severity),
	)

	if e.shouldOverride(res.Decision) {
		original := res.Kind
		out.Kind = policy.CancelOutput
		out.Overridden = true
		span.SetAttributes(attribute.Bool("policy.overridden", true))
		e.log.Info("policy decision overridden to cancel_output",
			"original", string(original), "severity", res.Severity, "reasons", res.ReasonCodes)
		if e.bus != nil {
			e.bus.Publish("control", EventControlOverride, map[string]any{
				"original": string(original),
				"severity": res.Severity,
				"reasons":  res.ReasonCodes,
			})
		}
	}

	out.DisclaimerText = e.resolveDisclaimer(out.RequiredDisclaimerID)
	if out.DisclaimerText == "" {
		out.RequiredDisclaimerID = ""
	}

	if e.bus != nil {
		e.bus.Publish("control", EventPolicyDecision, map[string]any{
			"role":         string(in.Role),
			"decision":     string(out.Kind),
			"severity":     out.Severity,
			"reason_codes": out.ReasonCodes,
			"checks_run":   out.ChecksRun,
			"duration_ms":  out.CheckDurationMS,
		})
	}

	e.record(out)

	if out.Kind == policy.CancelOutput && e.canceller != nil {
		e.canceller.OnPolicyCancel()
	}
	return out
}

// shouldOverride reports whether the decision meets the cancel threshold.
func (e *Engine) shouldOverride(d policy.Decision) bool {
	if d.Kind != policy.Refuse && d.Kind != policy.Escalate {
		return false
	}
	return d.Severity >= e.cancelSeverity
}

// resolveDisclaimer looks up id in the catalog. Unknown IDs are logged and
// dropped rather than surfaced as broken placeholders.
func (e *Engine) resolveDisclaimer(id string) string {
	if id == "" {
		return ""
	}
	if e.catalog == nil {
		e.log.Warn("required disclaimer dropped, no catalog", "disclaimer_id", id)
		return ""
	}
	d, ok := e.catalog.Resolve(id)
	if !ok {
		e.log.Warn("required disclaimer not found, dropping", "disclaimer_id", id)
		return ""
	}
	return d.Text
}

func (e *Engine) record(out Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.Evaluations++
	e.metrics.ByKind[out.Kind]++
	if out.Overridden {
		e.metrics.Overrides++
	}
	if out.Kind == policy.CancelOutput {
		e.metrics.Cancels++
	}
}

// MetricsSnapshot returns a copy of the engine's counters.
func (e *Engine) MetricsSnapshot() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	byKind := make(map[policy.Kind]int, len(e.metrics.ByKind))
	for k, v := range e.metrics.ByKind {
		byKind[k] = v
	}
	m := e.metrics
	m.ByKind = byKind
	return m
}
