// Package ragctx builds the response-scoped instruction context for the
// reasoning lane. On each upstream commit confirmation it retrieves a
// capped facts pack for the user's transcript, publishes the retrieval
// trail on the session's event fabric, and renders the instructions string
// injected into the model response. Disclaimers implied by the pack are
// held for the next final assistant transcript.
package ragctx

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nxtg-ai/voxbridge/internal/eventbus"
	"github.com/nxtg-ai/voxbridge/internal/observe"
	"github.com/nxtg-ai/voxbridge/internal/policy"
	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
)

// Event types published on the session fabric.
const (
	EventRAGQuery   = "rag.query"
	EventToolCall   = "tool.call"
	EventToolResult = "tool.result"
	EventRAGResult  = "rag.result"
)

// instructionsPreamble precedes the serialized facts pack in every
// response instruction.
const instructionsPreamble = "For questions about NextGen AI, use ONLY the facts in FACTS_PACK. " +
	"Do not use outside knowledge or speculation. When stating a fact, include its fact ID " +
	"in brackets like [NXTG-001]. If the facts are insufficient, ask a brief clarifying " +
	"question instead of guessing."

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// WithRedactor installs a PII redactor applied to the retrieval query when
// the redactor runs in redact mode.
func WithRedactor(r *policy.Redactor) Option {
	return func(b *Builder) { b.redactor = r }
}

// Builder renders per-response RAG instructions for one session. Safe for
// concurrent use.
type Builder struct {
	svc      *knowledge.Service
	caps     knowledge.Caps
	bus      *eventbus.Bus
	redactor *policy.Redactor
	log      *slog.Logger

	mu      sync.Mutex
	pending []string
}

// NewBuilder creates a builder over the shared knowledge service. bus may
// be nil, skipping event publication. svc may also be nil: the builder then
// degrades to empty instructions, so responses run on the session-level
// prompt alone.
func NewBuilder(svc *knowledge.Service, caps knowledge.Caps, bus *eventbus.Bus, opts ...Option) *Builder {
	b := &Builder{
		svc:  svc,
		caps: caps,
		bus:  bus,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "ragctx")
	return b
}

// BuildInstructions retrieves a facts pack for the transcript and renders
// the response instructions. The pack's disclaimers are stored as required
// for the next final assistant transcript. Without a knowledge service the
// result is empty and no retrieval trail is published.
func (b *Builder) BuildInstructions(transcript string) string {
	if b.svc == nil {
		return ""
	}

	_, span := observe.StartSpan(context.Background(), "rag.retrieve")
	defer span.End()

	query := transcript
	if b.redactor != nil && b.redactor.Mode() == policy.PIIModeRedact {
		query, _ = b.redactor.RedactText(query)
	}

	b.publish(EventRAGQuery, map[string]any{"query": query})
	b.publish(EventToolCall, map[string]any{
		"tool":  "retrieval",
		"query": query,
		"top_k": b.caps.TopK,
	})

	pack := b.svc.RetrieveFactsPack(query, b.caps)
	span.SetAttributes(
		attribute.Int("rag.fact_count", len(pack.Facts)),
		attribute.Int("rag.disclaimer_count", len(pack.Disclaimers)),
	)

	citations := make([]string, len(pack.Facts))
	for i, f := range pack.Facts {
		citations[i] = f.ID
	}
	b.publish(EventToolResult, map[string]any{
		"tool":      "retrieval",
		"citations": citations,
	})
	b.publish(EventRAGResult, map[string]any{
		"topic":       pack.Topic,
		"fact_count":  len(pack.Facts),
		"disclaimers": pack.Disclaimers,
	})

	b.mu.Lock()
	b.pending = append([]string(nil), pack.Disclaimers...)
	b.mu.Unlock()

	js, err := json.Marshal(pack)
	if err != nil {
		b.log.Warn("facts pack marshal failed", "error", err)
		return ""
	}
	return instructionsPreamble + "\nFACTS_PACK=" + string(js)
}

// TakeRequiredDisclaimers consumes the disclaimers implied by the most
// recent pack. Returns nil when none are pending.
func (b *Builder) TakeRequiredDisclaimers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

func (b *Builder) publish(typ string, payload map[string]any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish("ragctx", typ, payload)
}
