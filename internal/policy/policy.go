// Package policy implements the layered content-governance pipeline: an
// ordered list of checks (PII redactor, moderator, claims checker) that
// evaluates proposed user or assistant text and produces a single binding
// decision with a reason trail and an optional safe rewrite.
//
// The pipeline is pure per call: given the same checks and the same input it
// always yields the same result. Session-scoped bookkeeping (metrics,
// overrides, disclaimer resolution) lives in the containing control engine.
package policy

import (
	"context"
	"slices"
	"time"
)

// Kind is the outcome of a policy decision. The declaration order is the
// merge priority: allow < rewrite < refuse < escalate < cancel_output.
type Kind string

const (
	Allow        Kind = "allow"
	Rewrite      Kind = "rewrite"
	Refuse       Kind = "refuse"
	Escalate     Kind = "escalate"
	CancelOutput Kind = "cancel_output"
)

// priority maps each kind to its merge rank.
var priority = map[Kind]int{
	Allow:        0,
	Rewrite:      1,
	Refuse:       2,
	Escalate:     3,
	CancelOutput: 4,
}

// Priority returns the merge rank of k. Unknown kinds rank below allow.
func (k Kind) Priority() int {
	p, ok := priority[k]
	if !ok {
		return -1
	}
	return p
}

// MaxSeverity is the top of the severity scale; a refuse or escalate at this
// severity short-circuits the pipeline.
const MaxSeverity = 4

// Reason codes carried on decisions. These are codes, not kinds.
const (
	ReasonModerationViolation = "MODERATION_VIOLATION"
	ReasonClaimsRisk          = "CLAIMS_RISK"
	ReasonClaimsDisallowed    = "CLAIMS_DISALLOWED"
	ReasonUnverifiedClaim     = "UNVERIFIED_CLAIM"
	ReasonUnverifiedClaimID   = "UNVERIFIED_CLAIM_ID"
	ReasonPIIDetected         = "PII_DETECTED"
)

// Role identifies whose text is being evaluated.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Input is the text under evaluation plus its provenance.
type Input struct {
	// Role is the speaker of the proposed text.
	Role Role

	// Text is the transcript segment under evaluation.
	Text string

	// IsFinal marks a final (as opposed to streaming-delta) transcript.
	IsFinal bool

	// Metadata carries open-schema context (e.g. upstream-supplied claim
	// references). Checks may recurse into it.
	Metadata map[string]any
}

// Decision is the outcome of one check, or of the merged pipeline.
type Decision struct {
	Kind                 Kind
	Severity             int
	ReasonCodes          []string
	SafeRewrite          string
	RequiredDisclaimerID string
}

// AllowDecision is the zero-impact decision returned by checks with nothing
// to report.
func AllowDecision() Decision {
	return Decision{Kind: Allow}
}

// Merge folds next into d according to the priority-then-severity rule.
// Reason codes accumulate with duplicates removed; the first non-empty
// required disclaimer wins; the winner's safe rewrite is kept, falling back
// to whichever side has one.
func Merge(d, next Decision) Decision {
	out := d

	nextWins := next.Kind.Priority() > d.Kind.Priority() ||
		(next.Kind.Priority() == d.Kind.Priority() && next.Severity > d.Severity)
	if nextWins {
		out.Kind = next.Kind
		out.Severity = next.Severity
		if next.SafeRewrite != "" {
			out.SafeRewrite = next.SafeRewrite
		}
	} else if out.SafeRewrite == "" && next.SafeRewrite != "" {
		out.SafeRewrite = next.SafeRewrite
	}

	for _, code := range next.ReasonCodes {
		if !slices.Contains(out.ReasonCodes, code) {
			out.ReasonCodes = append(out.ReasonCodes, code)
		}
	}
	if out.RequiredDisclaimerID == "" {
		out.RequiredDisclaimerID = next.RequiredDisclaimerID
	}
	return out
}

// Check is one layer of the pipeline.
type Check interface {
	// Name identifies the check in results and logs.
	Name() string

	// Evaluate inspects in and returns a decision. Evaluate must be pure and
	// must not retain in.
	Evaluate(ctx context.Context, in Input) Decision
}

// Result is the merged outcome of a full pipeline evaluation.
type Result struct {
	Decision

	// CheckDurationMS is the wall time of the evaluation in milliseconds.
	CheckDurationMS int64

	// ChecksRun lists the names of checks that executed, in order.
	ChecksRun []string
}

// Gate is an ordered policy pipeline.
type Gate struct {
	checks []Check
}

// NewGate creates a pipeline that evaluates checks in the given order.
func NewGate(checks ...Check) *Gate {
	return &Gate{checks: checks}
}

// Evaluate runs every check in order, merging decisions. Evaluation
// short-circuits after a cancel_output, or after a refuse or escalate at
// MaxSeverity — later checks cannot change those outcomes.
func (g *Gate) Evaluate(ctx context.Context, in Input) Result {
	start := time.Now()
	res := Result{Decision: AllowDecision()}

	for _, check := range g.checks {
		d := check.Evaluate(ctx, in)
		res.Decision = Merge(res.Decision, d)
		res.ChecksRun = append(res.ChecksRun, check.Name())

		if res.Kind == CancelOutput {
			break
		}
		if (res.Kind == Refuse || res.Kind == Escalate) && res.Severity >= MaxSeverity {
			break
		}
	}

	res.CheckDurationMS = time.Since(start).Milliseconds()
	return res
}
