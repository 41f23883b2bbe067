package policy_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/nxtg-ai/voxbridge/internal/policy"
)

// staticCheck returns a fixed decision; used to exercise merge and
// short-circuit behaviour.
type staticCheck struct {
	name string
	d    policy.Decision
}

func (s staticCheck) Name() string                                        { return s.name }
func (s staticCheck) Evaluate(_ context.Context, _ policy.Input) policy.Decision { return s.d }

func TestMergePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b policy.Decision
		want policy.Kind
	}{
		{name: "rewrite beats allow", a: policy.Decision{Kind: policy.Allow}, b: policy.Decision{Kind: policy.Rewrite}, want: policy.Rewrite},
		{name: "refuse beats rewrite", a: policy.Decision{Kind: policy.Rewrite}, b: policy.Decision{Kind: policy.Refuse}, want: policy.Refuse},
		{name: "cancel beats escalate", a: policy.Decision{Kind: policy.Escalate}, b: policy.Decision{Kind: policy.CancelOutput}, want: policy.CancelOutput},
		{name: "lower does not override", a: policy.Decision{Kind: policy.Refuse}, b: policy.Decision{Kind: policy.Allow}, want: policy.Refuse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := policy.Merge(tt.a, tt.b); got.Kind != tt.want {
				t.Errorf("Merge kind = %v, want %v", got.Kind, tt.want)
			}
		})
	}
}

func TestMergeSeverityTieBreak(t *testing.T) {
	t.Parallel()

	a := policy.Decision{Kind: policy.Rewrite, Severity: 2, SafeRewrite: "low"}
	b := policy.Decision{Kind: policy.Rewrite, Severity: 3, SafeRewrite: "high"}
	got := policy.Merge(a, b)
	if got.Severity != 3 || got.SafeRewrite != "high" {
		t.Errorf("Merge = %+v, want severity 3 with rewrite %q", got, "high")
	}
}

func TestMergeReasonCodesDeduplicated(t *testing.T) {
	t.Parallel()

	a := policy.Decision{Kind: policy.Allow, ReasonCodes: []string{"X", "Y"}}
	b := policy.Decision{Kind: policy.Allow, ReasonCodes: []string{"Y", "Z"}}
	got := policy.Merge(a, b)
	if len(got.ReasonCodes) != 3 {
		t.Errorf("ReasonCodes = %v, want 3 unique codes", got.ReasonCodes)
	}
}

func TestMergeFirstDisclaimerWins(t *testing.T) {
	t.Parallel()

	a := policy.Decision{Kind: policy.Allow, RequiredDisclaimerID: "DISC-A"}
	b := policy.Decision{Kind: policy.Refuse, RequiredDisclaimerID: "DISC-B"}
	if got := policy.Merge(a, b); got.RequiredDisclaimerID != "DISC-A" {
		t.Errorf("RequiredDisclaimerID = %q, want DISC-A", got.RequiredDisclaimerID)
	}
}

func TestGateShortCircuitOnCancel(t *testing.T) {
	t.Parallel()

	gate := policy.NewGate(
		staticCheck{name: "first", d: policy.Decision{Kind: policy.CancelOutput, Severity: 4}},
		staticCheck{name: "second", d: policy.Decision{Kind: policy.Allow}},
	)
	res := gate.Evaluate(context.Background(), policy.Input{Text: "x"})
	if res.Kind != policy.CancelOutput {
		t.Errorf("Kind = %v, want cancel_output", res.Kind)
	}
	if len(res.ChecksRun) != 1 {
		t.Errorf("ChecksRun = %v, want only the first check", res.ChecksRun)
	}
}

func TestGateShortCircuitOnMaxSeverityRefuse(t *testing.T) {
	t.Parallel()

	gate := policy.NewGate(
		staticCheck{name: "first", d: policy.Decision{Kind: policy.Refuse, Severity: 4}},
		staticCheck{name: "second", d: policy.Decision{Kind: policy.Allow}},
	)
	res := gate.Evaluate(context.Background(), policy.Input{Text: "x"})
	if len(res.ChecksRun) != 1 {
		t.Errorf("ChecksRun = %v, want short-circuit after severity-4 refuse", res.ChecksRun)
	}
}

func TestGateRunsAllChecksOnAllow(t *testing.T) {
	t.Parallel()

	gate := policy.NewGate(
		staticCheck{name: "a", d: policy.AllowDecision()},
		staticCheck{name: "b", d: policy.Decision{Kind: policy.Rewrite, Severity: 2, SafeRewrite: "safe"}},
		staticCheck{name: "c", d: policy.AllowDecision()},
	)
	res := gate.Evaluate(context.Background(), policy.Input{Text: "x"})
	if len(res.ChecksRun) != 3 {
		t.Errorf("ChecksRun = %v, want all three", res.ChecksRun)
	}
	if res.Kind != policy.Rewrite || res.SafeRewrite != "safe" {
		t.Errorf("result = %+v, want rewrite with safe text", res.Decision)
	}
}

func TestGateDeterministic(t *testing.T) {
	t.Parallel()

	gate := policy.NewGate(
		policy.NewRedactor(policy.PIIModeRedact),
		policy.NewFlatModerator([]*regexp.Regexp{regexp.MustCompile(`(?i)\bforbidden\b`)}),
	)
	in := policy.Input{Role: policy.RoleUser, Text: "call me at 555-867-5309 please"}

	first := gate.Evaluate(context.Background(), in)
	second := gate.Evaluate(context.Background(), in)
	if first.Kind != second.Kind || first.Severity != second.Severity || first.SafeRewrite != second.SafeRewrite {
		t.Errorf("evaluation not deterministic: %+v vs %+v", first.Decision, second.Decision)
	}
}
