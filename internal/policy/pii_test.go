package policy_test

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/nxtg-ai/voxbridge/internal/policy"
)

func TestRedactTextKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantKinds []string
		wantGone  string // substring that must not survive redaction
	}{
		{name: "phone", in: "call me at 555-867-5309", wantKinds: []string{"PHONE"}, wantGone: "5309"},
		{name: "email", in: "mail bob@example.com today", wantKinds: []string{"EMAIL"}, wantGone: "example.com"},
		{name: "ssn", in: "my ssn is 123-45-6789", wantKinds: []string{"SSN"}, wantGone: "6789"},
		{name: "card", in: "card 4111 1111 1111 1111 thanks", wantKinds: []string{"CREDIT_CARD"}, wantGone: "4111"},
		{name: "clean", in: "nothing sensitive here", wantKinds: nil},
	}

	r := policy.NewRedactor(policy.PIIModeRedact)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			redacted, kinds := r.RedactText(tt.in)
			if !slices.Equal(kinds, tt.wantKinds) {
				t.Errorf("kinds = %v, want %v", kinds, tt.wantKinds)
			}
			if tt.wantGone != "" && strings.Contains(redacted, tt.wantGone) {
				t.Errorf("redacted text still contains %q: %q", tt.wantGone, redacted)
			}
			for _, k := range tt.wantKinds {
				if !strings.Contains(redacted, "["+k+"_REDACTED]") {
					t.Errorf("redacted text missing %s placeholder: %q", k, redacted)
				}
			}
		})
	}
}

func TestRedactTextIdempotent(t *testing.T) {
	t.Parallel()

	r := policy.NewRedactor(policy.PIIModeRedact)
	once, _ := r.RedactText("email bob@example.com or call 555-867-5309")
	twice, kinds := r.RedactText(once)
	if twice != once {
		t.Errorf("second pass changed text:\n once: %q\ntwice: %q", once, twice)
	}
	if len(kinds) != 0 {
		t.Errorf("second pass detected kinds %v on already-redacted text", kinds)
	}
}

func TestRedactorEvaluateModes(t *testing.T) {
	t.Parallel()

	in := policy.Input{Role: policy.RoleUser, Text: "reach me at bob@example.com"}

	redact := policy.NewRedactor(policy.PIIModeRedact).Evaluate(context.Background(), in)
	if redact.Kind != policy.Rewrite || redact.Severity != 3 {
		t.Errorf("redact mode = %v sev %d, want rewrite sev 3", redact.Kind, redact.Severity)
	}
	if !strings.Contains(redact.SafeRewrite, "[EMAIL_REDACTED]") {
		t.Errorf("SafeRewrite = %q, want redacted email", redact.SafeRewrite)
	}
	if !slices.Contains(redact.ReasonCodes, "PII_DETECTED") || !slices.Contains(redact.ReasonCodes, "PII_DETECTED:EMAIL") {
		t.Errorf("ReasonCodes = %v", redact.ReasonCodes)
	}

	flag := policy.NewRedactor(policy.PIIModeFlag).Evaluate(context.Background(), in)
	if flag.Kind != policy.Allow || flag.Severity != 1 {
		t.Errorf("flag mode = %v sev %d, want allow sev 1", flag.Kind, flag.Severity)
	}
	if flag.SafeRewrite != "" {
		t.Errorf("flag mode must not rewrite, got %q", flag.SafeRewrite)
	}
}

func TestRedactorMetadataRecursion(t *testing.T) {
	t.Parallel()

	in := policy.Input{
		Role: policy.RoleUser,
		Text: "clean text",
		Metadata: map[string]any{
			"nested": map[string]any{
				"contact": []any{"bob@example.com"},
			},
		},
	}
	d := policy.NewRedactor(policy.PIIModeFlag).Evaluate(context.Background(), in)
	if !slices.Contains(d.ReasonCodes, "PII_DETECTED:EMAIL") {
		t.Errorf("metadata email not detected: %v", d.ReasonCodes)
	}
}

func TestRedactorMetadataCycle(t *testing.T) {
	t.Parallel()

	inner := map[string]any{}
	outer := map[string]any{"child": inner}
	inner["parent"] = outer

	in := policy.Input{Role: policy.RoleUser, Text: "clean", Metadata: outer}

	// Must terminate despite the cycle.
	d := policy.NewRedactor(policy.PIIModeFlag, policy.WithMetadataDepth(10)).Evaluate(context.Background(), in)
	if d.Kind != policy.Allow {
		t.Errorf("Kind = %v, want allow", d.Kind)
	}
}

func TestRedactorMetadataDepthZeroDisables(t *testing.T) {
	t.Parallel()

	in := policy.Input{
		Role:     policy.RoleUser,
		Text:     "clean",
		Metadata: map[string]any{"email": "bob@example.com"},
	}
	d := policy.NewRedactor(policy.PIIModeFlag, policy.WithMetadataDepth(0)).Evaluate(context.Background(), in)
	if len(d.ReasonCodes) != 0 {
		t.Errorf("depth 0 should skip metadata, got %v", d.ReasonCodes)
	}
}
