package policy_test

import (
	"context"
	"slices"
	"testing"

	"github.com/nxtg-ai/voxbridge/internal/policy"
	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
)

func testRegistry() *knowledge.ClaimRegistry {
	return knowledge.NewClaimRegistry(
		[]knowledge.ApprovedClaim{
			{ID: "CLAIM-001", Text: "Our product is FDA approved", RequiredDisclaimerIDs: []string{"DISC-MED"}},
			{ID: "CLAIM-002", Text: "Latency stays under 300 milliseconds in production"},
		},
		[]string{"guaranteed cure"},
	)
}

func evalAssistant(t *testing.T, c *policy.ClaimsChecker, text string, metadata map[string]any) policy.Decision {
	t.Helper()
	return c.Evaluate(context.Background(), policy.Input{
		Role:     policy.RoleAssistant,
		Text:     text,
		IsFinal:  true,
		Metadata: metadata,
	})
}

func TestClaimsUserRoleIgnored(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())
	d := c.Evaluate(context.Background(), policy.Input{
		Role: policy.RoleUser,
		Text: "this is a guaranteed cure",
	})
	if d.Kind != policy.Allow || len(d.ReasonCodes) != 0 {
		t.Errorf("user text must pass untouched, got %+v", d)
	}
}

func TestClaimsExactMatchCarriesDisclaimer(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())
	d := evalAssistant(t, c, "  our product is FDA Approved ", nil)
	if d.Kind != policy.Allow {
		t.Errorf("Kind = %v, want allow", d.Kind)
	}
	if d.RequiredDisclaimerID != "DISC-MED" {
		t.Errorf("RequiredDisclaimerID = %q, want DISC-MED", d.RequiredDisclaimerID)
	}
}

// TestClaimsPartialMatch mirrors the risky-paraphrase scenario: an approved
// claim plus extra embellishment must be rewritten back to the approved text.
func TestClaimsPartialMatch(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())
	d := evalAssistant(t, c, "Our product is FDA approved and highly effective", nil)

	if d.Kind != policy.Rewrite {
		t.Fatalf("Kind = %v, want rewrite", d.Kind)
	}
	if d.Severity != 2 {
		t.Errorf("Severity = %d, want 2", d.Severity)
	}
	if d.SafeRewrite != "Our product is FDA approved" {
		t.Errorf("SafeRewrite = %q, want the approved text", d.SafeRewrite)
	}
	if !slices.Contains(d.ReasonCodes, "CLAIMS_RISK") {
		t.Errorf("ReasonCodes = %v, want CLAIMS_RISK", d.ReasonCodes)
	}
	if d.RequiredDisclaimerID != "DISC-MED" {
		t.Errorf("RequiredDisclaimerID = %q, want DISC-MED", d.RequiredDisclaimerID)
	}
}

func TestClaimsDisallowedPattern(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())
	d := evalAssistant(t, c, "This is a GUARANTEED CURE for everything", nil)

	if d.Kind != policy.Rewrite || d.Severity != 3 {
		t.Errorf("decision = %v sev %d, want rewrite sev 3", d.Kind, d.Severity)
	}
	if !slices.Contains(d.ReasonCodes, "CLAIMS_DISALLOWED") {
		t.Errorf("ReasonCodes = %v, want CLAIMS_DISALLOWED", d.ReasonCodes)
	}
	if !slices.Contains(d.ReasonCodes, "DISALLOWED_PATTERN:GUARANTEED_CURE") {
		t.Errorf("ReasonCodes = %v, want formatted pattern code", d.ReasonCodes)
	}
}

func TestClaimsUnverifiedFallback(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())
	d := evalAssistant(t, c, "The weather is lovely today", nil)
	if d.Kind != policy.Allow || d.Severity != 1 {
		t.Errorf("decision = %v sev %d, want allow sev 1", d.Kind, d.Severity)
	}
	if !slices.Contains(d.ReasonCodes, "UNVERIFIED_CLAIM") {
		t.Errorf("ReasonCodes = %v, want UNVERIFIED_CLAIM", d.ReasonCodes)
	}
}

func TestClaimsEmptyRegistryCleanAllow(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(knowledge.NewClaimRegistry(nil, nil))
	d := evalAssistant(t, c, "Anything goes", nil)
	if d.Kind != policy.Allow || len(d.ReasonCodes) != 0 {
		t.Errorf("empty registry should allow cleanly, got %+v", d)
	}
}

func TestClaimsMetadataIDs(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())

	// Known ID (case-insensitive) carries its disclaimer.
	d := evalAssistant(t, c, "", map[string]any{"claim_ids": "see claim-001 for details"})
	if d.RequiredDisclaimerID != "DISC-MED" {
		t.Errorf("RequiredDisclaimerID = %q, want DISC-MED", d.RequiredDisclaimerID)
	}

	// Unknown ID is flagged but allowed.
	d = evalAssistant(t, c, "", map[string]any{"claim_ids": []any{"CLAIM-999"}})
	if d.Kind != policy.Allow || !slices.Contains(d.ReasonCodes, "UNVERIFIED_CLAIM_ID") {
		t.Errorf("unknown ID decision = %+v, want allow with UNVERIFIED_CLAIM_ID", d)
	}
}

func TestClaimsMetadataNestedResponse(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())
	d := evalAssistant(t, c, "", map[string]any{
		"response": map[string]any{
			"claims": []any{
				map[string]any{"text": "Our product is FDA approved"},
			},
		},
	})
	if d.Kind != policy.Allow || d.RequiredDisclaimerID != "DISC-MED" {
		t.Errorf("nested metadata claim = %+v, want exact-match allow with disclaimer", d)
	}
}

func TestClaimsMergeAcrossCandidates(t *testing.T) {
	t.Parallel()

	c := policy.NewClaimsChecker(testRegistry())
	// Transcript is an exact allow; metadata carries a disallowed pattern.
	// The rewrite must win the merge.
	d := evalAssistant(t, c, "Our product is FDA approved", map[string]any{
		"claims": "a guaranteed cure for colds",
	})
	if d.Kind != policy.Rewrite {
		t.Errorf("Kind = %v, want rewrite to win merge", d.Kind)
	}
	// The exact-match disclaimer arrived first and must be preserved.
	if d.RequiredDisclaimerID != "DISC-MED" {
		t.Errorf("RequiredDisclaimerID = %q, want DISC-MED", d.RequiredDisclaimerID)
	}
}
