package policy

import (
	"context"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
)

// claimIDPattern extracts claim identifiers like CLAIM-001 from free text,
// case-insensitively.
var claimIDPattern = regexp.MustCompile(`(?i)\bCLAIM-\d{3,}\b`)

// DefaultPartialMatchThreshold is the minimum word-overlap ratio for a
// proposed statement to count as a risky paraphrase of an approved claim.
const DefaultPartialMatchThreshold = 0.6

// ClaimsChecker verifies assistant statements against the approved-claims
// registry. It only evaluates assistant-role input; user text passes through
// untouched.
type ClaimsChecker struct {
	registry  *knowledge.ClaimRegistry
	threshold float64
}

// ClaimsOption configures a [ClaimsChecker].
type ClaimsOption func(*ClaimsChecker)

// WithPartialMatchThreshold overrides the word-overlap threshold.
func WithPartialMatchThreshold(t float64) ClaimsOption {
	return func(c *ClaimsChecker) { c.threshold = t }
}

// NewClaimsChecker creates a checker over the shared registry.
func NewClaimsChecker(registry *knowledge.ClaimRegistry, opts ...ClaimsOption) *ClaimsChecker {
	c := &ClaimsChecker{
		registry:  registry,
		threshold: DefaultPartialMatchThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements [Check].
func (c *ClaimsChecker) Name() string { return "claims_checker" }

// Evaluate implements [Check]. It builds the candidate set (transcript text
// plus metadata-supplied claim texts and IDs), evaluates each candidate, and
// merges the per-candidate decisions under the standard priority rule.
func (c *ClaimsChecker) Evaluate(_ context.Context, in Input) Decision {
	if in.Role != RoleAssistant {
		return AllowDecision()
	}

	texts, ids := c.collectCandidates(in)

	merged := AllowDecision()
	for _, text := range texts {
		merged = Merge(merged, c.evaluateText(text))
	}
	for _, id := range ids {
		merged = Merge(merged, c.evaluateID(id))
	}
	return merged
}

// collectCandidates gathers candidate claim texts and claim IDs from the
// transcript and the recognised metadata locations. Metadata values may be
// strings, arrays, or objects carrying "text"/"claim"/"id" fields.
func (c *ClaimsChecker) collectCandidates(in Input) (texts []string, ids []string) {
	if t := strings.TrimSpace(in.Text); t != "" {
		texts = append(texts, t)
	}

	sources := []any{
		in.Metadata["claims"],
		in.Metadata["claim_ids"],
	}
	if resp, ok := in.Metadata["response"].(map[string]any); ok {
		sources = append(sources, resp["claims"], resp["claim_ids"])
	}

	seenText := map[string]struct{}{}
	seenID := map[string]struct{}{}
	if len(texts) > 0 {
		seenText[knowledge.NormalizeClaim(texts[0])] = struct{}{}
	}

	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			if found := claimIDPattern.FindAllString(val, -1); len(found) > 0 {
				for _, id := range found {
					key := strings.ToUpper(id)
					if _, ok := seenID[key]; !ok {
						seenID[key] = struct{}{}
						ids = append(ids, id)
					}
				}
				return
			}
			if t := strings.TrimSpace(val); t != "" {
				key := knowledge.NormalizeClaim(t)
				if _, ok := seenText[key]; !ok {
					seenText[key] = struct{}{}
					texts = append(texts, t)
				}
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		case map[string]any:
			if s, ok := val["text"].(string); ok {
				walk(s)
			}
			if s, ok := val["claim"].(string); ok {
				walk(s)
			}
			if s, ok := val["id"].(string); ok {
				walk(s)
			}
		}
	}
	for _, src := range sources {
		if src != nil {
			walk(src)
		}
	}
	return texts, ids
}

// evaluateText applies the per-candidate rules in order: disallowed-pattern
// containment, exact approved match, partial match, unverified fallback.
func (c *ClaimsChecker) evaluateText(text string) Decision {
	lower := strings.ToLower(text)

	for _, pattern := range c.registry.DisallowedPatterns() {
		if pattern == "" || !strings.Contains(lower, strings.ToLower(pattern)) {
			continue
		}
		d := Decision{
			Kind:     Rewrite,
			Severity: 3,
			ReasonCodes: []string{
				ReasonClaimsDisallowed,
				"DISALLOWED_PATTERN:" + patternCode(pattern),
			},
		}
		if best, _, ok := c.bestApprovedMatch(text); ok {
			d.SafeRewrite = best.Text
			d.RequiredDisclaimerID = firstDisclaimer(best)
		}
		return d
	}

	if claim, ok := c.registry.ByExactText(text); ok {
		return Decision{
			Kind:                 Allow,
			RequiredDisclaimerID: firstDisclaimer(claim),
		}
	}

	if best, ratio, ok := c.bestApprovedMatch(text); ok && ratio >= c.threshold {
		return Decision{
			Kind:                 Rewrite,
			Severity:             2,
			ReasonCodes:          []string{ReasonClaimsRisk},
			SafeRewrite:          best.Text,
			RequiredDisclaimerID: firstDisclaimer(best),
		}
	}

	if c.registry.Len() > 0 {
		return Decision{
			Kind:        Allow,
			Severity:    1,
			ReasonCodes: []string{ReasonUnverifiedClaim},
		}
	}
	return AllowDecision()
}

// evaluateID resolves a claim ID against the registry. A known ID carries its
// disclaimer; an unknown one is flagged but still allowed.
func (c *ClaimsChecker) evaluateID(id string) Decision {
	if claim, ok := c.registry.ByID(id); ok {
		return Decision{
			Kind:                 Allow,
			RequiredDisclaimerID: firstDisclaimer(claim),
		}
	}
	return Decision{
		Kind:        Allow,
		Severity:    1,
		ReasonCodes: []string{ReasonUnverifiedClaimID},
	}
}

// bestApprovedMatch finds the approved claim with the highest word-overlap
// ratio against text (|claim words ∩ proposed words| / |claim words|).
// Ties are broken by Jaro-Winkler similarity of the full strings.
func (c *ClaimsChecker) bestApprovedMatch(text string) (knowledge.ApprovedClaim, float64, bool) {
	proposed := wordSet(text)
	if len(proposed) == 0 {
		return knowledge.ApprovedClaim{}, 0, false
	}

	var (
		best      knowledge.ApprovedClaim
		bestRatio float64
		bestSim   float64
		found     bool
	)
	lowerText := strings.ToLower(text)
	for _, claim := range c.registry.Claims() {
		words := wordSet(claim.Text)
		if len(words) == 0 {
			continue
		}
		overlap := 0
		for w := range words {
			if _, ok := proposed[w]; ok {
				overlap++
			}
		}
		ratio := float64(overlap) / float64(len(words))
		if ratio == 0 {
			continue
		}
		sim := matchr.JaroWinkler(lowerText, strings.ToLower(claim.Text), true)
		if !found || ratio > bestRatio || (ratio == bestRatio && sim > bestSim) {
			best = claim
			bestRatio = ratio
			bestSim = sim
			found = true
		}
	}
	return best, bestRatio, found
}

// wordSet lowercases text and splits it into a set of words with
// non-alphanumeric edges trimmed.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
		})
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// firstDisclaimer returns the claim's first required disclaimer ID, if any.
func firstDisclaimer(claim knowledge.ApprovedClaim) string {
	if len(claim.RequiredDisclaimerIDs) > 0 {
		return claim.RequiredDisclaimerIDs[0]
	}
	return ""
}

// patternCode converts a disallowed pattern to UPPER_SNAKE for reason codes.
func patternCode(pattern string) string {
	code := strings.ToUpper(strings.TrimSpace(pattern))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(code)
}
