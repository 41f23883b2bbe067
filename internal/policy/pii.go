package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// PIIMode selects how the redactor reacts to a detection.
type PIIMode string

const (
	// PIIModeRedact replaces matches with placeholders and decides rewrite.
	PIIModeRedact PIIMode = "redact"

	// PIIModeFlag keeps the text intact and decides allow with reason codes.
	PIIModeFlag PIIMode = "flag"
)

// IsValid reports whether m is a recognised PII handling mode.
func (m PIIMode) IsValid() bool {
	return m == PIIModeRedact || m == PIIModeFlag
}

// PIIPattern pairs a detector kind with its regular expression. The kind
// appears in the redaction placeholder and in reason codes.
type PIIPattern struct {
	Kind    string
	Pattern *regexp.Regexp
}

// DefaultPIIPatterns covers US phone numbers, email addresses, SSNs, and
// 16-digit credit card numbers.
func DefaultPIIPatterns() []PIIPattern {
	return []PIIPattern{
		{Kind: "PHONE", Pattern: regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
		{Kind: "EMAIL", Pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
		{Kind: "SSN", Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{Kind: "CREDIT_CARD", Pattern: regexp.MustCompile(`\b(?:\d{4}[ \-]?){3}\d{4}\b`)},
	}
}

// defaultMetadataDepth bounds metadata recursion when scanning for PII.
const defaultMetadataDepth = 4

// Redactor detects personally identifiable information in proposed text and,
// depending on mode, either rewrites it out or flags it.
type Redactor struct {
	mode          PIIMode
	patterns      []PIIPattern
	metadataDepth int
}

// RedactorOption configures a [Redactor].
type RedactorOption func(*Redactor)

// WithPIIPatterns replaces the default pattern set.
func WithPIIPatterns(patterns []PIIPattern) RedactorOption {
	return func(r *Redactor) { r.patterns = patterns }
}

// WithMetadataDepth sets how deep the redactor recurses into input metadata.
// Zero disables metadata scanning.
func WithMetadataDepth(depth int) RedactorOption {
	return func(r *Redactor) { r.metadataDepth = depth }
}

// NewRedactor creates a PII redactor in the given mode with the default
// pattern set.
func NewRedactor(mode PIIMode, opts ...RedactorOption) *Redactor {
	r := &Redactor{
		mode:          mode,
		patterns:      DefaultPIIPatterns(),
		metadataDepth: defaultMetadataDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements [Check].
func (r *Redactor) Name() string { return "pii_redactor" }

// Mode returns the redactor's configured mode.
func (r *Redactor) Mode() PIIMode { return r.mode }

// RedactText replaces every PII match in s with a [KIND_REDACTED]
// placeholder and returns the sorted set of detected kinds. Idempotent:
// placeholders contain no digits or address characters, so re-running on
// already-redacted text detects nothing new.
func (r *Redactor) RedactText(s string) (redacted string, detectedKinds []string) {
	redacted = s
	kinds := make(map[string]struct{})
	for _, p := range r.patterns {
		if p.Pattern.MatchString(redacted) {
			kinds[p.Kind] = struct{}{}
			redacted = p.Pattern.ReplaceAllString(redacted, fmt.Sprintf("[%s_REDACTED]", p.Kind))
		}
	}
	for k := range kinds {
		detectedKinds = append(detectedKinds, k)
	}
	sort.Strings(detectedKinds)
	return redacted, detectedKinds
}

// Evaluate implements [Check]. In redact mode a detection decides rewrite
// (severity 3) with the redacted text as the safe rewrite; in flag mode it
// decides allow (severity 1) with reason codes only.
func (r *Redactor) Evaluate(_ context.Context, in Input) Decision {
	redacted, kinds := r.RedactText(in.Text)
	if r.metadataDepth > 0 {
		kinds = mergeKinds(kinds, r.scanMetadata(in.Metadata, r.metadataDepth, make(map[any]struct{})))
	}
	if len(kinds) == 0 {
		return AllowDecision()
	}

	codes := []string{ReasonPIIDetected}
	for _, k := range kinds {
		codes = append(codes, ReasonPIIDetected+":"+k)
	}

	if r.mode == PIIModeFlag {
		return Decision{Kind: Allow, Severity: 1, ReasonCodes: codes}
	}
	return Decision{
		Kind:        Rewrite,
		Severity:    3,
		ReasonCodes: codes,
		SafeRewrite: redacted,
	}
}

// scanMetadata walks maps, slices, and strings inside metadata looking for
// PII, up to depth levels. Visited containers are tracked to survive cycles.
func (r *Redactor) scanMetadata(v any, depth int, visited map[any]struct{}) []string {
	if depth <= 0 || v == nil {
		return nil
	}
	switch val := v.(type) {
	case string:
		_, kinds := r.RedactText(val)
		return kinds
	case map[string]any:
		// Maps are not comparable; key the visited set on the map's address.
		id := fmt.Sprintf("%p", val)
		if _, seen := visited[id]; seen {
			return nil
		}
		visited[id] = struct{}{}
		var kinds []string
		for _, item := range val {
			kinds = mergeKinds(kinds, r.scanMetadata(item, depth-1, visited))
		}
		return kinds
	case []any:
		id := fmt.Sprintf("%p", val)
		if _, seen := visited[id]; seen {
			return nil
		}
		visited[id] = struct{}{}
		var kinds []string
		for _, item := range val {
			kinds = mergeKinds(kinds, r.scanMetadata(item, depth-1, visited))
		}
		return kinds
	default:
		return nil
	}
}

// mergeKinds unions two sorted kind lists.
func mergeKinds(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
