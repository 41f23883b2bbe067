package policy

import (
	"context"
	"regexp"
	"strings"
)

// Category is one moderation category with its own severity and outcome.
// The self-harm category should be configured with Decision = Escalate so
// the fallback lane selects the human-handoff utterance instead of a plain
// refusal.
type Category struct {
	Name     string
	Patterns []*regexp.Regexp
	Severity int
	Decision Kind
}

// Moderator screens text against disallowed content. It runs in one of two
// modes: flat (a single pattern list where any match refuses at maximum
// severity) or categorized (ordered categories where the first match wins).
type Moderator struct {
	flat       []*regexp.Regexp
	categories []Category
}

// NewFlatModerator creates a moderator where any pattern match decides
// refuse at severity 4 with reason MODERATION_VIOLATION.
func NewFlatModerator(patterns []*regexp.Regexp) *Moderator {
	return &Moderator{flat: patterns}
}

// NewCategorizedModerator creates a moderator with ordered categories; the
// first category with a matching pattern determines the decision.
func NewCategorizedModerator(categories []Category) *Moderator {
	return &Moderator{categories: categories}
}

// Name implements [Check].
func (m *Moderator) Name() string { return "moderator" }

// Evaluate implements [Check].
func (m *Moderator) Evaluate(_ context.Context, in Input) Decision {
	if len(m.categories) > 0 {
		return m.evaluateCategorized(in.Text)
	}
	return m.evaluateFlat(in.Text)
}

func (m *Moderator) evaluateFlat(text string) Decision {
	for _, p := range m.flat {
		if p.MatchString(text) {
			return Decision{
				Kind:        Refuse,
				Severity:    MaxSeverity,
				ReasonCodes: []string{ReasonModerationViolation},
			}
		}
	}
	return AllowDecision()
}

func (m *Moderator) evaluateCategorized(text string) Decision {
	for _, cat := range m.categories {
		for _, p := range cat.Patterns {
			if !p.MatchString(text) {
				continue
			}
			kind := cat.Decision
			if kind == "" {
				kind = Refuse
			}
			return Decision{
				Kind:     kind,
				Severity: cat.Severity,
				ReasonCodes: []string{
					ReasonModerationViolation,
					"MODERATION:" + categoryCode(cat.Name),
				},
			}
		}
	}
	return AllowDecision()
}

// DefaultCategories returns the stock moderation rules. Self-harm escalates
// at maximum severity so the human-handoff fallback utterance is selected;
// violence and harassment refuse at severity 3.
func DefaultCategories() []Category {
	return []Category{
		{
			Name: "self harm",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(kill|hurt|harm)\s+(myself|themselves)\b`),
				regexp.MustCompile(`(?i)\bsuicid(e|al)\b`),
				regexp.MustCompile(`(?i)\bself[- ]harm\b`),
			},
			Severity: MaxSeverity,
			Decision: Escalate,
		},
		{
			Name: "violence",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bhow\s+to\s+(build|make)\s+(a\s+)?(bomb|weapon|explosive)\b`),
				regexp.MustCompile(`(?i)\b(kill|attack|assault)\s+(him|her|them|someone|people)\b`),
			},
			Severity: 3,
			Decision: Refuse,
		},
		{
			Name: "harassment",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(doxx?|swat)\s+(him|her|them|someone)\b`),
			},
			Severity: 3,
			Decision: Refuse,
		},
	}
}

// categoryCode converts a category name to its UPPER_SNAKE reason-code form.
func categoryCode(name string) string {
	code := strings.ToUpper(strings.TrimSpace(name))
	code = strings.NewReplacer(" ", "_", "-", "_").Replace(code)
	return code
}
