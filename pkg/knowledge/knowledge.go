// Package knowledge holds the read-shared knowledge base of the orchestrator:
// the product facts catalog, the disclaimer catalog, and the approved-claims
// registry, together with a TF-IDF index and a budget-bounded facts-pack
// builder.
//
// All catalogs are loaded once at startup and frozen afterwards, so they can
// be shared across sessions without locking. A missing facts catalog leaves
// the service in a not-ready state that degrades to empty packs rather than
// failing sessions.
package knowledge

import (
	"encoding/json"
	"fmt"
)

// DefaultTopic is the facts-pack topic used when the query is empty.
const DefaultTopic = "NextGen AI"

// MaxTopicLen is the upper bound on the facts-pack topic length in characters.
const MaxTopicLen = 120

// Fact is one entry of the product facts catalog (one JSONL line).
type Fact struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Category  string `json:"category,omitempty"`
}

// Disclaimer is one entry of the disclaimer catalog. RequiredFor lists the
// requirement buckets (e.g. "all_sessions", "performance_claims", or a fact
// category) that imply this disclaimer.
type Disclaimer struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Category    string   `json:"category,omitempty"`
	RequiredFor []string `json:"required_for,omitempty"`
}

// ApprovedClaim is a pre-verified statement the assistant is allowed to make.
// Immutable after load.
type ApprovedClaim struct {
	ID                    string
	Text                  string
	Source                string
	Category              string
	RequiredDisclaimerIDs []string
	LastVerified          string
}

// claimJSON mirrors the on-disk claim entry, which admits both the singular
// and plural disclaimer fields and either "claim" or "text" for the body.
type claimJSON struct {
	ID                    string   `json:"id"`
	Claim                 string   `json:"claim"`
	Text                  string   `json:"text"`
	Source                string   `json:"source"`
	Category              string   `json:"category"`
	RequiredDisclaimerID  string   `json:"required_disclaimer_id"`
	RequiredDisclaimerIDs []string `json:"required_disclaimer_ids"`
	LastVerified          string   `json:"last_verified"`
}

// UnmarshalJSON folds the loose on-disk shapes into a canonical ApprovedClaim.
func (c *ApprovedClaim) UnmarshalJSON(data []byte) error {
	var raw claimJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("knowledge: claim entry: %w", err)
	}
	text := raw.Claim
	if text == "" {
		text = raw.Text
	}
	ids := raw.RequiredDisclaimerIDs
	if raw.RequiredDisclaimerID != "" {
		ids = append([]string{raw.RequiredDisclaimerID}, ids...)
	}
	*c = ApprovedClaim{
		ID:                    raw.ID,
		Text:                  text,
		Source:                raw.Source,
		Category:              raw.Category,
		RequiredDisclaimerIDs: ids,
		LastVerified:          raw.LastVerified,
	}
	return nil
}

// FactsPack is the capped bundle of retrieved facts and implied disclaimer
// IDs injected as response-scoped instructions.
type FactsPack struct {
	Topic       string   `json:"topic"`
	Facts       []Fact   `json:"facts"`
	Disclaimers []string `json:"disclaimers"`
}

// Caps bounds a facts pack. Bytes are measured on the UTF-8 JSON encoding;
// tokens are approximated as ceil(len(JSON)/4).
type Caps struct {
	TopK      int
	MaxTokens int
	MaxBytes  int
}

// DefaultCaps are the caps applied when a caller passes a zero Caps value.
var DefaultCaps = Caps{TopK: 5, MaxTokens: 600, MaxBytes: 4096}

// Fits reports whether the serialized pack respects both caps.
func (c Caps) Fits(p FactsPack) bool {
	data, err := json.Marshal(p)
	if err != nil {
		return false
	}
	if c.MaxBytes > 0 && len(data) > c.MaxBytes {
		return false
	}
	if c.MaxTokens > 0 && (len(data)+3)/4 > c.MaxTokens {
		return false
	}
	return true
}
