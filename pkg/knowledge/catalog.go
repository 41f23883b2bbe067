package knowledge

import "strings"

// BucketAllSessions marks disclaimers that every facts pack must carry.
const BucketAllSessions = "all_sessions"

// BucketPerformanceClaims marks disclaimers implied by performance or latency
// oriented queries.
const BucketPerformanceClaims = "performance_claims"

// DisclaimerCatalog resolves disclaimer IDs and maps requirement buckets to
// the disclaimers they imply. Frozen after construction; safe for concurrent
// reads.
type DisclaimerCatalog struct {
	byID     map[string]Disclaimer
	byBucket map[string][]string // bucket → ordered disclaimer IDs
	order    []string
}

// NewDisclaimerCatalog builds a catalog from the loaded disclaimers,
// preserving catalog order for deterministic pack contents.
func NewDisclaimerCatalog(disclaimers []Disclaimer) *DisclaimerCatalog {
	c := &DisclaimerCatalog{
		byID:     make(map[string]Disclaimer, len(disclaimers)),
		byBucket: make(map[string][]string),
	}
	for _, d := range disclaimers {
		if d.ID == "" {
			continue
		}
		if _, dup := c.byID[d.ID]; dup {
			continue
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
		for _, bucket := range d.RequiredFor {
			c.byBucket[bucket] = append(c.byBucket[bucket], d.ID)
		}
	}
	return c
}

// Resolve returns the disclaimer for id, if it exists.
func (c *DisclaimerCatalog) Resolve(id string) (Disclaimer, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// RequiredFor returns the IDs of disclaimers whose required_for list contains
// bucket, in catalog order.
func (c *DisclaimerCatalog) RequiredFor(bucket string) []string {
	return c.byBucket[bucket]
}

// Len returns the number of distinct disclaimers in the catalog.
func (c *DisclaimerCatalog) Len() int { return len(c.order) }

// ClaimRegistry holds the approved claims and disallowed patterns used by the
// claims checker. Frozen after construction; safe for concurrent reads.
type ClaimRegistry struct {
	claims     []ApprovedClaim
	byID       map[string]ApprovedClaim
	byExact    map[string]ApprovedClaim // normalized text → claim
	disallowed []string
}

// NewClaimRegistry builds a registry from loaded claims and disallowed
// substring patterns.
func NewClaimRegistry(claims []ApprovedClaim, disallowed []string) *ClaimRegistry {
	r := &ClaimRegistry{
		claims:     claims,
		byID:       make(map[string]ApprovedClaim, len(claims)),
		byExact:    make(map[string]ApprovedClaim, len(claims)),
		disallowed: disallowed,
	}
	for _, c := range claims {
		if c.ID != "" {
			r.byID[strings.ToUpper(c.ID)] = c
		}
		if norm := NormalizeClaim(c.Text); norm != "" {
			r.byExact[norm] = c
		}
	}
	return r
}

// NormalizeClaim lowercases and trims claim text for exact matching.
func NormalizeClaim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Claims returns the full approved-claims list in load order.
func (r *ClaimRegistry) Claims() []ApprovedClaim { return r.claims }

// DisallowedPatterns returns the disallowed substring patterns in load order.
func (r *ClaimRegistry) DisallowedPatterns() []string { return r.disallowed }

// ByID looks up a claim by its identifier, case-insensitively.
func (r *ClaimRegistry) ByID(id string) (ApprovedClaim, bool) {
	c, ok := r.byID[strings.ToUpper(id)]
	return c, ok
}

// ByExactText looks up a claim whose normalized text equals the normalized
// proposed text.
func (r *ClaimRegistry) ByExactText(text string) (ApprovedClaim, bool) {
	c, ok := r.byExact[NormalizeClaim(text)]
	return c, ok
}

// Len returns the number of approved claims.
func (r *ClaimRegistry) Len() int { return len(r.claims) }
