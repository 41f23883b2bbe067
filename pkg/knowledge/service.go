package knowledge

import (
	"log/slog"
	"strings"
)

// Service is the retrieval front of the knowledge base: TF-IDF search over
// the facts catalog plus disclaimer implication and cap-bounded facts-pack
// assembly. A Service is shared read-only across all sessions.
type Service struct {
	index   *Index
	catalog *DisclaimerCatalog
	ready   bool
}

// NewService builds a ready Service over the loaded facts. A nil catalog is
// replaced with an empty one.
func NewService(facts []Fact, catalog *DisclaimerCatalog) *Service {
	if catalog == nil {
		catalog = NewDisclaimerCatalog(nil)
	}
	return &Service{
		index:   NewIndex(facts),
		catalog: catalog,
		ready:   true,
	}
}

// NewUnreadyService builds a Service that reports not-ready and returns empty
// packs. Used when the facts catalog failed to load.
func NewUnreadyService(catalog *DisclaimerCatalog) *Service {
	if catalog == nil {
		catalog = NewDisclaimerCatalog(nil)
	}
	return &Service{
		index:   NewIndex(nil),
		catalog: catalog,
		ready:   false,
	}
}

// Ready reports whether the facts catalog loaded successfully.
func (s *Service) Ready() bool { return s.ready }

// Catalog returns the shared disclaimer catalog.
func (s *Service) Catalog() *DisclaimerCatalog { return s.catalog }

// FactCount returns the number of indexed facts.
func (s *Service) FactCount() int { return s.index.Len() }

// Search runs a TF-IDF cosine query over the facts catalog.
func (s *Service) Search(query string, topK int) []Result {
	if !s.ready {
		return nil
	}
	return s.index.Search(query, topK)
}

// RetrieveFactsPack assembles a facts pack for query under caps. The returned
// pack always satisfies both the byte and approximate-token caps; when the
// registry is not ready the pack is empty.
func (s *Service) RetrieveFactsPack(query string, caps Caps) FactsPack {
	if caps == (Caps{}) {
		caps = DefaultCaps
	}

	pack := FactsPack{
		Topic:       packTopic(query),
		Facts:       []Fact{},
		Disclaimers: []string{},
	}
	if !s.ready {
		return pack
	}

	candidates := s.index.Search(query, caps.TopK)
	pack.Disclaimers = s.impliedDisclaimers(query, candidates)

	// If even the empty-facts pack busts the caps, the disclaimers go first.
	if !caps.Fits(pack) {
		pack.Disclaimers = []string{}
	}

	// Admit facts in score order, each only if the pack still fits.
	for _, cand := range candidates {
		trial := pack
		trial.Facts = append(append([]Fact{}, pack.Facts...), cand.Fact)
		if caps.Fits(trial) {
			pack = trial
		}
	}

	// Safety trim. Pops facts first, then disclaimers, then halves the topic
	// until the pack fits or nothing is left to shed.
	for !caps.Fits(pack) {
		switch {
		case len(pack.Facts) > 0:
			pack.Facts = pack.Facts[:len(pack.Facts)-1]
		case len(pack.Disclaimers) > 0:
			pack.Disclaimers = pack.Disclaimers[:len(pack.Disclaimers)-1]
		case len(pack.Topic) > 1:
			pack.Topic = pack.Topic[:len(pack.Topic)/2]
		default:
			slog.Warn("facts pack cannot satisfy caps even when empty",
				"max_bytes", caps.MaxBytes, "max_tokens", caps.MaxTokens)
			return pack
		}
	}

	return pack
}

// packTopic derives the pack topic from the query: trimmed, capped at
// MaxTopicLen characters, defaulting to DefaultTopic when empty.
func packTopic(query string) string {
	topic := strings.TrimSpace(query)
	if topic == "" {
		return DefaultTopic
	}
	if len(topic) > MaxTopicLen {
		topic = topic[:MaxTopicLen]
	}
	return topic
}

// impliedDisclaimers collects the disclaimers required by the query and the
// candidate fact set: the always-on all_sessions bucket, the
// performance_claims bucket when the query mentions performance or latency,
// and each candidate fact's category bucket. Order is stable, duplicates are
// dropped.
func (s *Service) impliedDisclaimers(query string, candidates []Result) []string {
	var ids []string
	seen := make(map[string]struct{})
	add := func(list []string) {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	add(s.catalog.RequiredFor(BucketAllSessions))

	q := strings.ToLower(query)
	if strings.Contains(q, "performance") || strings.Contains(q, "latency") {
		add(s.catalog.RequiredFor(BucketPerformanceClaims))
	}

	for _, cand := range candidates {
		if cand.Fact.Category != "" {
			add(s.catalog.RequiredFor(cand.Fact.Category))
		}
	}

	if ids == nil {
		return []string{}
	}
	return ids
}

// LoadService locates and loads the facts and disclaimer catalogs from the
// knowledge directories, returning a ready Service, or an unready one when
// the facts catalog is missing. A missing disclaimers catalog is warned once
// and tolerated.
func LoadService(dirs ...string) *Service {
	var catalog *DisclaimerCatalog
	if path, err := Locate(DisclaimersFile, dirs...); err != nil {
		slog.Warn("disclaimer catalog not found; disclaimers disabled", "err", err)
	} else if disclaimers, err := LoadDisclaimers(path); err != nil {
		slog.Warn("disclaimer catalog unreadable; disclaimers disabled", "path", path, "err", err)
	} else {
		catalog = NewDisclaimerCatalog(disclaimers)
		slog.Info("disclaimer catalog loaded", "path", path, "count", catalog.Len())
	}

	path, err := Locate(FactsFile, dirs...)
	if err != nil {
		slog.Warn("facts catalog not found; retrieval disabled", "err", err)
		return NewUnreadyService(catalog)
	}
	facts, err := LoadFacts(path)
	if err != nil {
		slog.Warn("facts catalog unreadable; retrieval disabled", "path", path, "err", err)
		return NewUnreadyService(catalog)
	}
	slog.Info("facts catalog loaded", "path", path, "count", len(facts))
	return NewService(facts, catalog)
}

// LoadClaimRegistry locates and loads the approved-claims registry. A missing
// or unreadable file yields an empty registry, which the claims checker
// treats as "no registry configured".
func LoadClaimRegistry(dirs ...string) *ClaimRegistry {
	path, err := Locate(ClaimsFile, dirs...)
	if err != nil {
		slog.Warn("claims registry not found; claims checking disabled", "err", err)
		return NewClaimRegistry(nil, nil)
	}
	claims, disallowed, err := LoadClaims(path)
	if err != nil {
		slog.Warn("claims registry unreadable; claims checking disabled", "path", path, "err", err)
		return NewClaimRegistry(nil, nil)
	}
	slog.Info("claims registry loaded", "path", path, "claims", len(claims), "disallowed_patterns", len(disallowed))
	return NewClaimRegistry(claims, disallowed)
}
