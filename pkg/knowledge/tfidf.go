package knowledge

import (
	"math"
	"sort"
	"strings"
)

// stopwords are dropped during tokenization. The list is intentionally small:
// retrieval quality only needs the highest-frequency English function words.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
}

// Tokenize lowercases s, strips non-alphanumeric runes, and drops stopwords
// and single-character tokens.
func Tokenize(s string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if len(tok) < 2 {
			return
		}
		if _, stop := stopwords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Result pairs a fact with its cosine similarity score.
type Result struct {
	Fact  Fact
	Score float64
}

// Index is a TF-IDF index over a frozen set of facts. Build once with
// NewIndex; all methods are read-only afterwards and safe for concurrent use.
type Index struct {
	facts   []Fact
	idf     map[string]float64
	weights []map[string]float64 // per-document term weight (tf·idf)
	norms   []float64            // per-document L2 norm
}

// NewIndex builds a TF-IDF index over facts. Facts whose text tokenizes to
// nothing still occupy a slot (they can never match a query).
func NewIndex(facts []Fact) *Index {
	idx := &Index{
		facts:   facts,
		idf:     make(map[string]float64),
		weights: make([]map[string]float64, len(facts)),
		norms:   make([]float64, len(facts)),
	}

	// Document frequencies.
	df := make(map[string]int)
	docTokens := make([][]string, len(facts))
	for i, f := range facts {
		toks := Tokenize(f.Text)
		docTokens[i] = toks
		seen := make(map[string]struct{}, len(toks))
		for _, t := range toks {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}

	// Smoothed inverse document frequency.
	n := float64(len(facts))
	for t, d := range df {
		idx.idf[t] = math.Log((1+n)/(1+float64(d))) + 1
	}

	// Per-document weights and norms.
	for i, toks := range docTokens {
		w := make(map[string]float64)
		if len(toks) > 0 {
			counts := make(map[string]int, len(toks))
			for _, t := range toks {
				counts[t]++
			}
			total := float64(len(toks))
			for t, c := range counts {
				w[t] = (float64(c) / total) * idx.idf[t]
			}
		}
		idx.weights[i] = w
		var sum float64
		for _, v := range w {
			sum += v * v
		}
		idx.norms[i] = math.Sqrt(sum)
	}

	return idx
}

// Len returns the number of indexed facts.
func (idx *Index) Len() int { return len(idx.facts) }

// Search vectorizes query with the index's idf and returns up to topK facts
// with cosine similarity > 0, sorted by descending score. Ties keep catalog
// order (stable sort).
func (idx *Index) Search(query string, topK int) []Result {
	if topK <= 0 || len(idx.facts) == 0 {
		return nil
	}

	toks := Tokenize(query)
	if len(toks) == 0 {
		return nil
	}
	counts := make(map[string]int, len(toks))
	for _, t := range toks {
		counts[t]++
	}
	q := make(map[string]float64, len(counts))
	total := float64(len(toks))
	var qNormSq float64
	for t, c := range counts {
		idf, ok := idx.idf[t]
		if !ok {
			continue
		}
		w := (float64(c) / total) * idf
		q[t] = w
		qNormSq += w * w
	}
	if qNormSq == 0 {
		return nil
	}
	qNorm := math.Sqrt(qNormSq)

	var results []Result
	for i, dw := range idx.weights {
		if idx.norms[i] == 0 {
			continue
		}
		var dot float64
		for t, qw := range q {
			if w, ok := dw[t]; ok {
				dot += qw * w
			}
		}
		if dot <= 0 {
			continue
		}
		results = append(results, Result{
			Fact:  idx.facts[i],
			Score: dot / (qNorm * idx.norms[i]),
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
