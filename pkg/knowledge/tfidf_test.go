package knowledge_test

import (
	"reflect"
	"testing"

	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "lowercase and split", in: "NextGen AI ships fast", want: []string{"nextgen", "ai", "ships", "fast"}},
		{name: "strip punctuation", in: "latency: 50ms (p99)!", want: []string{"latency", "50ms", "p99"}},
		{name: "drop stopwords", in: "the quick fox is on a wall", want: []string{"quick", "fox", "wall"}},
		{name: "drop single chars", in: "a b c model x", want: []string{"model"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := knowledge.Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func testFacts() []knowledge.Fact {
	return []knowledge.Fact{
		{ID: "NXTG-001", Text: "NextGen AI supports realtime voice sessions", Source: "docs", Category: "product"},
		{ID: "NXTG-002", Text: "Median response latency is under 300 milliseconds", Source: "bench", Category: "performance"},
		{ID: "NXTG-003", Text: "The platform encrypts audio in transit", Source: "security", Category: "security"},
		{ID: "NXTG-004", Text: "Voice sessions resume after transient network loss", Source: "docs", Category: "product"},
		{ID: "NXTG-005", Text: "Pricing scales with concurrent session count", Source: "pricing"},
	}
}

func TestIndexSearch(t *testing.T) {
	t.Parallel()

	idx := knowledge.NewIndex(testFacts())

	results := idx.Search("voice sessions", 5)
	if len(results) == 0 {
		t.Fatal("Search returned no results")
	}
	// Only facts sharing at least one query term may appear.
	for _, r := range results {
		if r.Score <= 0 {
			t.Errorf("result %s has non-positive score %v", r.Fact.ID, r.Score)
		}
	}
	// Scores must be descending.
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: %v then %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestIndexSearchTopK(t *testing.T) {
	t.Parallel()

	idx := knowledge.NewIndex(testFacts())
	results := idx.Search("voice sessions latency audio pricing", 2)
	if len(results) > 2 {
		t.Errorf("Search topK=2 returned %d results", len(results))
	}
}

func TestIndexSearchNoMatch(t *testing.T) {
	t.Parallel()

	idx := knowledge.NewIndex(testFacts())
	if results := idx.Search("zebra quantum blockchain", 5); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
	if results := idx.Search("", 5); results != nil {
		t.Errorf("empty query should return nil, got %v", results)
	}
}

func TestIndexEmpty(t *testing.T) {
	t.Parallel()

	idx := knowledge.NewIndex(nil)
	if idx.Len() != 0 {
		t.Errorf("Len = %d, want 0", idx.Len())
	}
	if results := idx.Search("anything", 3); len(results) != 0 {
		t.Errorf("search over empty index returned %d results", len(results))
	}
}
