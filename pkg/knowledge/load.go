package knowledge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default knowledge file names, looked up in the knowledge directories.
const (
	FactsFile       = "nxtg_facts.jsonl"
	DisclaimersFile = "disclaimers.json"
	ClaimsFile      = "allowed_claims.json"
)

// DefaultDirs returns the knowledge directory candidates, relative to the
// working directory: ./knowledge first, then ../knowledge.
func DefaultDirs() []string {
	return []string{"knowledge", filepath.Join("..", "knowledge")}
}

// Locate returns the first existing path of name within dirs. When dirs is
// empty, [DefaultDirs] is used.
func Locate(name string, dirs ...string) (string, error) {
	if len(dirs) == 0 {
		dirs = DefaultDirs()
	}
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("knowledge: %s not found in %v: %w", name, dirs, os.ErrNotExist)
}

// LoadFacts reads a JSON-lines facts catalog. Blank lines are skipped; a
// malformed line aborts the load so a truncated catalog is never half-used.
func LoadFacts(path string) ([]Fact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open facts %q: %w", path, err)
	}
	defer f.Close()

	var facts []Fact
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var fact Fact
		if err := json.Unmarshal([]byte(text), &fact); err != nil {
			return nil, fmt.Errorf("knowledge: facts %q line %d: %w", path, line, err)
		}
		facts = append(facts, fact)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: read facts %q: %w", path, err)
	}
	return facts, nil
}

// disclaimersDoc is the top-level shape of disclaimers.json.
type disclaimersDoc struct {
	Disclaimers []Disclaimer `json:"disclaimers"`
}

// LoadDisclaimers reads the disclaimer catalog JSON document.
func LoadDisclaimers(path string) ([]Disclaimer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open disclaimers %q: %w", path, err)
	}
	var doc disclaimersDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("knowledge: parse disclaimers %q: %w", path, err)
	}
	return doc.Disclaimers, nil
}

// claimsDoc is the top-level shape of allowed_claims.json. The claim list may
// appear under either "allowed_claims" or "claims".
type claimsDoc struct {
	AllowedClaims      []ApprovedClaim `json:"allowed_claims"`
	Claims             []ApprovedClaim `json:"claims"`
	DisallowedPatterns []string        `json:"disallowed_patterns"`
}

// LoadClaims reads the approved-claims registry document and returns the
// claims plus the disallowed substring patterns.
func LoadClaims(path string) ([]ApprovedClaim, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("knowledge: open claims %q: %w", path, err)
	}
	var doc claimsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("knowledge: parse claims %q: %w", path, err)
	}
	claims := doc.AllowedClaims
	if len(claims) == 0 {
		claims = doc.Claims
	}
	return claims, doc.DisallowedPatterns, nil
}
