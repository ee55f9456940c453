package claimsource

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/ace-labs/ace/internal/claims"
)

// Document is one entry in the evidence corpus: spec excerpts, design docs,
// runbooks — anything the authority and cross-reference lenses may cite.
type Document struct {
	Title   string
	Content string
	URL     string
}

// Corpus is an in-memory EvidenceCorpus. The orchestrator loads it at
// startup from whatever document store it owns; ACE only reads.
type Corpus struct {
	mu        sync.RWMutex
	docs      []Document
	authority map[string]float64 // host -> credibility
}

// NewCorpus builds a Corpus with the default authority table.
func NewCorpus(docs []Document) *Corpus {
	return &Corpus{
		docs: docs,
		authority: map[string]float64{
			"docs.rs":                 0.9,
			"pkg.go.dev":              0.9,
			"developer.mozilla.org":   0.9,
			"readthedocs.io":          0.85,
			"github.com":              0.7,
			"gitlab.com":              0.7,
		},
	}
}

// AddDocument appends a document. Safe for concurrent use with lookups.
func (c *Corpus) AddDocument(d Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, d)
}

// SpecCoverage reports the fraction of the claim's keywords found in at
// least one corpus document.
func (c *Corpus) SpecCoverage(_ context.Context, claimText string) (float64, error) {
	keywords := keywordsOf(claimText)
	if len(keywords) == 0 {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	covered := 0
	for _, kw := range keywords {
		for _, d := range c.docs {
			if strings.Contains(strings.ToLower(d.Content), kw) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(keywords)), nil
}

// DocKeywordRelevance scores how strongly the single best document matches
// the claim's keywords.
func (c *Corpus) DocKeywordRelevance(_ context.Context, claimText string) (float64, error) {
	keywords := keywordsOf(claimText)
	if len(keywords) == 0 {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	best := 0.0
	for _, d := range c.docs {
		content := strings.ToLower(d.Content)
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				hits++
			}
		}
		if score := float64(hits) / float64(len(keywords)); score > best {
			best = score
		}
	}
	return best, nil
}

// AuthorityForURL rates a cited URL by its host's credibility.
func (c *Corpus) AuthorityForURL(_ context.Context, raw string) (float64, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return 0, nil
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")

	c.mu.RLock()
	defer c.mu.RUnlock()
	if score, ok := c.authority[host]; ok {
		return score, nil
	}
	for known, score := range c.authority {
		if strings.HasSuffix(host, "."+known) {
			return score, nil
		}
	}
	return 0.3, nil
}

func keywordsOf(text string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]\"'")
		if len(tok) >= 4 {
			out = append(out, tok)
		}
	}
	return out
}

var _ claims.EvidenceCorpus = (*Corpus)(nil)
