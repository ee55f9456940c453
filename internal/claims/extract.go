// Package claims implements C3, the Claim Verification Pipeline: it turns a
// worker's free-form output into atomic, testable claims and scores their
// factual/compliance standing against five lenses. The sentence- and
// numbered-list-splitting here is grounded on internal/conflicts/claims.go's
// SplitClaims/splitSentences/splitNumberedItems in the teacher repo.
package claims

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ace-labs/ace/internal/model"
)

// Language is a detected source language or "natural" for prose.
type Language string

const (
	LangRust       Language = "rust"
	LangTypeScript Language = "typescript"
	LangPython     Language = "python"
	LangNatural    Language = "natural"
)

// DomainHint is a detected topical domain used to steer verification.
type DomainHint string

const (
	DomainSecurity    DomainHint = "security"
	DomainPerformance DomainHint = "performance"
	DomainUsability   DomainHint = "usability"
	DomainAPI         DomainHint = "api"
	DomainData        DomainHint = "data"
)

var numberedItemRE = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*])\s+(.+)$`)

var sentenceSplitRE = regexp.MustCompile(`(?:[.!?]+)(?:\s+|$)`)

// DetectLanguage makes a best-effort guess at the source language of text
// based on characteristic syntax fragments.
func DetectLanguage(text string) Language {
	switch {
	case strings.Contains(text, "fn ") && strings.Contains(text, "->"):
		return LangRust
	case strings.Contains(text, "def ") && strings.Contains(text, ":"):
		return LangPython
	case strings.Contains(text, "function") || strings.Contains(text, "=>") || strings.Contains(text, "interface "):
		return LangTypeScript
	default:
		return LangNatural
	}
}

var domainKeywords = map[DomainHint][]string{
	DomainSecurity:    {"auth", "encrypt", "token", "vulnerab", "credential"},
	DomainPerformance: {"latency", "throughput", "optimi", "cache", "benchmark"},
	DomainUsability:   {"ux", "usability", "accessib", "user-facing"},
	DomainAPI:         {"endpoint", "api", "request", "response", "schema"},
	DomainData:        {"migration", "schema", "database", "index", "query"},
}

// DetectDomainHints returns the domain hints whose keywords appear in text.
func DetectDomainHints(text string) []DomainHint {
	lower := strings.ToLower(text)
	var hints []DomainHint
	for domain, keywords := range domainKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hints = append(hints, domain)
				break
			}
		}
	}
	return hints
}

// splitSentences breaks free text into trimmed, non-empty sentences.
func splitSentences(text string) []string {
	raw := sentenceSplitRE.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitNumberedItems extracts the body of each numbered- or bulleted-list
// line, treating each as its own candidate claim fragment.
func splitNumberedItems(text string) []string {
	matches := numberedItemRE.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// SplitClaims decomposes rationale/content text into candidate claim
// fragments: numbered/bulleted items first (usually one discrete claim per
// line), falling back to sentence splitting when no list structure is
// present.
func SplitClaims(text string) []string {
	if items := splitNumberedItems(text); len(items) > 0 {
		return items
	}
	return splitSentences(text)
}

// subjectPredicateObject makes a shallow heuristic split of a sentence
// fragment into (subject, predicate, object) for provenance-pointer
// preservation. It is intentionally simple — ACE is not an NLP parser; the
// Disambiguate/Decompose stages below are where real structure would be
// layered in via a collaborator.
func subjectPredicateObject(fragment string) (subject, predicate string, object *string) {
	words := strings.Fields(fragment)
	if len(words) == 0 {
		return "", "", nil
	}
	subject = words[0]
	if len(words) > 1 {
		predicate = words[1]
	}
	if len(words) > 2 {
		rest := strings.Join(words[2:], " ")
		object = &rest
	}
	return subject, predicate, object
}

// Extract runs stage 1 (Extract) of §4.3: it splits workerOutput text into
// AtomicClaims. It does not detect language or domain hints; DetectLanguage
// and DetectDomainHints are separate helpers it does not call.
func Extract(workerID string, text string) []model.AtomicClaim {
	fragments := SplitClaims(text)
	claims := make([]model.AtomicClaim, 0, len(fragments))
	for i, frag := range fragments {
		subject, predicate, object := subjectPredicateObject(frag)
		claims = append(claims, model.AtomicClaim{
			ID:               fmt.Sprintf("%s-claim-%d", workerID, i),
			ClaimText:        frag,
			Subject:          subject,
			Predicate:        predicate,
			Object:           object,
			Confidence:       0.5, // refined by Qualify/Verify stages
			Position:         i,
			SentenceFragment: frag,
		})
	}
	return claims
}
