// Package extract pulls mentioned entities and candidate facts out of answer
// text with deterministic rules. It is the swap point for a model-based NLU
// stage: the engine only depends on the function signatures here.
package extract

import (
	"regexp"
	"strings"

	"github.com/convoqa/server/internal/engine/model"
)

var (
	tokenPattern    = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'&.-]*`)
	sentenceSplit   = regexp.MustCompile(`[.!?]\s+|[.!?]$|\n+`)
	numeralPattern  = regexp.MustCompile(`\d`)
	capitalizedWord = regexp.MustCompile(`^\p{Lu}`)
)

// stopwords that are capitalized only because of position or convention and
// never form an entity on their own.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "if": true, "in": true,
	"on": true, "at": true, "it": true, "is": true, "are": true, "was": true,
	"and": true, "or": true, "but": true, "for": true, "to": true, "of": true,
	"this": true, "that": true, "these": true, "those": true, "with": true,
	"you": true, "your": true, "they": true, "their": true, "we": true,
	"he": true, "she": true, "his": true, "her": true, "its": true,
	"what": true, "which": true, "who": true, "when": true, "where": true,
	"why": true, "how": true, "there": true, "here": true, "also": true,
	"however": true, "additionally": true, "finally": true, "first": true,
	"second": true, "third": true, "next": true, "then": true, "while": true,
	"consider": true, "focus": true, "start": true, "reach": true,
	"pitch": true, "send": true, "prepare": true, "target": true,
	"contact": true, "avoid": true, "include": true, "research": true,
}

// connectors allowed inside a multi-word entity ("Head of Content").
var connectors = map[string]bool{
	"of": true, "the": true, "and": true, "for": true, "de": true, "&": true,
}

// Entities returns the ordered, deduplicated set of named entities in text.
// An entity is a maximal run of capitalized tokens, optionally joined by
// lowercase connectors.
func Entities(text string) []string {
	tokens := tokenPattern.FindAllString(text, -1)

	var out []string
	seen := map[string]bool{}
	var run []string
	pendingConnector := ""

	flush := func() {
		if len(run) == 0 {
			pendingConnector = ""
			return
		}
		name := strings.Join(run, " ")
		run = nil
		pendingConnector = ""
		if len(name) < 2 {
			return
		}
		key := strings.ToLower(name)
		if stopwords[key] || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, name)
	}

	for _, tok := range tokens {
		tok = strings.TrimRight(tok, ".'&-")
		if tok == "" {
			flush()
			continue
		}
		lower := strings.ToLower(tok)
		switch {
		case capitalizedWord.MatchString(tok) && !stopwords[lower]:
			if pendingConnector != "" && len(run) > 0 {
				run = append(run, pendingConnector)
				pendingConnector = ""
			}
			run = append(run, tok)
		case len(run) > 0 && connectors[lower] && pendingConnector == "":
			// hold the connector until we know a capitalized token follows
			pendingConnector = lower
		default:
			flush()
		}
	}
	flush()
	return out
}

// Facts returns one fact per sentence that names a known entity. The
// statement is the full sentence so fact identity survives re-phrasing of
// the surrounding answer.
func Facts(text string, entities []string) []model.Fact {
	if len(entities) == 0 {
		return nil
	}
	sentences := sentenceSplit.Split(text, -1)

	var facts []model.Fact
	seen := map[string]bool{}
	for _, raw := range sentences {
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}
		for _, ent := range entities {
			if !strings.Contains(sentence, ent) {
				continue
			}
			f := model.Fact{Entity: ent, Statement: sentence}
			if k := f.Key(); !seen[k] {
				seen[k] = true
				facts = append(facts, f)
			}
		}
	}
	return facts
}

// Topics returns the lowercased content words of a query, used to track
// covered topics and detect pivots. Order follows first appearance.
func Topics(query string) []string {
	tokens := tokenPattern.FindAllString(query, -1)
	var out []string
	seen := map[string]bool{}
	for _, tok := range tokens {
		lower := strings.ToLower(strings.TrimRight(tok, ".'&-"))
		if len(lower) < 4 || stopwords[lower] || numeralPattern.MatchString(lower) {
			continue
		}
		if !seen[lower] {
			seen[lower] = true
			out = append(out, lower)
		}
	}
	return out
}
