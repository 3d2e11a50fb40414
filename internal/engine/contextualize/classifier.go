// Package contextualize turns raw, possibly elliptical queries into
// standalone, history-aware ones.
package contextualize

import (
	"strings"

	"github.com/convoqa/server/internal/engine/extract"
	"github.com/convoqa/server/internal/engine/model"
)

// Classifier decides how a query relates to the conversation so far.
// Implementations must be deterministic for identical inputs.
type Classifier interface {
	Classify(raw string, history []model.TurnMemory) model.QueryType
}

// Cue phrase tables for the rule-based classifier. Matching is
// case-insensitive substring containment, checked in a fixed order.
var (
	newTopicCues = []string{
		"new topic", "different question", "change of subject",
		"switching gears", "unrelated, but", "separate question",
	}
	clarifyCues = []string{
		"what do you mean", "clarify", "i meant", "that's not what",
		"rephrase", "i'm confused", "don't understand",
	}
	compareCues = []string{
		"compare", " versus ", " vs ", " vs.", "difference between",
		"better than", "how does that stack", "which is better",
		"pros and cons of",
	}
	expandCues = []string{
		"what other", "what else", "who else", "any other", "anyone else",
		"more options", "besides", "additional", "alternatives", "others?",
	}
	deepenCues = []string{
		"tell me more", "more about", "more detail", "elaborate",
		"go deeper", "specifically", "in detail", "expand on", "why ",
		"how exactly", "walk me through",
	}
	referencePronouns = []string{
		"they", "them", "their", "it", "its", "that", "those", "this",
		"these", "he", "she", "his", "her",
	}
)

// RuleClassifier classifies with lexical cue phrases. It is the default
// implementation; a model-based classifier can replace it behind the same
// interface.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify maps a raw query to its type. Without history everything is
// initial. Cue matches take priority over the pivot heuristic, and an
// uncued query that shares no vocabulary with recent turns counts as a
// topic pivot.
func (c *RuleClassifier) Classify(raw string, history []model.TurnMemory) model.QueryType {
	if len(history) == 0 {
		return model.QueryInitial
	}

	lower := " " + strings.ToLower(strings.TrimSpace(raw)) + " "

	if containsAny(lower, newTopicCues) {
		return model.QueryNewTopic
	}
	if containsAny(lower, clarifyCues) {
		return model.QueryClarify
	}
	if containsAny(lower, compareCues) {
		return model.QueryCompare
	}
	if containsAny(lower, expandCues) {
		return model.QueryExpand
	}
	if containsAny(lower, deepenCues) {
		return model.QueryDeepen
	}

	if c.looksLikePivot(raw, lower, history) {
		return model.QueryNewTopic
	}
	return model.QueryDeepen
}

// looksLikePivot: no referential pronouns and no vocabulary shared with the
// recent turns means the query stands on its own.
func (c *RuleClassifier) looksLikePivot(raw, lower string, history []model.TurnMemory) bool {
	for _, p := range referencePronouns {
		if strings.Contains(lower, " "+p+" ") || strings.HasSuffix(strings.TrimRight(lower, " ?.!"), " "+p) {
			return false
		}
	}

	queryTopics := extract.Topics(raw)
	if len(queryTopics) == 0 {
		// too short and elliptical to stand alone
		return false
	}

	recentVocab := map[string]bool{}
	for _, tm := range history {
		for _, t := range extract.Topics(tm.Query) {
			recentVocab[t] = true
		}
		for _, e := range tm.Entities {
			for _, t := range extract.Topics(e) {
				recentVocab[t] = true
			}
		}
	}
	for _, t := range queryTopics {
		if recentVocab[t] {
			return false
		}
	}
	return true
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}

var _ Classifier = (*RuleClassifier)(nil)
