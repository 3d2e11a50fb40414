// Package scoring grades answers on five quality dimensions. The heuristic
// implementation is a pure function of its inputs; a learned model can
// replace it behind the same Scorer contract.
package scoring

import (
	"regexp"
	"strings"

	"github.com/convoqa/server/internal/engine/model"
)

var (
	wordPattern    = regexp.MustCompile(`\S+`)
	numeralPattern = regexp.MustCompile(`\b\d[\d,.%]*\b`)
	enumPattern    = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s+`)
)

// imperativeCues open a sentence that tells the user to do something.
var imperativeCues = []string{
	"start", "consider", "focus", "reach out", "pitch", "send", "prepare",
	"build", "target", "prioritize", "schedule", "draft", "research",
	"contact", "follow up", "avoid", "include", "lead with", "highlight",
	"position", "tailor", "secure", "attach",
}

// strategicCues are causal or comparative connectives.
var strategicCues = []string{
	"because", "therefore", "so that", "which means", "compared to",
	"compared with", "whereas", "instead of", "as a result", "versus",
	"rather than", "in contrast", "since", "this positions", "the advantage",
	"trade-off", "on the other hand",
}

// backReferenceCues explicitly point at earlier turns.
var backReferenceCues = []string{
	"as mentioned", "as discussed", "as noted", "earlier", "previously",
	"building on", "you asked", "we covered", "last time", "in the previous",
	"following up on", "to recap", "besides the",
}

// HeuristicScorer implements model.Scorer with lexical density heuristics.
type HeuristicScorer struct {
	weights model.ScoringConfig
}

// NewHeuristicScorer builds a scorer. Zero or negative weight sets fall back
// to equal weighting.
func NewHeuristicScorer(cfg model.ScoringConfig) *HeuristicScorer {
	total := cfg.WeightSpecificity + cfg.WeightActionability + cfg.WeightStrategicValue +
		cfg.WeightContextAwareness + cfg.WeightNovelty
	if total <= 0 {
		cfg = model.ScoringConfig{
			WeightSpecificity:      0.2,
			WeightActionability:    0.2,
			WeightStrategicValue:   0.2,
			WeightContextAwareness: 0.2,
			WeightNovelty:          0.2,
		}
	}
	return &HeuristicScorer{weights: cfg}
}

// Score computes the five sub-scores plus the weighted overall score, all in
// [0,1]. It reads nothing but its arguments.
func (s *HeuristicScorer) Score(answer string, entities []string, history []model.TurnMemory, turnNumber int, repetitionScore float64) model.QualityScores {
	words := len(wordPattern.FindAllString(answer, -1))
	lower := strings.ToLower(answer)

	scores := model.QualityScores{
		Specificity:      s.specificity(lower, entities, words),
		Actionability:    s.actionability(answer, lower, words),
		StrategicValue:   s.strategicValue(lower, words),
		ContextAwareness: s.contextAwareness(lower, history, turnNumber),
		Novelty:          clamp01(1 - repetitionScore),
	}

	w := s.weights
	totalWeight := w.WeightSpecificity + w.WeightActionability + w.WeightStrategicValue +
		w.WeightContextAwareness + w.WeightNovelty
	scores.Overall = clamp01((scores.Specificity*w.WeightSpecificity +
		scores.Actionability*w.WeightActionability +
		scores.StrategicValue*w.WeightStrategicValue +
		scores.ContextAwareness*w.WeightContextAwareness +
		scores.Novelty*w.WeightNovelty) / totalWeight)
	return scores
}

// specificity: named entities and numerals per unit of answer length. Eight
// signals per hundred words saturates the score.
func (s *HeuristicScorer) specificity(lower string, entities []string, words int) float64 {
	if words == 0 {
		return 0
	}
	signals := len(entities) + len(numeralPattern.FindAllString(lower, -1))
	return clamp01(float64(signals) * 12.5 / float64(words))
}

// actionability: imperative phrasing plus enumerated steps.
func (s *HeuristicScorer) actionability(answer, lower string, words int) float64 {
	if words == 0 {
		return 0
	}
	hits := len(enumPattern.FindAllString(answer, -1))
	for _, cue := range imperativeCues {
		hits += strings.Count(lower, cue)
	}
	return clamp01(float64(hits) * 25 / float64(words))
}

// strategicValue: causal and comparative connective density.
func (s *HeuristicScorer) strategicValue(lower string, words int) float64 {
	if words == 0 {
		return 0
	}
	hits := 0
	for _, cue := range strategicCues {
		hits += strings.Count(lower, cue)
	}
	return clamp01(float64(hits) * 30 / float64(words))
}

// contextAwareness: 1.0 by definition on the first turn; afterwards the
// density of explicit back-references, normalized against how much history
// there is to reference.
func (s *HeuristicScorer) contextAwareness(lower string, history []model.TurnMemory, turnNumber int) float64 {
	if turnNumber <= 1 {
		return 1.0
	}
	hits := 0
	for _, cue := range backReferenceCues {
		hits += strings.Count(lower, cue)
	}
	expected := 1.0 + float64(len(history))/4.0
	return clamp01(float64(hits) / expected)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ model.Scorer = (*HeuristicScorer)(nil)
