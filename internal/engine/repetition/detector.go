// Package repetition detects when a candidate answer would merely restate
// recent turns and drives bounded regeneration when it does.
package repetition

import (
	"strings"

	"github.com/convoqa/server/internal/engine/model"
)

// Result is one repetition measurement for a candidate answer.
type Result struct {
	// RepetitionScore is the max cosine similarity against the last few
	// answers. 0 when no prior turns exist.
	RepetitionScore float64
	// OverlapRatio is |current ∩ recent| / |current| over mentioned
	// entities. 0 when the candidate mentions no entities.
	OverlapRatio float64
	Repetitive   bool
}

// Detector checks semantic and lexical overlap against the recent window.
type Detector struct {
	cfg model.RepetitionConfig
}

func NewDetector(cfg model.RepetitionConfig) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = 3
	}
	return &Detector{cfg: cfg}
}

// Window returns how many prior turns the detector compares against.
func (d *Detector) Window() int {
	return d.cfg.Window
}

// Check measures a candidate against the recent turns. recent should be the
// short-term window; only the last Window entries are considered.
func (d *Detector) Check(answerEmbedding []float32, entities []string, recent []model.TurnMemory) Result {
	if len(recent) > d.cfg.Window {
		recent = recent[len(recent)-d.cfg.Window:]
	}

	var res Result
	for _, tm := range recent {
		if sim := Cosine(answerEmbedding, tm.AnswerEmbedding); sim > res.RepetitionScore {
			res.RepetitionScore = sim
		}
	}

	res.OverlapRatio = overlapRatio(entities, RecentEntities(recent))
	res.Repetitive = res.RepetitionScore > d.cfg.SimilarityThreshold ||
		res.OverlapRatio > d.cfg.OverlapThreshold
	return res
}

// RecentEntities returns the ordered union of entities mentioned across the
// given turns.
func RecentEntities(recent []model.TurnMemory) []string {
	var out []string
	seen := map[string]bool{}
	for _, tm := range recent {
		for _, e := range tm.Entities {
			key := strings.ToLower(e)
			if !seen[key] {
				seen[key] = true
				out = append(out, e)
			}
		}
	}
	return out
}

// overlapRatio treats an empty current set as zero overlap: an answer with
// no entities is never flagged purely on overlap.
func overlapRatio(current, recent []string) float64 {
	if len(current) == 0 {
		return 0
	}
	recentSet := make(map[string]bool, len(recent))
	for _, e := range recent {
		recentSet[strings.ToLower(e)] = true
	}
	shared := 0
	for _, e := range current {
		if recentSet[strings.ToLower(e)] {
			shared++
		}
	}
	return float64(shared) / float64(len(current))
}
