package repetition

import (
	"context"
	"strings"

	errx "github.com/convoqa/server/internal/core/error"
	"github.com/convoqa/server/internal/engine/coverage"
	"github.com/convoqa/server/internal/engine/extract"
	"github.com/convoqa/server/internal/engine/model"
	logx "github.com/convoqa/server/pkg/logger"
)

// Phases of the candidate state machine, logged for observability.
// Draft -> RepetitionChecked -> {Regenerating -> RepetitionChecked}* -> Final
const (
	PhaseDraft             = "draft"
	PhaseRepetitionChecked = "repetition_checked"
	PhaseRegenerating      = "regenerating"
	PhaseFinal             = "final"
)

// Outcome is the terminal result of the regeneration loop. The loop always
// terminates: after the attempt cap the best-effort candidate is returned
// with its measured score rather than discarded.
type Outcome struct {
	Answer          string
	Embedding       []float32
	Entities        []string
	RepetitionScore float64
	OverlapRatio    float64
	Regenerated     bool
	Attempts        int
}

// Controller drives synthesis through the repetition check with bounded,
// sequential retries.
type Controller struct {
	gen         model.Generator
	emb         model.Embedder
	det         *Detector
	maxAttempts int
}

func NewController(gen model.Generator, emb model.Embedder, det *Detector, cfg model.RepetitionConfig) *Controller {
	attempts := cfg.MaxRegenerations
	if attempts < 0 {
		attempts = 0
	}
	return &Controller{gen: gen, emb: emb, det: det, maxAttempts: attempts}
}

// Run produces the final candidate for prompt. ledger may be nil; when
// present it softens blanket exclusions into "go deeper" steering so a
// regeneration is never asked to avoid the only relevant entity.
func (c *Controller) Run(ctx context.Context, conversationID, prompt string, state *model.ConversationState, ledger *coverage.Ledger) (*Outcome, error) {
	recent := state.RecentTurns(c.det.Window())
	opts := model.GenerateOptions{Mode: model.ModeSynthesis}

	out := &Outcome{}
	for {
		answer, err := c.generateOnceRetried(ctx, prompt, opts)
		if err != nil {
			return nil, err
		}
		embedding, err := c.embedOnceRetried(ctx, answer)
		if err != nil {
			return nil, err
		}

		entities := extract.Entities(answer)
		res := c.det.Check(embedding, entities, recent)

		out.Answer = answer
		out.Embedding = embedding
		out.Entities = entities
		out.RepetitionScore = res.RepetitionScore
		out.OverlapRatio = res.OverlapRatio

		logx.Debug().
			Str("conversation_id", conversationID).
			Str("phase", PhaseRepetitionChecked).
			Int("attempts", out.Attempts).
			Float64("repetition_score", res.RepetitionScore).
			Float64("overlap_ratio", res.OverlapRatio).
			Bool("repetitive", res.Repetitive).
			Msg("Candidate checked")

		if !res.Repetitive || out.Attempts >= c.maxAttempts {
			break
		}

		out.Attempts++
		opts = c.regenerateOptions(entities, recent, ledger)
		logx.Debug().
			Str("conversation_id", conversationID).
			Str("phase", PhaseRegenerating).
			Int("attempt", out.Attempts).
			Strs("exclude", opts.Exclude).
			Str("steer", opts.Steer).
			Msg("Regenerating repetitive candidate")
	}

	out.Regenerated = out.Attempts > 0
	logx.Debug().
		Str("conversation_id", conversationID).
		Str("phase", PhaseFinal).
		Bool("regenerated", out.Regenerated).
		Float64("repetition_score", out.RepetitionScore).
		Msg("Candidate finalized")
	return out, nil
}

// regenerateOptions builds the exclusion instruction for the next attempt.
// When excluding everything recent would also exclude every entity of the
// current candidate, the least-covered current entity is steered into
// deeper coverage instead of banned.
func (c *Controller) regenerateOptions(current []string, recent []model.TurnMemory, ledger *coverage.Ledger) model.GenerateOptions {
	exclude := RecentEntities(recent)
	opts := model.GenerateOptions{Mode: model.ModeSynthesis, Exclude: exclude}
	if ledger == nil || len(current) == 0 {
		return opts
	}

	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[strings.ToLower(e)] = true
	}
	allBanned := true
	for _, e := range current {
		if !excluded[strings.ToLower(e)] {
			allBanned = false
			break
		}
	}
	if !allBanned {
		return opts
	}

	// Prefer deepening the shallowest already-known entity over a blanket ban.
	keep := ""
	keepScore := 2.0
	keepSlot := ""
	for _, e := range current {
		if !ledger.Known(e) {
			continue
		}
		slot, ok := ledger.UnderCoveredAttribute(e)
		if !ok {
			continue
		}
		if score := ledger.DepthScore(e); score < keepScore {
			keep, keepScore, keepSlot = e, score, slot
		}
	}
	if keep == "" {
		return opts
	}

	kept := opts.Exclude[:0]
	for _, e := range opts.Exclude {
		if !strings.EqualFold(e, keep) {
			kept = append(kept, e)
		}
	}
	opts.Exclude = kept
	opts.Steer = "Go deeper on the " + keepSlot + " of " + keep + " rather than repeating what was already said."
	return opts
}

func (c *Controller) generateOnceRetried(ctx context.Context, prompt string, opts model.GenerateOptions) (string, error) {
	answer, err := c.gen.Generate(ctx, prompt, opts)
	if err != nil {
		logx.Warn().Err(err).Msg("Generation failed, retrying once")
		answer, err = c.gen.Generate(ctx, prompt, opts)
	}
	if err != nil {
		return "", errx.Generation(err)
	}
	return answer, nil
}

func (c *Controller) embedOnceRetried(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.emb.Embed(ctx, text)
	if err != nil {
		logx.Warn().Err(err).Msg("Embedding failed, retrying once")
		vec, err = c.emb.Embed(ctx, text)
	}
	if err != nil {
		return nil, errx.Embedding(err)
	}
	return vec, nil
}
