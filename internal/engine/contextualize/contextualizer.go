package contextualize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	errx "github.com/convoqa/server/internal/core/error"
	"github.com/convoqa/server/internal/engine/model"
	"github.com/convoqa/server/internal/engine/prompts"
	logx "github.com/convoqa/server/pkg/logger"
)

// Contextualizer rewrites follow-up queries into standalone ones using a
// deterministic low-temperature generator call. It never fails the
// pipeline: every error path falls back to the raw query.
type Contextualizer struct {
	gen model.Generator
	clf Classifier
	cfg model.ContextualizeConfig
}

func New(gen model.Generator, clf Classifier, cfg model.ContextualizeConfig) *Contextualizer {
	if clf == nil {
		clf = NewRuleClassifier()
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 2
	}
	if cfg.AnswerTruncateLen <= 0 {
		cfg.AnswerTruncateLen = 300
	}
	if cfg.RewriteTimeoutMS <= 0 {
		cfg.RewriteTimeoutMS = 500
	}
	return &Contextualizer{gen: gen, clf: clf, cfg: cfg}
}

// Contextualize classifies the raw query and, for history-dependent types,
// rewrites it against the last turns. initial and new_topic queries pass
// through unchanged with no history injected.
func (c *Contextualizer) Contextualize(ctx context.Context, raw string, shortTerm []model.TurnMemory) (string, model.QueryType) {
	raw = strings.TrimSpace(raw)
	queryType := c.clf.Classify(raw, shortTerm)
	if queryType == model.QueryInitial || queryType == model.QueryNewTopic {
		return raw, queryType
	}

	history := c.boundedHistory(shortTerm)
	rewritten, err := c.rewrite(ctx, raw, queryType, history)
	if err != nil || rewritten == "" {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", errx.ErrRewriteTimeout, err)
		}
		logx.Warn().
			Err(err).
			Str("query_type", string(queryType)).
			Msg("Query rewrite fell back to raw query")
		return raw, queryType
	}

	if queryType == model.QueryCompare {
		rewritten = c.ensureComparisonSubjects(raw, rewritten, history)
	}
	return rewritten, queryType
}

// boundedHistory returns the last HistoryTurns turns with answers truncated
// before they reach the generator.
func (c *Contextualizer) boundedHistory(shortTerm []model.TurnMemory) []model.TurnMemory {
	n := c.cfg.HistoryTurns
	if n > len(shortTerm) {
		n = len(shortTerm)
	}
	history := make([]model.TurnMemory, n)
	copy(history, shortTerm[len(shortTerm)-n:])
	for i := range history {
		history[i].Answer = truncate(history[i].Answer, c.cfg.AnswerTruncateLen)
	}
	return history
}

func (c *Contextualizer) rewrite(ctx context.Context, raw string, queryType model.QueryType, history []model.TurnMemory) (string, error) {
	prompt, err := prompts.RenderRewrite(ctx, prompts.RewriteData{
		Query:     raw,
		QueryType: queryType,
		History:   history,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.RewriteTimeoutMS)*time.Millisecond)
	defer cancel()

	out, err := c.gen.Generate(ctx, prompt, model.GenerateOptions{Mode: model.ModeRewrite})
	if err != nil {
		return "", err
	}
	return cleanRewrite(out), nil
}

// ensureComparisonSubjects keeps both terms of a comparison present: the
// subject named in the raw query and the subject of the referenced prior
// turn. A rewrite that silently dropped the implicit second term gets it
// appended.
func (c *Contextualizer) ensureComparisonSubjects(raw, rewritten string, history []model.TurnMemory) string {
	prior := priorSubject(history)
	if prior == "" {
		return rewritten
	}
	if strings.Contains(strings.ToLower(rewritten), strings.ToLower(prior)) {
		return rewritten
	}

	base := strings.TrimRight(rewritten, " ?.!")
	suffix := ", compared with " + prior
	if strings.HasSuffix(strings.TrimSpace(rewritten), "?") {
		return base + suffix + "?"
	}
	return base + suffix + "."
}

// priorSubject picks the first entity of the most recent turn, falling back
// to the prior query's own entities.
func priorSubject(history []model.TurnMemory) string {
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	if len(last.Entities) > 0 {
		return last.Entities[0]
	}
	return ""
}

// cleanRewrite trims the generator output down to the single requested
// sentence: surrounding whitespace and quotes go, and only the first
// non-empty line survives.
func cleanRewrite(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.Trim(line, " \t\"'“”‘’")
		if line != "" {
			return line
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
