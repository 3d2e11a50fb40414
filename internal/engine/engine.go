// Package engine orchestrates one conversational turn end to end: memory
// snapshot, query contextualization, retrieval, repetition-checked
// synthesis, quality scoring and the atomic commit.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/convoqa/server/internal/engine/contextualize"
	"github.com/convoqa/server/internal/engine/conversation"
	"github.com/convoqa/server/internal/engine/coverage"
	"github.com/convoqa/server/internal/engine/extract"
	"github.com/convoqa/server/internal/engine/model"
	"github.com/convoqa/server/internal/engine/prompts"
	"github.com/convoqa/server/internal/engine/repetition"
	"github.com/convoqa/server/internal/engine/scoring"
	logx "github.com/convoqa/server/pkg/logger"
)

// Deps are the injected external collaborators. No ambient singletons: the
// engine talks to exactly what it is constructed with.
type Deps struct {
	Retriever   model.Retriever
	Generator   model.Generator
	Embedder    model.Embedder
	Persistence model.Persistence
	// Feedback may be nil; feedback is collected for monitoring only and
	// never read back by the engine.
	Feedback model.FeedbackSink
	// Scorer defaults to the heuristic implementation.
	Scorer model.Scorer
	// Classifier defaults to the rule-based implementation.
	Classifier contextualize.Classifier
}

// Engine is the conversational context and quality control engine.
type Engine struct {
	cfg model.EngineConfig

	retriever model.Retriever
	generator model.Generator
	embedder  model.Embedder
	repo      model.Persistence
	feedback  model.FeedbackSink
	scorer    model.Scorer

	manager        *conversation.Manager
	contextualizer *contextualize.Contextualizer
	controller     *repetition.Controller
}

// New wires the engine from config and dependencies.
func New(cfg model.EngineConfig, deps Deps) (*Engine, error) {
	if deps.Retriever == nil || deps.Generator == nil || deps.Embedder == nil || deps.Persistence == nil {
		return nil, fmt.Errorf("retriever, generator, embedder and persistence are required")
	}

	scorer := deps.Scorer
	if scorer == nil {
		scorer = scoring.NewHeuristicScorer(cfg.Scoring)
	}

	detector := repetition.NewDetector(cfg.Repetition)

	return &Engine{
		cfg:            cfg,
		retriever:      deps.Retriever,
		generator:      deps.Generator,
		embedder:       deps.Embedder,
		repo:           deps.Persistence,
		feedback:       deps.Feedback,
		scorer:         scorer,
		manager:        conversation.NewManager(deps.Persistence, cfg.Memory),
		contextualizer: contextualize.New(deps.Generator, deps.Classifier, cfg.Contextualize),
		controller:     repetition.NewController(deps.Generator, deps.Embedder, detector, cfg.Repetition),
	}, nil
}

// Answer processes one query as one turn. Turns within a conversation are
// strictly serialized; nothing is persisted until the single commit at the
// end, so cancellation or failure at any suspension point leaves all memory
// layers and coverage exactly as they were.
func (e *Engine) Answer(ctx context.Context, in model.QueryInput) (*model.TurnResult, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if in.ConversationID == "" {
		in.ConversationID = uuid.NewString()
	}

	unlock := e.manager.Lock(in.ConversationID)
	defer unlock()

	started := time.Now()

	conv, state, err := e.manager.Snapshot(ctx, in.ConversationID, in.Goal)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if conv.Goal == "" && in.Goal != "" {
		conv.Goal = in.Goal
	}
	turnNumber := conv.TotalTurns + 1

	rewritten, queryType := e.contextualizer.Contextualize(ctx, in.Query, state.ShortTerm)
	logx.Debug().
		Str("conversation_id", in.ConversationID).
		Int("turn_number", turnNumber).
		Str("query_type", string(queryType)).
		Str("rewritten_query", rewritten).
		Msg("Query contextualized")

	docs, err := e.retriever.Retrieve(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}

	covered, err := e.repo.Coverage(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load coverage: %w", err)
	}
	ledger := coverage.NewLedger(in.ConversationID, covered)

	prompt, err := prompts.RenderSynthesis(ctx, prompts.SynthesisData{
		Query:    rewritten,
		Goal:     conv.Goal,
		Working:  state.Working,
		LongTerm: state.LongTerm,
		History:  state.ShortTerm,
		Evidence: docs,
	})
	if err != nil {
		return nil, fmt.Errorf("render synthesis prompt: %w", err)
	}

	outcome, err := e.controller.Run(ctx, in.ConversationID, prompt, state, ledger)
	if err != nil {
		return nil, err
	}

	facts := extract.Facts(outcome.Answer, outcome.Entities)
	for _, entity := range outcome.Entities {
		ledger.RegisterMention(entity, turnNumber, facts)
	}

	scores := e.scorer.Score(outcome.Answer, outcome.Entities, state.ShortTerm, turnNumber, outcome.RepetitionScore)

	turn := &model.Turn{
		ConversationID:  in.ConversationID,
		TurnNumber:      turnNumber,
		RawQuery:        in.Query,
		RewrittenQuery:  rewritten,
		QueryType:       queryType,
		Answer:          outcome.Answer,
		Scores:          scores,
		RepetitionScore: outcome.RepetitionScore,
		Regenerated:     outcome.Regenerated,
		Entities:        outcome.Entities,
		AnswerEmbedding: outcome.Embedding,
		CreatedAt:       time.Now().UTC(),
		LatencyMS:       time.Since(started).Milliseconds(),
	}

	if err := e.manager.CommitTurn(ctx, conv, state, turn, facts, ledger.Touched()); err != nil {
		return nil, err
	}

	return &model.TurnResult{
		Turn:         turn,
		Attempts:     outcome.Attempts,
		OverlapRatio: outcome.OverlapRatio,
	}, nil
}

// RecordFeedback forwards a feedback signal to the sink. It is a no-op
// without a configured sink and never influences future answers.
func (e *Engine) RecordFeedback(ctx context.Context, fb *model.Feedback) error {
	if e.feedback == nil {
		return nil
	}
	return e.feedback.Record(ctx, fb)
}

// Turns exposes the committed turn log for a conversation.
func (e *Engine) Turns(ctx context.Context, conversationID string, from, to int) ([]*model.Turn, error) {
	return e.repo.Turns(ctx, conversationID, from, to)
}
