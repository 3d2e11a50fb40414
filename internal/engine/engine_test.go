package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoqa/server/internal/engine/model"
	"github.com/convoqa/server/internal/engine/repo"
)

// scriptGen serves scripted outputs: rewrites by raw order of rewrite calls,
// answers by raw order of synthesis calls. Past the script it repeats the
// last entry.
type scriptGen struct {
	mu        sync.Mutex
	rewrites  []string
	answers   []string
	rewriteAt int
	answerAt  int
	synthOpts []model.GenerateOptions
}

func (g *scriptGen) Generate(_ context.Context, _ string, opts model.GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if opts.Mode == model.ModeRewrite {
		return takeScripted(g.rewrites, &g.rewriteAt), nil
	}
	g.synthOpts = append(g.synthOpts, opts)
	return takeScripted(g.answers, &g.answerAt), nil
}

func takeScripted(script []string, at *int) string {
	if len(script) == 0 {
		return ""
	}
	i := *at
	if i >= len(script) {
		i = len(script) - 1
	}
	*at++
	return script[i]
}

// mapEmbedder returns a fixed vector per known text and an orthogonal
// default for everything else.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (e *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (e *mapEmbedder) Model() string { return "test-embedder-v1" }

type staticDocs struct{}

func (staticDocs) Retrieve(context.Context, string) ([]model.Document, error) {
	return []model.Document{
		{Content: "Nuvia Stream's head of factual, Leila Haddad, commissions MENA documentaries."},
		{Content: "Atlas Play funds regional factual slates with budgets upward of 40 million dollars."},
		{Content: "Crescent TV runs open commissioning windows for Arabic-language factual content."},
	}, nil
}

// flakyRepo fails the next CommitTurn once, then delegates.
type flakyRepo struct {
	model.Persistence
	failNext bool
}

func (f *flakyRepo) CommitTurn(ctx context.Context, commit *model.TurnCommit) error {
	if f.failNext {
		f.failNext = false
		return errors.New("injected commit failure")
	}
	return f.Persistence.CommitTurn(ctx, commit)
}

func defaultTestConfig() model.EngineConfig {
	return model.EngineConfig{
		Memory:        model.MemoryConfig{ShortTermWindow: 5, WorkingSummaryLen: 500},
		Repetition:    model.RepetitionConfig{SimilarityThreshold: 0.85, OverlapThreshold: 0.70, MaxRegenerations: 2, Window: 3},
		Contextualize: model.ContextualizeConfig{HistoryTurns: 2, AnswerTruncateLen: 300, RewriteTimeoutMS: 500},
		Scoring: model.ScoringConfig{
			WeightSpecificity: 0.2, WeightActionability: 0.2, WeightStrategicValue: 0.2,
			WeightContextAwareness: 0.2, WeightNovelty: 0.2,
		},
	}
}

func newTestEngine(t *testing.T, gen *scriptGen, emb *mapEmbedder) (*Engine, model.Persistence) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	persistence := repo.NewRedisPersistence(rdb, time.Hour)

	e, err := New(defaultTestConfig(), Deps{
		Retriever:   staticDocs{},
		Generator:   gen,
		Embedder:    emb,
		Persistence: persistence,
		Feedback:    repo.NewRedisFeedbackSink(rdb, time.Hour),
	})
	require.NoError(t, err)
	return e, persistence
}

const (
	answerTurn1 = "Consider pitching to Leila Haddad, the head of factual at Nuvia Stream, who commissions MENA documentaries."
	answerTurn2 = "Atlas Play funds regional factual slates, while Crescent TV runs open commissioning windows with budgets upward of 40 million dollars."
	rewriteT2   = "What other streaming platforms besides Nuvia Stream commission MENA documentary content?"
)

func TestTwoTurnConversationFlow(t *testing.T) {
	gen := &scriptGen{
		rewrites: []string{rewriteT2},
		answers:  []string{answerTurn1, answerTurn2},
	}
	emb := &mapEmbedder{vectors: map[string][]float32{
		answerTurn1: {1, 0, 0, 0},
		answerTurn2: {0, 1, 0, 0},
	}}
	e, persistence := newTestEngine(t, gen, emb)
	ctx := context.Background()

	res1, err := e.Answer(ctx, model.QueryInput{
		ConversationID: "conv-1",
		Query:          "Who should I approach about a MENA documentary on a streaming platform?",
		Goal:           "place a MENA documentary",
	})
	require.NoError(t, err)

	turn1 := res1.Turn
	assert.Equal(t, 1, turn1.TurnNumber)
	assert.Equal(t, model.QueryInitial, turn1.QueryType)
	assert.Equal(t, turn1.RawQuery, turn1.RewrittenQuery, "initial queries pass through unchanged")
	assert.Equal(t, answerTurn1, turn1.Answer)
	assert.Contains(t, turn1.Entities, "Leila Haddad")
	assert.Contains(t, turn1.Entities, "Nuvia Stream")
	assert.Zero(t, turn1.RepetitionScore, "nothing to repeat on the first turn")
	assert.Equal(t, 1.0, turn1.Scores.ContextAwareness)
	assert.Equal(t, 1.0, turn1.Scores.Novelty)
	assert.False(t, turn1.Regenerated)

	res2, err := e.Answer(ctx, model.QueryInput{
		ConversationID: "conv-1",
		Query:          "What other platforms?",
	})
	require.NoError(t, err)

	turn2 := res2.Turn
	assert.Equal(t, 2, turn2.TurnNumber)
	assert.Equal(t, model.QueryExpand, turn2.QueryType)
	assert.Equal(t, rewriteT2, turn2.RewrittenQuery, "elliptical follow-up resolved against history")
	assert.Equal(t, answerTurn2, turn2.Answer)
	assert.NotContains(t, turn2.Answer, "Leila Haddad")
	assert.Less(t, res2.OverlapRatio, 0.3, "expansion covers new entities")
	assert.Less(t, turn2.RepetitionScore, 0.85)
	assert.False(t, turn2.Regenerated)

	turns, err := e.Turns(ctx, "conv-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].TurnNumber)
	assert.Equal(t, 2, turns[1].TurnNumber)

	cov, err := persistence.Coverage(ctx, "conv-1")
	require.NoError(t, err)
	require.Contains(t, cov, "Nuvia Stream")
	assert.Equal(t, 1, cov["Nuvia Stream"].MentionCount)
	require.Contains(t, cov, "Atlas Play")
	assert.Equal(t, 2, cov["Atlas Play"].FirstMentionedTurn)

	header, err := persistence.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, header.TotalTurns)
	assert.Equal(t, "place a MENA documentary", header.Goal)
}

func TestRepetitiveAnswerRegeneratedWithExclusions(t *testing.T) {
	gen := &scriptGen{
		rewrites: []string{rewriteT2},
		answers:  []string{answerTurn1, answerTurn1, answerTurn2},
	}
	emb := &mapEmbedder{vectors: map[string][]float32{
		answerTurn1: {1, 0, 0, 0},
		answerTurn2: {0, 1, 0, 0},
	}}
	e, _ := newTestEngine(t, gen, emb)
	ctx := context.Background()

	_, err := e.Answer(ctx, model.QueryInput{ConversationID: "conv-1", Query: "Who should I approach about a MENA documentary?"})
	require.NoError(t, err)

	res, err := e.Answer(ctx, model.QueryInput{ConversationID: "conv-1", Query: "What other platforms?"})
	require.NoError(t, err)

	assert.True(t, res.Turn.Regenerated)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, answerTurn2, res.Turn.Answer)

	require.Len(t, gen.synthOpts, 3)
	assert.Empty(t, gen.synthOpts[1].Exclude, "first draft of turn 2 has no exclusions")
	assert.Contains(t, gen.synthOpts[2].Exclude, "Leila Haddad", "regeneration bans recently covered entities")
}

func TestEmptyQueryRejected(t *testing.T) {
	e, _ := newTestEngine(t, &scriptGen{answers: []string{"x"}}, &mapEmbedder{})

	_, err := e.Answer(context.Background(), model.QueryInput{ConversationID: "c", Query: "   "})

	require.Error(t, err)
}

func TestMissingConversationIDGetsGenerated(t *testing.T) {
	gen := &scriptGen{answers: []string{answerTurn1}}
	e, _ := newTestEngine(t, gen, &mapEmbedder{})

	res, err := e.Answer(context.Background(), model.QueryInput{Query: "Who commissions MENA documentaries?"})

	require.NoError(t, err)
	assert.NotEmpty(t, res.Turn.ConversationID)
	assert.Equal(t, 1, res.Turn.TurnNumber)
}

func TestFailedCommitRetriesWithSameTurnNumber(t *testing.T) {
	gen := &scriptGen{
		rewrites: []string{rewriteT2},
		answers:  []string{answerTurn1, answerTurn2, answerTurn2},
	}
	emb := &mapEmbedder{vectors: map[string][]float32{
		answerTurn1: {1, 0, 0, 0},
		answerTurn2: {0, 1, 0, 0},
	}}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	flaky := &flakyRepo{Persistence: repo.NewRedisPersistence(rdb, time.Hour)}

	e, err := New(defaultTestConfig(), Deps{
		Retriever:   staticDocs{},
		Generator:   gen,
		Embedder:    emb,
		Persistence: flaky,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.Answer(ctx, model.QueryInput{ConversationID: "conv-1", Query: "Who should I approach about a MENA documentary?"})
	require.NoError(t, err)

	flaky.failNext = true
	_, err = e.Answer(ctx, model.QueryInput{ConversationID: "conv-1", Query: "What other platforms?"})
	require.Error(t, err)

	turns, err := e.Turns(ctx, "conv-1", 1, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1, "failed turn left no trace")

	res, err := e.Answer(ctx, model.QueryInput{ConversationID: "conv-1", Query: "What other platforms?"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Turn.TurnNumber, "retry reuses the turn number, no gaps")
}

func TestShortTermEvictionKeepsLogAndLongTermIntact(t *testing.T) {
	answers := []string{
		"Nuvia Stream commissions MENA documentaries through Leila Haddad.",
		"Atlas Play funds regional factual slates.",
		"Crescent TV runs open commissioning windows.",
		"Desert Lens Films co-produces with regional broadcasters.",
		"Falcon Media backs first-time documentary directors.",
		"Oasis Channel licenses finished documentaries.",
	}
	gen := &scriptGen{answers: answers}
	emb := &mapEmbedder{vectors: map[string][]float32{}}
	for i, a := range answers {
		v := make([]float32, len(answers))
		v[i] = 1
		emb.vectors[a] = v
	}
	e, persistence := newTestEngine(t, gen, emb)
	ctx := context.Background()

	queries := []string{
		"Who commissions MENA documentaries?",
		"New topic: tell me about Atlas Play.",
		"New topic: tell me about Crescent TV.",
		"New topic: tell me about Desert Lens Films.",
		"New topic: tell me about Falcon Media.",
		"New topic: tell me about Oasis Channel.",
	}
	for i, q := range queries {
		res, err := e.Answer(ctx, model.QueryInput{ConversationID: "conv-1", Query: q})
		require.NoError(t, err)
		require.Equal(t, i+1, res.Turn.TurnNumber)
	}

	state, err := persistence.GetState(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, state.ShortTerm, 5, "window holds the last five turns")
	assert.Equal(t, 2, state.ShortTerm[0].TurnNumber)

	turns, err := e.Turns(ctx, "conv-1", 1, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 6, "eviction never rewrites the turn log")

	found := false
	for _, f := range state.LongTerm {
		if f.Entity == "Nuvia Stream" {
			found = true
		}
	}
	assert.True(t, found, "facts from evicted turns survive in long-term memory")
}

func TestRecordFeedbackWithoutSinkIsNoOp(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e, err := New(defaultTestConfig(), Deps{
		Retriever:   staticDocs{},
		Generator:   &scriptGen{answers: []string{"x"}},
		Embedder:    &mapEmbedder{},
		Persistence: repo.NewRedisPersistence(rdb, time.Hour),
	})
	require.NoError(t, err)

	assert.NoError(t, e.RecordFeedback(context.Background(), &model.Feedback{
		ConversationID: "conv-1",
		TurnNumber:     1,
		Type:           model.FeedbackExplicit,
		Value:          1,
	}))
}
