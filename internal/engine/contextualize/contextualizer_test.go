package contextualize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/convoqa/server/internal/engine/model"
)

type fakeGen struct {
	out     string
	err     error
	delay   time.Duration
	calls   int
	prompts []string
}

func (g *fakeGen) Generate(ctx context.Context, prompt string, _ model.GenerateOptions) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.out, g.err
}

func testContextualizer(gen model.Generator) *Contextualizer {
	return New(gen, nil, model.ContextualizeConfig{
		HistoryTurns:      2,
		AnswerTruncateLen: 300,
		RewriteTimeoutMS:  500,
	})
}

func TestInitialQueryPassesThroughWithoutGenerator(t *testing.T) {
	gen := &fakeGen{out: "should never be used"}
	c := testContextualizer(gen)

	got, qt := c.Contextualize(context.Background(), "Who commissions MENA documentaries?", nil)

	assert.Equal(t, "Who commissions MENA documentaries?", got)
	assert.Equal(t, model.QueryInitial, qt)
	assert.Zero(t, gen.calls)
}

func TestNewTopicPassesThroughWithoutGenerator(t *testing.T) {
	gen := &fakeGen{out: "should never be used"}
	c := testContextualizer(gen)

	got, qt := c.Contextualize(context.Background(), "New topic: how do film festivals work?", historyFixture())

	assert.Equal(t, "New topic: how do film festivals work?", got)
	assert.Equal(t, model.QueryNewTopic, qt)
	assert.Zero(t, gen.calls)
}

func TestFollowUpIsRewritten(t *testing.T) {
	gen := &fakeGen{out: "What other streaming platforms besides Nuvia Stream commission MENA documentary content?"}
	c := testContextualizer(gen)

	got, qt := c.Contextualize(context.Background(), "What other platforms?", historyFixture())

	assert.Equal(t, model.QueryExpand, qt)
	assert.Equal(t, gen.out, got)
	assert.Equal(t, 1, gen.calls)
}

func TestRewriteOutputIsCleaned(t *testing.T) {
	gen := &fakeGen{out: "\n  \"What other streaming platforms commission MENA documentaries?\"  \nSecond line of chatter."}
	c := testContextualizer(gen)

	got, _ := c.Contextualize(context.Background(), "What other platforms?", historyFixture())

	assert.Equal(t, "What other streaming platforms commission MENA documentaries?", got)
}

func TestGeneratorErrorFallsBackToRawQuery(t *testing.T) {
	gen := &fakeGen{err: errors.New("provider down")}
	c := testContextualizer(gen)

	got, qt := c.Contextualize(context.Background(), "What other platforms?", historyFixture())

	assert.Equal(t, "What other platforms?", got)
	assert.Equal(t, model.QueryExpand, qt, "classification survives the fallback")
}

func TestSlowRewriteFallsBackToRawQuery(t *testing.T) {
	gen := &fakeGen{out: "too late", delay: time.Second}
	c := New(gen, nil, model.ContextualizeConfig{
		HistoryTurns:      2,
		AnswerTruncateLen: 300,
		RewriteTimeoutMS:  20,
	})

	start := time.Now()
	got, _ := c.Contextualize(context.Background(), "What other platforms?", historyFixture())

	assert.Equal(t, "What other platforms?", got)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "timeout cuts the wait short")
}

func TestEmptyRewriteFallsBackToRawQuery(t *testing.T) {
	gen := &fakeGen{out: "  \n  "}
	c := testContextualizer(gen)

	got, _ := c.Contextualize(context.Background(), "What other platforms?", historyFixture())

	assert.Equal(t, "What other platforms?", got)
}

func TestComparisonKeepsPriorSubject(t *testing.T) {
	history := []model.TurnMemory{{
		TurnNumber: 1,
		Query:      "Tell me about Atlas Play.",
		Answer:     "Atlas Play funds regional factual slates.",
		Entities:   []string{"Atlas Play"},
	}}
	gen := &fakeGen{out: "How strong is Crescent TV's documentary slate?"}
	c := testContextualizer(gen)

	got, qt := c.Contextualize(context.Background(), "How does Crescent TV compare?", history)

	assert.Equal(t, model.QueryCompare, qt)
	assert.Equal(t, "How strong is Crescent TV's documentary slate, compared with Atlas Play?", got)
}

func TestComparisonSubjectNotDuplicated(t *testing.T) {
	history := []model.TurnMemory{{
		TurnNumber: 1,
		Query:      "Tell me about Atlas Play.",
		Answer:     "Atlas Play funds regional factual slates.",
		Entities:   []string{"Atlas Play"},
	}}
	gen := &fakeGen{out: "How does Crescent TV compare with Atlas Play on documentaries?"}
	c := testContextualizer(gen)

	got, _ := c.Contextualize(context.Background(), "How does Crescent TV compare?", history)

	assert.Equal(t, gen.out, got)
}

func TestRewritePromptBoundedToRecentTurns(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	history := []model.TurnMemory{
		{TurnNumber: 1, Query: "ANCIENT-QUERY-MARKER", Answer: "old answer"},
		{TurnNumber: 2, Query: "Who funds documentaries?", Answer: "Nuvia Stream does."},
		{TurnNumber: 3, Query: "Who else?", Answer: "Atlas Play. " + string(long)},
	}
	gen := &fakeGen{out: "What other streaming platforms fund documentaries?"}
	c := testContextualizer(gen)

	c.Contextualize(context.Background(), "What other platforms?", history)

	assert.Equal(t, 1, gen.calls)
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "Who funds documentaries?")
	assert.Contains(t, prompt, "Who else?")
	assert.NotContains(t, prompt, "ANCIENT-QUERY-MARKER", "only the configured history window is injected")
	assert.Contains(t, prompt, "…", "long answers reach the generator truncated")
}
