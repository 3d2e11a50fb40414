package prompts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoqa/server/internal/engine/model"
)

func TestRenderRewriteSubstitutesAllTokens(t *testing.T) {
	out, err := RenderRewrite(context.Background(), RewriteData{
		Query:     "What other platforms?",
		QueryType: model.QueryExpand,
		History: []model.TurnMemory{{
			TurnNumber: 1,
			Query:      "Who commissions MENA documentaries?",
			Answer:     "Nuvia Stream does.",
		}},
	})

	require.NoError(t, err)
	assert.Contains(t, out, "What other platforms?")
	assert.Contains(t, out, "Turn 1 user: Who commissions MENA documentaries?")
	assert.Contains(t, out, "Turn 1 assistant: Nuvia Stream does.")
	assert.Contains(t, out, "expand")
	assert.NotContains(t, out, "{query}")
	assert.NotContains(t, out, "{history}")
	assert.NotContains(t, out, "{compare_note}")
}

func TestRenderRewriteCompareNote(t *testing.T) {
	data := RewriteData{Query: "How does Crescent TV compare?", QueryType: model.QueryCompare}
	out, err := RenderRewrite(context.Background(), data)
	require.NoError(t, err)
	assert.Contains(t, out, "both subjects")

	data.QueryType = model.QueryExpand
	out, err = RenderRewrite(context.Background(), data)
	require.NoError(t, err)
	assert.NotContains(t, out, "both subjects")
}

func TestRenderRewriteSurvivesBracesInUserText(t *testing.T) {
	out, err := RenderRewrite(context.Background(), RewriteData{
		Query:     "What does {placeholder} mean in their contract template?",
		QueryType: model.QueryClarify,
	})

	require.NoError(t, err)
	assert.Contains(t, out, "{placeholder}")
}

func TestRenderSynthesisSections(t *testing.T) {
	out, err := RenderSynthesis(context.Background(), SynthesisData{
		Query: "What other streaming platforms commission MENA documentaries?",
		Goal:  "place a MENA documentary",
		Working: &model.WorkingMemory{
			TurnNumber: 1,
			Query:      "Who commissions MENA documentaries?",
			Answer:     "Nuvia Stream does.",
		},
		LongTerm: []model.Fact{{Entity: "Nuvia Stream", Statement: "Nuvia Stream commissions MENA documentaries."}},
		History: []model.TurnMemory{{
			TurnNumber: 1,
			Query:      "Who commissions MENA documentaries?",
			Answer:     "Nuvia Stream does.",
		}},
		Evidence: []model.Document{{Content: "Atlas Play funds regional factual slates."}},
	})

	require.NoError(t, err)
	assert.Contains(t, out, "Conversation goal: place a MENA documentary")
	assert.Contains(t, out, "- Nuvia Stream: Nuvia Stream commissions MENA documentaries.")
	assert.Contains(t, out, "[1] Atlas Play funds regional factual slates.")
	assert.Contains(t, out, "What other streaming platforms commission MENA documentaries?")
}

func TestRenderSynthesisEmptySections(t *testing.T) {
	out, err := RenderSynthesis(context.Background(), SynthesisData{Query: "Who commissions MENA documentaries?"})

	require.NoError(t, err)
	assert.Contains(t, out, "(none)")
	assert.NotContains(t, out, "Conversation goal:")
}
