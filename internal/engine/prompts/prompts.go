// Package prompts renders the rewrite and synthesis prompts from embedded
// templates through the Eino prompt component, so prompt callbacks fire the
// same way they do for any other Eino component.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/convoqa/server/internal/engine/model"
)

//go:embed template/rewrite_prompt.txt
var rewritePrompt string

//go:embed template/synthesis_prompt.txt
var synthesisPrompt string

// RewriteData feeds the rewrite template.
type RewriteData struct {
	Query     string
	QueryType model.QueryType
	// History is the bounded, already-truncated recent turns.
	History []model.TurnMemory
}

// SynthesisData feeds the synthesis template.
type SynthesisData struct {
	Query    string
	Goal     string
	Working  *model.WorkingMemory
	LongTerm []model.Fact
	History  []model.TurnMemory
	Evidence []model.Document
}

// RenderRewrite renders the standalone-query rewrite prompt.
func RenderRewrite(ctx context.Context, data RewriteData) (string, error) {
	compareNote := ""
	if data.QueryType == model.QueryCompare {
		compareNote = "The rewrite must name both subjects being compared, including the subject from the earlier turn.\n"
	}

	// Known tokens only, so braces in user text cannot break rendering.
	content := strings.NewReplacer(
		"{history}", formatHistory(data.History),
		"{query}", data.Query,
		"{query_type}", string(data.QueryType),
		"{compare_note}", compareNote,
	).Replace(rewritePrompt)

	return renderViaEino(ctx, content, "rewrite")
}

// RenderSynthesis renders the answer-generation prompt.
func RenderSynthesis(ctx context.Context, data SynthesisData) (string, error) {
	goalSection := ""
	if data.Goal != "" {
		goalSection = "\nConversation goal: " + data.Goal + "\n"
	}

	content := strings.NewReplacer(
		"{goal_section}", goalSection,
		"{working}", formatWorking(data.Working),
		"{long_term}", formatFacts(data.LongTerm),
		"{history}", formatHistory(data.History),
		"{evidence}", formatEvidence(data.Evidence),
		"{query}", data.Query,
	).Replace(synthesisPrompt)

	return renderViaEino(ctx, content, "synthesis")
}

// renderViaEino wraps the rendered content in the Eino prompt component
// using a messages placeholder so callbacks observe the final prompt.
func renderViaEino(ctx context.Context, content, name string) (string, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("%s prompt callbacks: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt callbacks: empty result", name)
	}
	return msgs[0].Content, nil
}

func formatHistory(history []model.TurnMemory) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, tm := range history {
		fmt.Fprintf(&b, "Turn %d user: %s\n", tm.TurnNumber, tm.Query)
		fmt.Fprintf(&b, "Turn %d assistant: %s\n", tm.TurnNumber, tm.Answer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatWorking(w *model.WorkingMemory) string {
	if w == nil {
		return "(none)"
	}
	return fmt.Sprintf("Turn %d asked %q and was answered: %s", w.TurnNumber, w.Query, w.Answer)
}

func formatFacts(facts []model.Fact) string {
	if len(facts) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s: %s\n", f.Entity, f.Statement)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatEvidence(docs []model.Document) string {
	if len(docs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, d.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
