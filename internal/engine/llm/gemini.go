// Package llm provides the Gemini-backed Generator and Embedder. Two chat
// models share one client: a deterministic low-temperature one for query
// rewriting and a creative one for answer synthesis.
package llm

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/convoqa/server/internal/engine/model"
	logx "github.com/convoqa/server/pkg/logger"
)

// Config holds what is needed to build the Gemini generator and embedder.
type Config struct {
	APIKey    string
	BaseURL   string
	Rewrite   *model.RewriteModelConfig
	Synthesis *model.SynthesisModelConfig
	Embedding *model.EmbeddingModelConfig
}

// GeminiGenerator implements model.Generator over two Eino Gemini chat models.
type GeminiGenerator struct {
	rewrite       *einomodel.ChatModel
	synthesis     *einomodel.ChatModel
	rewriteName   string
	synthesisName string
}

// GeminiEmbedder implements model.Embedder over the genai embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewClients creates the shared genai client, both chat models and the
// embedder.
func NewClients(ctx context.Context, cfg Config) (*GeminiGenerator, *GeminiEmbedder, error) {
	if cfg.Rewrite == nil || cfg.Synthesis == nil || cfg.Embedding == nil {
		return nil, nil, fmt.Errorf("incomplete llm config")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	rewriteModel, err := einomodel.NewChatModel(ctx, &einomodel.Config{
		Client:      client,
		Model:       cfg.Rewrite.Model,
		Temperature: &cfg.Rewrite.Temperature,
		MaxTokens:   &cfg.Rewrite.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating rewrite model")
		return nil, nil, fmt.Errorf("error creating rewrite model: %w", err)
	}

	synthesisModel, err := einomodel.NewChatModel(ctx, &einomodel.Config{
		Client:      client,
		Model:       cfg.Synthesis.Model,
		Temperature: &cfg.Synthesis.Temperature,
		MaxTokens:   &cfg.Synthesis.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating synthesis model")
		return nil, nil, fmt.Errorf("error creating synthesis model: %w", err)
	}

	gen := &GeminiGenerator{
		rewrite:       rewriteModel,
		synthesis:     synthesisModel,
		rewriteName:   cfg.Rewrite.Model,
		synthesisName: cfg.Synthesis.Model,
	}
	emb := &GeminiEmbedder{client: client, model: cfg.Embedding.Model}
	return gen, emb, nil
}

// Generate runs the prompt through the chat model selected by opts.Mode.
// Exclusion and steering instructions are rendered as system messages ahead
// of the prompt.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, opts model.GenerateOptions) (string, error) {
	chat, name := g.synthesis, g.synthesisName
	if opts.Mode == model.ModeRewrite {
		chat, name = g.rewrite, g.rewriteName
	}

	var messages []*schema.Message
	if len(opts.Exclude) > 0 {
		messages = append(messages, schema.SystemMessage(
			"Do not mention or re-cover any of the following, they were already discussed: "+
				strings.Join(opts.Exclude, ", ")+"."))
	}
	if opts.Steer != "" {
		messages = append(messages, schema.SystemMessage(opts.Steer))
	}
	messages = append(messages, schema.UserMessage(prompt))

	out, err := chat.Generate(ctx, messages)
	if err != nil {
		logx.Error().Err(err).Str("model", name).Msg("Generation call failed")
		return "", fmt.Errorf("generate with %s: %w", name, err)
	}
	if out == nil {
		return "", fmt.Errorf("generate with %s: empty response", name)
	}

	logUsageCost(name, out)
	return out.Content, nil
}

// logUsageCost computes and logs token cost for observability.
func logUsageCost(modelName string, out *schema.Message) {
	if !model.CostEnabled() || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	pricing := model.ResolvePricing(modelName)
	inC, outC, totalC := model.ComputeCost(out.ResponseMeta.Usage, pricing)
	logx.Debug().
		Str("model", modelName).
		Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
		Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
		Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", e.model, err)
	}
	if len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("embed with %s: no embeddings returned", e.model)
	}
	return result.Embeddings[0].Values, nil
}

// Model identifies the embedding model so callers can keep similarity
// scores comparable within a conversation.
func (e *GeminiEmbedder) Model() string {
	return e.model
}

var (
	_ model.Generator = (*GeminiGenerator)(nil)
	_ model.Embedder  = (*GeminiEmbedder)(nil)
)
