package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/convoqa/server/internal/core"
	"github.com/convoqa/server/internal/engine"
	"github.com/convoqa/server/internal/engine/llm"
	"github.com/convoqa/server/internal/engine/model"
	"github.com/convoqa/server/internal/engine/repo"
	"github.com/convoqa/server/internal/engine/retrieval"
	logx "github.com/convoqa/server/pkg/logger"
	pkgredis "github.com/convoqa/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the engine example,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Engine configs
	Rewrite      model.RewriteModelConfig
	Synthesis    model.SynthesisModelConfig
	Embedding    model.EmbeddingModelConfig
	Engine       model.EngineConfig
	Conversation model.ConversationConfig
}

func main() {
	fmt.Println("Testing Conversational QA Engine...")
	ctx := context.Background()
	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	rdb, err := envCfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()

	fmt.Println("Connected to Redis successfully")

	ttl, err := time.ParseDuration(envCfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid CONVERSATION_TTL '%s': %v", envCfg.Conversation.TTL, err)
	}

	generator, embedder, err := llm.NewClients(ctx, llm.Config{
		APIKey:    envCfg.APIKey,
		BaseURL:   envCfg.BaseURL,
		Rewrite:   &envCfg.Rewrite,
		Synthesis: &envCfg.Synthesis,
		Embedding: &envCfg.Embedding,
	})
	if err != nil {
		log.Fatalf("Failed to create Gemini clients: %v", err)
	}

	eng, err := engine.New(envCfg.Engine, engine.Deps{
		Retriever:   retrieval.NewStatic(demoCorpus(), 5),
		Generator:   generator,
		Embedder:    embedder,
		Persistence: repo.NewRedisPersistence(rdb, ttl),
		Feedback:    repo.NewRedisFeedbackSink(rdb, ttl),
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	testQueries := []struct {
		description string
		query       string
	}{
		{
			description: "Initial pitch-target question",
			query:       "Who should I pitch a MENA documentary to at a streaming platform?",
		},
		{
			description: "Elliptical follow-up that needs rewriting",
			query:       "What other platforms?",
		},
		{
			description: "Comparison follow-up",
			query:       "How does their documentary budget compare?",
		},
	}

	conversationID := "demo-conversation-1"

	for i, test := range testQueries {
		fmt.Printf("\nTest %d: %s\n", i+1, test.description)
		fmt.Printf("Query: %q\n", test.query)
		fmt.Println("Processing...")

		result, err := eng.Answer(ctx, model.QueryInput{
			ConversationID: conversationID,
			Query:          test.query,
		})
		if err != nil {
			log.Fatalf("Failed to answer query %d: %v", i+1, err)
		}

		fmt.Printf("Answer %d (turn %d, type %s, quality %.2f, repetition %.2f):\n%s\n",
			i+1, result.Turn.TurnNumber, result.Turn.QueryType,
			result.Turn.Scores.Overall, result.Turn.RepetitionScore, result.Turn.Answer)
		fmt.Println("─────────────────────────────────────────────")

		// slight delay between turns for readability
		time.Sleep(500 * time.Millisecond)
	}

	// Record a demo feedback signal; the engine only forwards it.
	if err := eng.RecordFeedback(ctx, &model.Feedback{
		ConversationID: conversationID,
		TurnNumber:     1,
		Type:           model.FeedbackExplicit,
		Value:          1,
		Comment:        "useful contact",
	}); err != nil {
		log.Printf("Warning: failed to record feedback: %v", err)
	}

	fmt.Println("All engine turns completed successfully!")
}

// demoCorpus is the static evidence set for local runs.
func demoCorpus() []model.Document {
	now := time.Now().UTC()
	mk := func(content, source string) model.Document {
		return model.Document{
			Content: content,
			Source:  map[string]string{"name": source},
			FreshAt: now,
		}
	}
	return []model.Document{
		mk("Nuvia Stream commissions MENA documentaries through its regional originals team, led by head of factual Leila Haddad.", "industry-notes"),
		mk("Atlas Play expanded its documentary slate in 2025 with a dedicated MENA fund of 40 million dollars.", "trade-press"),
		mk("Crescent TV focuses on Arabic-language factual programming and accepts pitches during its open commissioning windows.", "commissioning-guide"),
		mk("Documentary budgets at major streaming platforms range from 300 thousand to 2 million dollars per hour of finished content.", "budget-survey"),
		mk("Regional co-production treaties make MENA documentaries eligible for European broadcaster financing.", "policy-brief"),
	}
}
