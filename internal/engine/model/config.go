package model

// ================ Config ================
// Thresholds below are heuristic constants inherited from the original
// tuning, kept configurable rather than treated as optimal.

type MemoryConfig struct {
	// ShortTermWindow is the FIFO window of recent turns kept in state.
	ShortTermWindow int `envconfig:"MEMORY_SHORT_TERM_WINDOW" default:"5"`
	// WorkingSummaryLen caps the answer text kept in working memory.
	WorkingSummaryLen int `envconfig:"MEMORY_WORKING_SUMMARY_LEN" default:"500"`
}

type RepetitionConfig struct {
	SimilarityThreshold float64 `envconfig:"REPETITION_SIMILARITY_THRESHOLD" default:"0.85"`
	OverlapThreshold    float64 `envconfig:"REPETITION_OVERLAP_THRESHOLD" default:"0.70"`
	// MaxRegenerations bounds the retry loop after the first draft.
	MaxRegenerations int `envconfig:"REPETITION_MAX_REGENERATIONS" default:"2"`
	// Window is how many prior turns' answers are compared against.
	Window int `envconfig:"REPETITION_WINDOW" default:"3"`
}

type ContextualizeConfig struct {
	// HistoryTurns bounds how many prior turns feed the rewrite prompt.
	HistoryTurns int `envconfig:"CONTEXTUALIZE_HISTORY_TURNS" default:"2"`
	// AnswerTruncateLen caps each prior answer handed to the rewriter.
	AnswerTruncateLen int `envconfig:"CONTEXTUALIZE_ANSWER_TRUNCATE_LEN" default:"300"`
	// RewriteTimeoutMS is a soft budget; exceeding it falls back to the raw query.
	RewriteTimeoutMS int `envconfig:"CONTEXTUALIZE_REWRITE_TIMEOUT_MS" default:"500"`
}

type ScoringConfig struct {
	WeightSpecificity      float64 `envconfig:"SCORING_WEIGHT_SPECIFICITY" default:"0.2"`
	WeightActionability    float64 `envconfig:"SCORING_WEIGHT_ACTIONABILITY" default:"0.2"`
	WeightStrategicValue   float64 `envconfig:"SCORING_WEIGHT_STRATEGIC_VALUE" default:"0.2"`
	WeightContextAwareness float64 `envconfig:"SCORING_WEIGHT_CONTEXT_AWARENESS" default:"0.2"`
	WeightNovelty          float64 `envconfig:"SCORING_WEIGHT_NOVELTY" default:"0.2"`
}

type ConversationConfig struct {
	// TTL on redis keys, extended on touch. Zero disables expiry.
	TTL string `envconfig:"CONVERSATION_TTL" default:"720h"`
	// AbandonAfter is the inactivity threshold for the abandonment sweep.
	AbandonAfter string `envconfig:"CONVERSATION_ABANDON_AFTER" default:"24h"`
}

type RewriteModelConfig struct {
	Model       string  `envconfig:"REWRITE_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"REWRITE_MAX_TOKENS" default:"256"`
	Temperature float32 `envconfig:"REWRITE_TEMPERATURE" default:"0.0"`
}

type SynthesisModelConfig struct {
	Model       string  `envconfig:"SYNTHESIS_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"SYNTHESIS_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"SYNTHESIS_TEMPERATURE" default:"0.7"`
}

type EmbeddingModelConfig struct {
	// The same model/version must be used for the life of a conversation so
	// similarity scores stay comparable.
	Model string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
}

// EngineConfig aggregates the core engine knobs.
type EngineConfig struct {
	Memory        MemoryConfig
	Repetition    RepetitionConfig
	Contextualize ContextualizeConfig
	Scoring       ScoringConfig
}
