package model

import (
	"context"
	"time"
)

// GenerateMode selects the sampling profile for a generation call.
type GenerateMode string

const (
	// ModeRewrite is the deterministic low-temperature profile used for
	// query contextualization.
	ModeRewrite GenerateMode = "rewrite"
	// ModeSynthesis is the creative profile used for answer generation.
	ModeSynthesis GenerateMode = "synthesis"
)

// GenerateOptions carries per-call generation parameters.
type GenerateOptions struct {
	Mode GenerateMode
	// Exclude lists entities the generator should avoid re-covering. Rendered
	// into the prompt as an explicit exclusion instruction.
	Exclude []string
	// Steer, when set, asks the generator to go deeper on a specific aspect
	// instead of avoiding everything in Exclude.
	Steer string
}

// Generator produces text from a prompt. Implementations must support a
// deterministic rewrite mode and a higher-temperature synthesis mode.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Embedder produces fixed-dimension vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding model/version so callers can enforce
	// consistency within a conversation.
	Model() string
}

// Document is one piece of retrieved evidence.
type Document struct {
	Content string            `json:"content"`
	Source  map[string]string `json:"source,omitempty"`
	FreshAt time.Time         `json:"fresh_at"`
}

// Retriever returns ranked evidence for a query. Ranking policy is the
// retriever's own concern.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// TurnCommit bundles every write belonging to one committed turn. The
// persistence layer must apply it all-or-nothing.
type TurnCommit struct {
	Conversation *Conversation
	State        *ConversationState
	Turn         *Turn
	Coverage     []*EntityCoverage
}

// Persistence is the storage boundary: an append-only turn log plus
// upsertable conversation/state/coverage records.
type Persistence interface {
	// GetConversation returns nil, nil when the conversation does not exist.
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)

	// GetState returns a fresh empty state when none has been persisted yet.
	GetState(ctx context.Context, conversationID string) (*ConversationState, error)

	// CommitTurn applies the bundle atomically. Committing a turn number
	// that is already in the log is a no-op, making request retries safe.
	CommitTurn(ctx context.Context, commit *TurnCommit) error

	// Turns returns committed turns in [from, to] order by turn number.
	// to <= 0 means "through the latest".
	Turns(ctx context.Context, conversationID string, from, to int) ([]*Turn, error)

	// Coverage returns all coverage records for a conversation keyed by entity.
	Coverage(ctx context.Context, conversationID string) (map[string]*EntityCoverage, error)
}

// FeedbackSink accepts per-turn feedback signals. Write-only from the
// engine's perspective; nothing in the decision path reads it back.
type FeedbackSink interface {
	Record(ctx context.Context, fb *Feedback) error
}

// Scorer is the quality-scoring contract. Implementations must be pure
// functions of their arguments so a learned model can be swapped in later
// without changing the call site.
type Scorer interface {
	Score(answer string, entities []string, history []TurnMemory, turnNumber int, repetitionScore float64) QualityScores
}
