package model

import (
	"sort"
	"strings"
	"time"
)

// ConversationStatus tracks the lifecycle of a conversation.
type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusCompleted ConversationStatus = "completed"
	StatusAbandoned ConversationStatus = "abandoned"
)

// QueryType classifies how a query relates to the conversation so far.
type QueryType string

const (
	QueryInitial  QueryType = "initial"
	QueryExpand   QueryType = "expand"
	QueryDeepen   QueryType = "deepen"
	QueryCompare  QueryType = "compare"
	QueryClarify  QueryType = "clarify"
	QueryNewTopic QueryType = "new_topic"
)

// Conversation is the per-conversation header record. Created on the first
// query and mutated once per committed turn.
type Conversation struct {
	ID              string             `json:"id"`
	Goal            string             `json:"goal,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	LastActiveAt    time.Time          `json:"last_active_at"`
	Status          ConversationStatus `json:"status"`
	TotalTurns      int                `json:"total_turns"`
	AvgQualityScore float64            `json:"avg_quality_score"`
	GoalAchieved    bool               `json:"goal_achieved"`
}

// QualityScores holds the five quality sub-scores plus the weighted overall
// score, each in [0,1].
type QualityScores struct {
	Specificity      float64 `json:"specificity"`
	Actionability    float64 `json:"actionability"`
	StrategicValue   float64 `json:"strategic_value"`
	ContextAwareness float64 `json:"context_awareness"`
	Novelty          float64 `json:"novelty"`
	Overall          float64 `json:"overall"`
}

// Turn is the immutable record of one committed exchange, keyed by
// (conversation_id, turn_number). Turn numbers start at 1 and increase by
// exactly 1 per committed turn, with no gaps.
type Turn struct {
	ConversationID  string        `json:"conversation_id"`
	TurnNumber      int           `json:"turn_number"`
	RawQuery        string        `json:"raw_query"`
	RewrittenQuery  string        `json:"rewritten_query"`
	QueryType       QueryType     `json:"query_type"`
	Answer          string        `json:"answer"`
	Scores          QualityScores `json:"scores"`
	RepetitionScore float64       `json:"repetition_score"`
	Regenerated     bool          `json:"regenerated"`
	Entities        []string      `json:"entities"`
	AnswerEmbedding []float32     `json:"answer_embedding,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	LatencyMS       int64         `json:"latency_ms"`
}

// StateSchemaVersion tags ConversationState records so the memory layers can
// evolve without breaking already-persisted conversations.
const StateSchemaVersion = 1

// WorkingMemory summarises the immediately preceding turn.
type WorkingMemory struct {
	TurnNumber int    `json:"turn_number"`
	Query      string `json:"query"`
	Answer     string `json:"answer"`
}

// TurnMemory is the short-term-window view of a committed turn. It carries
// the answer embedding so repetition checks do not re-embed prior answers.
type TurnMemory struct {
	TurnNumber      int       `json:"turn_number"`
	Query           string    `json:"query"`
	RewrittenQuery  string    `json:"rewritten_query"`
	QueryType       QueryType `json:"query_type"`
	Answer          string    `json:"answer"`
	Entities        []string  `json:"entities"`
	AnswerEmbedding []float32 `json:"answer_embedding,omitempty"`
}

// Fact is a single durable statement about an entity. Identity is the
// normalised (entity, statement) pair, so re-adding a fact is a no-op.
type Fact struct {
	Entity    string `json:"entity"`
	Statement string `json:"statement"`
}

// Key returns the identity used for idempotent union into long-term memory.
func (f Fact) Key() string {
	return strings.ToLower(strings.TrimSpace(f.Entity)) + "|" + strings.ToLower(strings.TrimSpace(f.Statement))
}

// ConversationState holds the three mutable memory layers for one
// conversation. It is replaced wholesale at commit time, never mutated
// incrementally during a turn.
type ConversationState struct {
	ConversationID  string         `json:"conversation_id"`
	SchemaVersion   int            `json:"schema_version"`
	Working         *WorkingMemory `json:"working,omitempty"`
	ShortTerm       []TurnMemory   `json:"short_term"`
	LongTerm        []Fact         `json:"long_term"`
	CoveredEntities []string       `json:"covered_entities"`
	CoveredTopics   []string       `json:"covered_topics"`
	Depth           int            `json:"depth"`
}

// NewConversationState returns an empty state for a fresh conversation.
func NewConversationState(conversationID string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		SchemaVersion:  StateSchemaVersion,
	}
}

// RecentTurns returns up to n most recent short-term entries, oldest first.
func (s *ConversationState) RecentTurns(n int) []TurnMemory {
	if n <= 0 || len(s.ShortTerm) == 0 {
		return nil
	}
	if n > len(s.ShortTerm) {
		n = len(s.ShortTerm)
	}
	out := make([]TurnMemory, n)
	copy(out, s.ShortTerm[len(s.ShortTerm)-n:])
	return out
}

// EntityCoverage tracks what has already been communicated about one entity
// within one conversation. Records are created on first mention and only
// ever extended while the conversation is active.
type EntityCoverage struct {
	ConversationID     string          `json:"conversation_id"`
	Entity             string          `json:"entity"`
	EntityType         string          `json:"entity_type"`
	FirstMentionedTurn int             `json:"first_mentioned_turn"`
	LastMentionedTurn  int             `json:"last_mentioned_turn"`
	MentionCount       int             `json:"mention_count"`
	FactsCovered       map[string]bool `json:"facts_covered"`
	AttributesCovered  map[string]bool `json:"attributes_covered"`
}

// Attributes returns the covered attribute slots in sorted order.
func (c *EntityCoverage) Attributes() []string {
	out := make([]string, 0, len(c.AttributesCovered))
	for a := range c.AttributesCovered {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// FeedbackType distinguishes explicit user signals from implicit ones.
type FeedbackType string

const (
	FeedbackExplicit FeedbackType = "explicit"
	FeedbackImplicit FeedbackType = "implicit"
)

// Feedback is an append-only signal record per turn. It is read by
// monitoring only; the engine never consults it when deciding anything.
type Feedback struct {
	ConversationID string       `json:"conversation_id"`
	TurnNumber     int          `json:"turn_number"`
	Type           FeedbackType `json:"type"`
	Value          float64      `json:"value"`
	Comment        string       `json:"comment,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// QueryInput is the public input for processing one user query.
type QueryInput struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	Goal           string `json:"goal,omitempty"`
}

// TurnResult is what the engine returns for a committed turn.
type TurnResult struct {
	Turn         *Turn   `json:"turn"`
	Attempts     int     `json:"attempts"`
	OverlapRatio float64 `json:"overlap_ratio"`
}
