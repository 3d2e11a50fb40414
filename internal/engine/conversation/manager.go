// Package conversation owns the three memory layers and the atomic turn
// commit. Memory is never mutated while a turn is in flight: the next state
// is staged in memory and handed to persistence as one bundle, so a failure
// or cancellation anywhere leaves every layer exactly as it was.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	errx "github.com/convoqa/server/internal/core/error"
	"github.com/convoqa/server/internal/engine/extract"
	"github.com/convoqa/server/internal/engine/model"
	logx "github.com/convoqa/server/pkg/logger"
)

// Manager is the conversation state manager.
type Manager struct {
	repo model.Persistence
	cfg  model.MemoryConfig

	mu       sync.Mutex
	inflight map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func NewManager(repo model.Persistence, cfg model.MemoryConfig) *Manager {
	if cfg.ShortTermWindow <= 0 {
		cfg.ShortTermWindow = 5
	}
	if cfg.WorkingSummaryLen <= 0 {
		cfg.WorkingSummaryLen = 500
	}
	return &Manager{
		repo:     repo,
		cfg:      cfg,
		inflight: map[string]*convLock{},
	}
}

// Lock serializes turns within one conversation: at most one in-flight turn
// per conversation ID, preserving turn-number ordering. Conversations with
// different IDs proceed in parallel. The returned function releases the lock.
func (m *Manager) Lock(conversationID string) func() {
	m.mu.Lock()
	l, ok := m.inflight[conversationID]
	if !ok {
		l = &convLock{}
		m.inflight[conversationID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.inflight, conversationID)
		}
		m.mu.Unlock()
	}
}

// Snapshot loads the conversation header and the three memory layers,
// initialising both for a conversation seen for the first time.
func (m *Manager) Snapshot(ctx context.Context, conversationID, goal string) (*model.Conversation, *model.ConversationState, error) {
	conv, err := m.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		now := time.Now().UTC()
		conv = &model.Conversation{
			ID:           conversationID,
			Goal:         goal,
			StartedAt:    now,
			LastActiveAt: now,
			Status:       model.StatusActive,
		}
	}

	state, err := m.repo.GetState(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if state == nil {
		state = model.NewConversationState(conversationID)
	}
	return conv, state, nil
}

// CommitTurn commits one turn atomically: the turn record is appended and
// the conversation header, all three memory layers and the touched coverage
// records are updated together, or nothing happens at all.
func (m *Manager) CommitTurn(ctx context.Context, conv *model.Conversation, state *model.ConversationState, turn *model.Turn, facts []model.Fact, coverage []*model.EntityCoverage) error {
	nextConv := m.advanceConversation(conv, turn)
	nextState := m.applyTurn(state, turn, facts)

	err := m.repo.CommitTurn(ctx, &model.TurnCommit{
		Conversation: nextConv,
		State:        nextState,
		Turn:         turn,
		Coverage:     coverage,
	})
	if err != nil {
		return errx.Persistence(err)
	}

	logx.Debug().
		Str("conversation_id", conv.ID).
		Int("turn_number", turn.TurnNumber).
		Int("short_term_size", len(nextState.ShortTerm)).
		Int("long_term_size", len(nextState.LongTerm)).
		Int("depth", nextState.Depth).
		Msg("Turn committed")
	return nil
}

// advanceConversation produces the post-commit header with the rolling
// quality average.
func (m *Manager) advanceConversation(conv *model.Conversation, turn *model.Turn) *model.Conversation {
	next := *conv
	next.TotalTurns = turn.TurnNumber
	next.LastActiveAt = turn.CreatedAt
	next.Status = model.StatusActive
	n := float64(turn.TurnNumber)
	next.AvgQualityScore = (conv.AvgQualityScore*(n-1) + turn.Scores.Overall) / n
	return &next
}

// applyTurn stages the next state: working memory replaced, short-term
// pushed with the oldest evicted beyond the window, long-term unioned
// idempotently, covered sets extended and the depth counter advanced.
func (m *Manager) applyTurn(state *model.ConversationState, turn *model.Turn, facts []model.Fact) *model.ConversationState {
	next := &model.ConversationState{
		ConversationID: state.ConversationID,
		SchemaVersion:  model.StateSchemaVersion,
	}

	next.Working = &model.WorkingMemory{
		TurnNumber: turn.TurnNumber,
		Query:      turn.RawQuery,
		Answer:     truncate(turn.Answer, m.cfg.WorkingSummaryLen),
	}

	next.ShortTerm = append(next.ShortTerm, state.ShortTerm...)
	next.ShortTerm = append(next.ShortTerm, model.TurnMemory{
		TurnNumber:      turn.TurnNumber,
		Query:           turn.RawQuery,
		RewrittenQuery:  turn.RewrittenQuery,
		QueryType:       turn.QueryType,
		Answer:          turn.Answer,
		Entities:        turn.Entities,
		AnswerEmbedding: turn.AnswerEmbedding,
	})
	if over := len(next.ShortTerm) - m.cfg.ShortTermWindow; over > 0 {
		next.ShortTerm = next.ShortTerm[over:]
	}

	next.LongTerm = unionFacts(state.LongTerm, facts)
	next.CoveredEntities = unionStrings(state.CoveredEntities, turn.Entities)
	next.CoveredTopics = unionStrings(state.CoveredTopics, extract.Topics(turn.RewrittenQuery))

	switch {
	case turn.QueryType == model.QueryNewTopic || state.Depth == 0:
		next.Depth = 1
	case turn.QueryType == model.QueryDeepen:
		next.Depth = state.Depth + 1
	default:
		next.Depth = state.Depth
	}
	return next
}

// unionFacts unions by fact identity so re-adding a fact is a no-op.
func unionFacts(existing []model.Fact, incoming []model.Fact) []model.Fact {
	out := make([]model.Fact, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f.Key()] = true
	}
	for _, f := range incoming {
		if k := f.Key(); !seen[k] {
			seen[k] = true
			out = append(out, f)
		}
	}
	return out
}

func unionStrings(existing, incoming []string) []string {
	out := make([]string, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[strings.ToLower(s)] = true
	}
	for _, s := range incoming {
		if k := strings.ToLower(s); !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
