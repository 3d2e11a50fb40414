// Package coverage tracks which facts and attribute slots have already been
// communicated for each entity in a conversation.
package coverage

import (
	"sort"
	"strings"

	"github.com/convoqa/server/internal/engine/model"
)

// Ledger is the per-conversation view of entity coverage. It works on a
// private copy of the persisted records: mutations stay local until the turn
// commit persists the touched entries, so an aborted turn leaves the stored
// coverage untouched.
type Ledger struct {
	conversationID string
	entries        map[string]*model.EntityCoverage
	touched        map[string]bool
}

// NewLedger builds a ledger over deep copies of the existing records.
func NewLedger(conversationID string, existing map[string]*model.EntityCoverage) *Ledger {
	entries := make(map[string]*model.EntityCoverage, len(existing))
	for k, v := range existing {
		entries[strings.ToLower(k)] = cloneCoverage(v)
	}
	return &Ledger{
		conversationID: conversationID,
		entries:        entries,
		touched:        map[string]bool{},
	}
}

// RegisterMention upserts a mention of entity at turnNumber: bumps the
// mention count, extends the mentioned-turn range, and unions the facts and
// their implied attribute slots into the covered sets.
func (l *Ledger) RegisterMention(entity string, turnNumber int, facts []model.Fact) *model.EntityCoverage {
	key := strings.ToLower(strings.TrimSpace(entity))
	if key == "" {
		return nil
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &model.EntityCoverage{
			ConversationID:     l.conversationID,
			Entity:             entity,
			EntityType:         InferType(entity),
			FirstMentionedTurn: turnNumber,
			FactsCovered:       map[string]bool{},
			AttributesCovered:  map[string]bool{},
		}
		l.entries[key] = entry
	}

	entry.MentionCount++
	if turnNumber < entry.FirstMentionedTurn || entry.FirstMentionedTurn == 0 {
		entry.FirstMentionedTurn = turnNumber
	}
	if turnNumber > entry.LastMentionedTurn {
		entry.LastMentionedTurn = turnNumber
	}

	for _, f := range facts {
		if !strings.EqualFold(f.Entity, entity) {
			continue
		}
		entry.FactsCovered[f.Key()] = true
		for _, slot := range InferSlots(f.Statement, entry.EntityType) {
			entry.AttributesCovered[slot] = true
		}
	}

	l.touched[key] = true
	return entry
}

// DepthScore is the fraction of the entity's slot vocabulary already
// covered. Sets only grow, so the score is non-decreasing over the life of
// the conversation. Unknown entities score 0.
func (l *Ledger) DepthScore(entity string) float64 {
	entry, ok := l.entries[strings.ToLower(strings.TrimSpace(entity))]
	if !ok {
		return 0
	}
	total := len(SlotsFor(entry.EntityType))
	if total == 0 {
		return 0
	}
	return float64(len(entry.AttributesCovered)) / float64(total)
}

// UnderCoveredAttribute returns the first uncovered slot for an entity, in
// vocabulary order. ok is false when the entity is unknown or fully covered.
func (l *Ledger) UnderCoveredAttribute(entity string) (string, bool) {
	entry, ok := l.entries[strings.ToLower(strings.TrimSpace(entity))]
	if !ok {
		return "", false
	}
	for _, slot := range SlotsFor(entry.EntityType) {
		if !entry.AttributesCovered[slot] {
			return slot, true
		}
	}
	return "", false
}

// Known reports whether the entity already has a coverage record.
func (l *Ledger) Known(entity string) bool {
	_, ok := l.entries[strings.ToLower(strings.TrimSpace(entity))]
	return ok
}

// Touched returns the entries modified since the ledger was built, sorted by
// entity for deterministic commits.
func (l *Ledger) Touched() []*model.EntityCoverage {
	keys := make([]string, 0, len(l.touched))
	for k := range l.touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*model.EntityCoverage, 0, len(keys))
	for _, k := range keys {
		out = append(out, l.entries[k])
	}
	return out
}

func cloneCoverage(c *model.EntityCoverage) *model.EntityCoverage {
	cp := *c
	cp.FactsCovered = make(map[string]bool, len(c.FactsCovered))
	for k, v := range c.FactsCovered {
		cp.FactsCovered[k] = v
	}
	cp.AttributesCovered = make(map[string]bool, len(c.AttributesCovered))
	for k, v := range c.AttributesCovered {
		cp.AttributesCovered[k] = v
	}
	return &cp
}
