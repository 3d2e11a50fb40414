package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	errx "github.com/convoqa/server/internal/core/error"
	"github.com/convoqa/server/internal/engine/model"
	logx "github.com/convoqa/server/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisPersistence stores the turn log and the upsertable
// conversation/state/coverage records in Redis. A turn commit is applied
// inside one MULTI/EXEC transaction guarded by a WATCH on the turn log, so
// the bundle lands all-or-nothing and re-commits of an already-logged turn
// number are no-ops.
type RedisPersistence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisPersistence(rdb redis.UniversalClient, ttl time.Duration) *RedisPersistence {
	return &RedisPersistence{rdb: rdb, ttl: ttl}
}

func (r *RedisPersistence) headerKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:header", conversationID)
}

func (r *RedisPersistence) stateKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:state", conversationID)
}

func (r *RedisPersistence) turnsKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:turns", conversationID)
}

func (r *RedisPersistence) coverageKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:coverage", conversationID)
}

// indexKey holds the set of known conversation IDs for the abandonment sweep.
const indexKey = "conversations"

func (r *RedisPersistence) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	raw, err := r.rdb.Get(ctx, r.headerKey(conversationID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation header")
		return nil, errx.WrapRedis(err)
	}
	var conv model.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

func (r *RedisPersistence) GetState(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	raw, err := r.rdb.Get(ctx, r.stateKey(conversationID)).Result()
	if err != nil {
		if err == redis.Nil {
			return model.NewConversationState(conversationID), nil
		}
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation state")
		return nil, errx.WrapRedis(err)
	}
	var state model.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", conversationID, err)
	}
	return &state, nil
}

func (r *RedisPersistence) CommitTurn(ctx context.Context, commit *model.TurnCommit) error {
	if commit == nil || commit.Turn == nil || commit.Conversation == nil || commit.State == nil {
		return fmt.Errorf("incomplete turn commit")
	}
	conversationID := commit.Turn.ConversationID

	turnJSON, err := json.Marshal(commit.Turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	convJSON, err := json.Marshal(commit.Conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	stateJSON, err := json.Marshal(commit.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	coverageJSON := make(map[string]string, len(commit.Coverage))
	for _, c := range commit.Coverage {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal coverage for %s: %w", c.Entity, err)
		}
		coverageJSON[c.Entity] = string(b)
	}

	turnsKey := r.turnsKey(conversationID)
	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		logged, err := tx.LLen(ctx, turnsKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if int(logged) >= commit.Turn.TurnNumber {
			// Already committed by an earlier attempt of the same request.
			logx.Debug().
				Str("conversation_id", conversationID).
				Int("turn_number", commit.Turn.TurnNumber).
				Msg("Turn already committed, treating retry as success")
			return nil
		}
		if int(logged) != commit.Turn.TurnNumber-1 {
			return fmt.Errorf("turn number %d would leave a gap after %d logged turns", commit.Turn.TurnNumber, logged)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, turnsKey, turnJSON)
			pipe.Set(ctx, r.headerKey(conversationID), convJSON, 0)
			pipe.Set(ctx, r.stateKey(conversationID), stateJSON, 0)
			for entity, blob := range coverageJSON {
				pipe.HSet(ctx, r.coverageKey(conversationID), entity, blob)
			}
			pipe.SAdd(ctx, indexKey, conversationID)
			return nil
		})
		return err
	}, turnsKey)
	if err != nil {
		logx.Error().Err(err).
			Str("conversation_id", conversationID).
			Int("turn_number", commit.Turn.TurnNumber).
			Msg("failed to commit turn")
		return errx.WrapRedis(err)
	}

	r.touch(ctx, conversationID)
	return nil
}

// touch extends the TTL on every key of the conversation. Expiry is a
// retention policy, not part of the atomic commit.
func (r *RedisPersistence) touch(ctx context.Context, conversationID string) {
	if r.ttl <= 0 {
		return
	}
	for _, key := range []string{
		r.headerKey(conversationID),
		r.stateKey(conversationID),
		r.turnsKey(conversationID),
		r.coverageKey(conversationID),
	} {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Warn().Err(err).Str("key", key).Msg("failed to set expire")
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on conversation key")
		}
	}
}

func (r *RedisPersistence) Turns(ctx context.Context, conversationID string, from, to int) ([]*model.Turn, error) {
	if from <= 0 {
		from = 1
	}
	stop := int64(to - 1)
	if to <= 0 {
		stop = -1
	}

	rows, err := r.rdb.LRange(ctx, r.turnsKey(conversationID), int64(from-1), stop).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load turn log")
		return nil, errx.WrapRedis(err)
	}

	turns := make([]*model.Turn, 0, len(rows))
	for i, raw := range rows {
		var t model.Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn at index %d: %w", i, err)
		}
		turns = append(turns, &t)
	}
	return turns, nil
}

func (r *RedisPersistence) Coverage(ctx context.Context, conversationID string) (map[string]*model.EntityCoverage, error) {
	rows, err := r.rdb.HGetAll(ctx, r.coverageKey(conversationID)).Result()
	if err != nil {
		if err == redis.Nil {
			return map[string]*model.EntityCoverage{}, nil
		}
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to load coverage records")
		return nil, errx.WrapRedis(err)
	}

	out := make(map[string]*model.EntityCoverage, len(rows))
	for entity, raw := range rows {
		var c model.EntityCoverage
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("unmarshal coverage for %s: %w", entity, err)
		}
		out[entity] = &c
	}
	return out, nil
}

// MarkAbandoned flips active conversations that have been idle longer than
// inactiveFor to abandoned and returns how many were flipped. The policy
// lives with the operator, not the engine core.
func (r *RedisPersistence) MarkAbandoned(ctx context.Context, inactiveFor time.Duration) (int, error) {
	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, errx.WrapRedis(err)
	}

	cutoff := time.Now().UTC().Add(-inactiveFor)
	flipped := 0
	for _, id := range ids {
		conv, err := r.GetConversation(ctx, id)
		if err != nil || conv == nil {
			continue
		}
		if conv.Status != model.StatusActive || conv.LastActiveAt.After(cutoff) {
			continue
		}
		conv.Status = model.StatusAbandoned
		blob, err := json.Marshal(conv)
		if err != nil {
			return flipped, fmt.Errorf("marshal conversation %s: %w", id, err)
		}
		if err := r.rdb.Set(ctx, r.headerKey(id), blob, redis.KeepTTL).Err(); err != nil {
			return flipped, errx.WrapRedis(err)
		}
		flipped++
	}
	if flipped > 0 {
		logx.Info().Int("count", flipped).Msg("Marked idle conversations abandoned")
	}
	return flipped, nil
}

var _ model.Persistence = (*RedisPersistence)(nil)
