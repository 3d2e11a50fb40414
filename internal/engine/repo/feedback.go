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

// RedisFeedbackSink appends feedback records to a per-conversation list.
// Nothing in the engine reads them back; monitoring does.
type RedisFeedbackSink struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisFeedbackSink(rdb redis.UniversalClient, ttl time.Duration) *RedisFeedbackSink {
	return &RedisFeedbackSink{rdb: rdb, ttl: ttl}
}

func (s *RedisFeedbackSink) feedbackKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:feedback", conversationID)
}

func (s *RedisFeedbackSink) Record(ctx context.Context, fb *model.Feedback) error {
	if fb == nil {
		return fmt.Errorf("nil feedback")
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	b, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	key := s.feedbackKey(fb.ConversationID)
	if err := s.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push feedback")
		return errx.WrapRedis(err)
	}
	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
			logx.Warn().Err(err).Str("key", key).Msg("failed to set expire on feedback")
		}
	}
	return nil
}

var _ model.FeedbackSink = (*RedisFeedbackSink)(nil)
