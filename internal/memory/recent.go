package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/graph"
	"github.com/graph-memory-service/internal/groupkey"
	"github.com/graph-memory-service/internal/jsonx"
)

const (
	recentKeyPrefix = "recent:"
	recentKeep      = 10
	recentTTL       = 24 * time.Hour
)

// cacheRecentEpisode keeps the last few episodes per group in Redis
// for quick context peeks. Strictly best effort: any failure is logged
// and ingestion continues.
func (s *Service) cacheRecentEpisode(ctx context.Context, groupID string, ep *graph.Episode) {
	if s.recent == nil {
		return
	}

	payload, err := jsonx.Marshal(ep)
	if err != nil {
		s.logger.Warn("marshal recent episode", zap.Error(err))
		return
	}

	key := recentKeyPrefix + groupID
	pipe := s.recent.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, recentKeep-1)
	pipe.Expire(ctx, key, recentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("recent episode cache update failed",
			zap.String("group_id", groupID),
			zap.Error(err))
	}
}

// RecentEpisodes returns the cached recent episodes for the (user,
// category) group, newest first. Empty when the cache is disabled or
// holds nothing for the group.
func (s *Service) RecentEpisodes(ctx context.Context, userID, category string) ([]graph.Episode, error) {
	key, err := groupkey.New(userID, category)
	if err != nil {
		return nil, err
	}
	if s.recent == nil {
		return []graph.Episode{}, nil
	}

	raw, err := s.recent.LRange(ctx, recentKeyPrefix+key.ID, 0, recentKeep-1).Result()
	if err != nil {
		s.logger.Warn("recent episode cache read failed",
			zap.String("group_id", key.ID),
			zap.Error(err))
		return []graph.Episode{}, nil
	}

	episodes := make([]graph.Episode, 0, len(raw))
	for _, item := range raw {
		var ep graph.Episode
		if err := jsonx.UnmarshalFromString(item, &ep); err != nil {
			continue
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}
