package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/factindex"
	"github.com/graph-memory-service/internal/graph"
	"github.com/graph-memory-service/internal/groupkey"
	"github.com/graph-memory-service/internal/memerr"
)

// AddResult is the outcome of one ingestion call.
type AddResult struct {
	Success     bool      `json:"success"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	GroupID     string    `json:"group_id"`
	EpisodeUUID string    `json:"episode_uuid,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// AddKnowledge runs the ingestion pipeline: validate, extract, write
// the episode and its triples, index the fact sentences, then signal
// subscribers. Validation failures return a ValidationError before any
// store access. Upstream failures return a failed AddResult with a
// sanitized message; they never panic or kill the process. The
// graph_updated signal fires only after the mutations have committed.
func (s *Service) AddKnowledge(ctx context.Context, text, userID, category, sourceDescription string) (*AddResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, memerr.NewValidation("text", "must not be empty")
	}

	key, err := groupkey.New(userID, category)
	if err != nil {
		return nil, err
	}

	failed := func(err error) *AddResult {
		s.logger.Error("ingestion failed",
			zap.String("group_id", key.ID),
			zap.Error(err))
		return &AddResult{
			Success:  false,
			UserID:   key.UserID,
			Category: key.Category,
			GroupID:  key.ID,
			Error:    memerr.Sanitize(err),
		}
	}

	triples, err := s.extractor.Extract(ctx, text)
	if err != nil {
		return failed(fmt.Errorf("extract: %w", err)), nil
	}

	episode := &graph.Episode{
		EpisodeUUID:       uuid.New().String(),
		GroupID:           key.ID,
		Body:              text,
		SourceDescription: sourceDescription,
		CreatedAt:         time.Now().UTC(),
	}
	if _, err := s.store.CreateEpisode(ctx, episode); err != nil {
		return failed(fmt.Errorf("write episode: %w", err)), nil
	}

	var docs []factindex.Doc
	for _, t := range triples {
		srcUID, err := s.store.EnsureEntity(ctx, key.ID, t.Source)
		if err != nil {
			return failed(fmt.Errorf("merge entity %q: %w", t.Source, err)), nil
		}
		tgtUID, err := s.store.EnsureEntity(ctx, key.ID, t.Target)
		if err != nil {
			return failed(fmt.Errorf("merge entity %q: %w", t.Target, err)), nil
		}

		rel := &graph.Relation{
			GroupID:   key.ID,
			SourceUID: srcUID,
			TargetUID: tgtUID,
			Source:    t.Source,
			Target:    t.Target,
			Label:     t.Relation,
			Fact:      t.Fact,
			CreatedAt: episode.CreatedAt,
		}
		relUID, created, err := s.store.EnsureRelation(ctx, rel)
		if err != nil {
			return failed(fmt.Errorf("merge relation %q: %w", t.Relation, err)), nil
		}
		if created {
			docs = append(docs, factindex.Doc{
				UID:       relUID,
				GroupID:   key.ID,
				Fact:      t.Fact,
				CreatedAt: episode.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	if err := s.index.AddBatch(ctx, docs); err != nil {
		// Graph commit already happened; losing index entries degrades
		// recall but must not fail the write.
		s.logger.Warn("fact indexing failed after commit",
			zap.String("group_id", key.ID),
			zap.Error(err))
	}

	s.cacheRecentEpisode(ctx, key.ID, episode)

	if s.notifier != nil {
		s.notifier.NotifyGraphUpdated(ctx)
	}

	s.logger.Info("knowledge added",
		zap.String("group_id", key.ID),
		zap.String("episode_uuid", episode.EpisodeUUID),
		zap.Int("triples", len(triples)))

	return &AddResult{
		Success:     true,
		UserID:      key.UserID,
		Category:    key.Category,
		GroupID:     key.ID,
		EpisodeUUID: episode.EpisodeUUID,
		Timestamp:   episode.CreatedAt,
	}, nil
}
