// Package factindex maintains a full-text index over fact sentences.
// Retrieval queries it first to get scored relation UIDs, then hydrates
// the winners from the graph store. Every document carries its group so
// a search can never cross partitions.
package factindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// Config holds settings for the fact index.
type Config struct {
	Path     string
	InMemory bool
}

// DefaultConfig returns the on-disk defaults.
func DefaultConfig() Config {
	return Config{Path: "./data/factindex.bleve"}
}

// Doc is one indexed fact sentence. The document ID is the relation
// UID in the graph store.
type Doc struct {
	UID       string `json:"uid"`
	GroupID   string `json:"group_id"`
	Fact      string `json:"fact"`
	CreatedAt string `json:"created_at"`
}

// Hit is one scored search result.
type Hit struct {
	UID   string
	Score float64
}

// Index wraps the bleve index with group-scoped operations.
type Index struct {
	index  bleve.Index
	logger *zap.Logger
	mu     sync.RWMutex
}

// New opens or creates the index at cfg.Path, or an in-memory index
// when cfg.InMemory is set.
func New(cfg Config, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var idx bleve.Index
	var err error
	if cfg.InMemory {
		idx, err = bleve.NewMemOnly(buildMapping())
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(cfg.Path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(cfg.Path, buildMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open fact index: %w", err)
	}

	logger.Info("fact index opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory))

	return &Index{index: idx, logger: logger}, nil
}

func buildMapping() mapping.IndexMapping {
	factDoc := bleve.NewDocumentMapping()

	factField := bleve.NewTextFieldMapping()
	factField.Index = true
	factField.Store = true
	factField.IncludeInAll = true
	factDoc.AddFieldMappingsAt("fact", factField)

	groupField := bleve.NewKeywordFieldMapping()
	groupField.Index = true
	groupField.Store = true
	groupField.IncludeInAll = false
	factDoc.AddFieldMappingsAt("group_id", groupField)

	uidField := bleve.NewKeywordFieldMapping()
	uidField.Index = true
	uidField.Store = true
	uidField.IncludeInAll = false
	factDoc.AddFieldMappingsAt("uid", uidField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = factDoc
	im.DefaultAnalyzer = "standard"
	return im
}

// Add indexes or reindexes one fact document.
func (fi *Index) Add(ctx context.Context, doc Doc) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.index.Index(doc.UID, doc); err != nil {
		return fmt.Errorf("index fact %s: %w", doc.UID, err)
	}
	fi.logger.Debug("indexed fact",
		zap.String("uid", doc.UID),
		zap.String("group_id", doc.GroupID))
	return nil
}

// AddBatch indexes several fact documents in one batch.
func (fi *Index) AddBatch(ctx context.Context, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	batch := fi.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.UID, doc); err != nil {
			fi.logger.Warn("failed to add fact to batch",
				zap.String("uid", doc.UID),
				zap.Error(err))
		}
	}
	if err := fi.index.Batch(batch); err != nil {
		return fmt.Errorf("batch index facts: %w", err)
	}
	return nil
}

// Search runs a relevance query for the question within one group and
// returns scored relation UIDs, highest score first.
func (fi *Index) Search(ctx context.Context, groupID, question string, limit int) ([]Hit, error) {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	start := time.Now()

	matchQuery := bleve.NewMatchQuery(question)
	matchQuery.SetField("fact")

	groupQuery := query.NewTermQuery(groupID)
	groupQuery.SetField("group_id")

	conj := query.NewConjunctionQuery([]query.Query{matchQuery, groupQuery})

	req := bleve.NewSearchRequest(conj)
	req.Size = limit
	req.Fields = []string{"uid", "group_id"}

	result, err := fi.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fact search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		uid := hit.ID
		if u, ok := hit.Fields["uid"].(string); ok && u != "" {
			uid = u
		}
		hits = append(hits, Hit{UID: uid, Score: hit.Score})
	}

	fi.logger.Debug("fact search completed",
		zap.String("group_id", groupID),
		zap.Int("hits", len(hits)),
		zap.Duration("duration", time.Since(start)))

	return hits, nil
}

// Delete removes one fact document.
func (fi *Index) Delete(ctx context.Context, uid string) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if err := fi.index.Delete(uid); err != nil {
		return fmt.Errorf("delete fact %s: %w", uid, err)
	}
	return nil
}

// Close releases the index.
func (fi *Index) Close() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.index.Close()
}
