// Package memory provides the single shared service handle. It owns
// the graph store, the fact index, the model clients, and the change
// hub, and exposes the ingestion, answering, and rendering operations
// the HTTP layer calls. Exactly one Service exists per process and is
// passed explicitly to whoever needs it.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/broadcast"
	"github.com/graph-memory-service/internal/config"
	"github.com/graph-memory-service/internal/extraction"
	"github.com/graph-memory-service/internal/factindex"
	"github.com/graph-memory-service/internal/graph"
	"github.com/graph-memory-service/internal/graphview"
	"github.com/graph-memory-service/internal/llm"
	"github.com/graph-memory-service/internal/rag"
)

// GraphStore is the store surface the service depends on.
type GraphStore interface {
	CreateEpisode(ctx context.Context, ep *graph.Episode) (string, error)
	EnsureEntity(ctx context.Context, groupID, name string) (string, error)
	EnsureRelation(ctx context.Context, rel *graph.Relation) (string, bool, error)
	RelationsByUIDs(ctx context.Context, groupID string, uids []string) ([]graph.Relation, error)
	ListEntities(ctx context.Context, groupID string) ([]graph.Entity, error)
	ListRelations(ctx context.Context, groupID string) ([]graph.Relation, error)
	Close() error
}

// FactIndexer is the index surface the service depends on.
type FactIndexer interface {
	AddBatch(ctx context.Context, docs []factindex.Doc) error
	Search(ctx context.Context, groupID, question string, limit int) ([]factindex.Hit, error)
	Close() error
}

// Notifier receives the post-commit change signal.
type Notifier interface {
	NotifyGraphUpdated(ctx context.Context)
}

// Service is the shared resource handle.
type Service struct {
	logger    *zap.Logger
	store     GraphStore
	index     FactIndexer
	extractor extraction.Extractor
	notifier  Notifier
	answerer  *rag.Orchestrator
	renderer  *graphview.Translator
	docs      *DocumentRegistry
	recent    *redis.Client
	hub       *broadcast.Hub
	mirror    *broadcast.NATSPublisher

	mu     sync.Mutex
	closed bool
}

// New wires a Service from already-constructed parts. Used directly by
// tests; production code goes through Initialize.
func New(store GraphStore, index FactIndexer, extractor extraction.Extractor,
	chat llm.ChatClient, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		logger:    logger,
		store:     store,
		index:     index,
		extractor: extractor,
		notifier:  notifier,
		docs:      NewDocumentRegistry(),
	}
	s.answerer = rag.New(&storeRetriever{index: index, store: store}, chat, logger)
	s.renderer = graphview.New(store, logger)
	if hub, ok := notifier.(*broadcast.Hub); ok {
		s.hub = hub
	}
	return s
}

// Initialize constructs the full production handle: DGraph store,
// fact index, model clients, broadcast hub, and the optional Redis and
// NATS attachments. Failure of a required resource tears down whatever
// was already opened.
func Initialize(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Service, error) {
	store, err := graph.NewStore(ctx, graph.Config{
		Address:        cfg.Graph.Address,
		MaxRetries:     cfg.Graph.MaxRetries,
		RetryInterval:  cfg.Graph.RetryInterval,
		RequestTimeout: cfg.Graph.RequestTimeout,
	}, logger.Named("graph"))
	if err != nil {
		return nil, fmt.Errorf("graph store: %w", err)
	}

	index, err := factindex.New(factindex.Config{Path: cfg.FactIndex.Path}, logger.Named("factindex"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("fact index: %w", err)
	}

	chat := llm.NewClient(llm.ChatConfig{
		BaseURL:     cfg.Model.ChatBaseURL,
		APIKey:      cfg.Model.APIKey,
		Model:       cfg.Model.ChatModel,
		Timeout:     cfg.Model.Timeout,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	}, logger.Named("chat"))

	var mirror *broadcast.NATSPublisher
	if cfg.NATS.URL != "" {
		mirror, err = broadcast.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger.Named("nats"))
		if err != nil {
			index.Close()
			store.Close()
			return nil, fmt.Errorf("nats mirror: %w", err)
		}
	}

	var hub *broadcast.Hub
	if mirror != nil {
		hub = broadcast.NewHub(mirror, logger.Named("hub"))
	} else {
		hub = broadcast.NewHub(nil, logger.Named("hub"))
	}

	extractor := extraction.NewLLMExtractor(chat, logger.Named("extraction"))

	s := New(store, index, extractor, chat, hub, logger)
	s.hub = hub
	s.mirror = mirror

	if cfg.Model.EmbedBaseURL != "" {
		embedder := llm.NewOllamaEmbedder(llm.EmbedConfig{
			BaseURL: cfg.Model.EmbedBaseURL,
			Model:   cfg.Model.EmbedModel,
			Timeout: cfg.Model.Timeout,
		}, logger.Named("embedder"))
		s.answerer.WithReranker(embedder)
	}

	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, recent-episode cache disabled", zap.Error(err))
			client.Close()
		} else {
			s.recent = client
		}
	}

	logger.Info("memory service initialized")
	return s, nil
}

// Hub returns the change hub for websocket attachment. Nil when the
// Service was built with New and a different notifier.
func (s *Service) Hub() *broadcast.Hub { return s.hub }

// Documents returns the upload registry so callers can register
// additional media types.
func (s *Service) Documents() *DocumentRegistry { return s.docs }

// Answer runs the retrieval-generation flow for one question.
func (s *Service) Answer(ctx context.Context, question, userID, category string) (*rag.Answer, error) {
	return s.answerer.Answer(ctx, question, userID, category)
}

// RenderGraph produces the view model for one group's graph.
func (s *Service) RenderGraph(ctx context.Context, userID, category string) (*graphview.View, error) {
	return s.renderer.Render(ctx, userID, category)
}

// Close releases every resource. Best effort: each failure is logged
// and the teardown continues. Safe to call more than once.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	if s.hub != nil {
		s.hub.Close()
	}
	if s.mirror != nil {
		s.mirror.Close()
	}
	if s.recent != nil {
		if err := s.recent.Close(); err != nil {
			s.logger.Warn("closing redis client", zap.Error(err))
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Warn("closing fact index", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing graph store", zap.Error(err))
		}
	}
	s.logger.Info("memory service closed")
}
