// Package graph provides the DGraph-backed knowledge store. All reads
// and writes are scoped by group_id; the store never follows an edge
// out of the caller's group.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/dgo/v240"
	"github.com/dgraph-io/dgo/v240/protos/api"
	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for the DGraph store.
type Config struct {
	Address        string
	MaxRetries     int
	RetryInterval  time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a local Alpha.
func DefaultConfig() Config {
	return Config{
		Address:        "localhost:9080",
		MaxRetries:     5,
		RetryInterval:  2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Store wraps the DGraph client with the group-scoped operations the
// memory service needs, plus a lookup cache for entity merges.
type Store struct {
	conn     *grpc.ClientConn
	dg       *dgo.Dgraph
	logger   *zap.Logger
	uidCache *ristretto.Cache[string, string]
	mu       sync.Mutex
	closed   bool
}

// timeoutInterceptor enforces a per-call deadline so a slow query can
// never block a request indefinitely.
func timeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// NewStore dials DGraph with retries, applies the schema, and returns a
// ready store.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	var conn *grpc.ClientConn
	var err error

	for i := 0; i < cfg.MaxRetries; i++ {
		conn, err = grpc.DialContext(ctx, cfg.Address,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
			grpc.WithUnaryInterceptor(timeoutInterceptor(cfg.RequestTimeout)),
		)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to DGraph, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to DGraph after %d attempts: %w", cfg.MaxRetries, err)
	}

	uidCache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 100_000,
		MaxCost:     10 << 20,
		BufferItems: 64,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create uid cache: %w", err)
	}

	s := &Store{
		conn:     conn,
		dg:       dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		logger:   logger,
		uidCache: uidCache,
	}

	if err := s.initSchema(ctx); err != nil {
		uidCache.Close()
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logger.Info("DGraph store connected", zap.String("address", cfg.Address))
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	op := &api.Operation{Schema: schema}
	if err := s.dg.Alter(ctx, op); err != nil {
		return fmt.Errorf("alter schema: %w", err)
	}
	s.logger.Info("DGraph schema applied")
	return nil
}

// Close releases the cache and the gRPC connection. Safe to call more
// than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.uidCache != nil {
		s.uidCache.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func entityCacheKey(groupID, name string) string {
	return groupID + "\x00" + name
}
