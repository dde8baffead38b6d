package memory

import (
	"context"
	"fmt"

	"github.com/graph-memory-service/internal/memerr"
	"github.com/graph-memory-service/internal/rag"
)

// storeRetriever implements rag.Retriever over the fact index and the
// graph store: the index supplies relevance-scored relation UIDs, the
// store hydrates them into full facts.
type storeRetriever struct {
	index FactIndexer
	store GraphStore
}

func (r *storeRetriever) Retrieve(ctx context.Context, groupID, question string, limit int) ([]rag.ScoredFact, error) {
	hits, err := r.index.Search(ctx, groupID, question, limit)
	if err != nil {
		return nil, memerr.NewUpstream("factindex", "search", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	scores := make(map[string]float64, len(hits))
	uids := make([]string, 0, len(hits))
	for _, h := range hits {
		uids = append(uids, h.UID)
		scores[h.UID] = h.Score
	}

	relations, err := r.store.RelationsByUIDs(ctx, groupID, uids)
	if err != nil {
		return nil, fmt.Errorf("hydrate relations: %w", err)
	}

	// Preserve the index's score order; hydration order is
	// unspecified.
	byUID := make(map[string]int, len(relations))
	for i, rel := range relations {
		byUID[rel.UID] = i
	}

	out := make([]rag.ScoredFact, 0, len(relations))
	for _, uid := range uids {
		i, ok := byUID[uid]
		if !ok {
			// Indexed but gone from the store; skip stale entries.
			continue
		}
		rel := relations[i]
		out = append(out, rag.ScoredFact{
			Fact: rag.Fact{
				Source:    rel.Source,
				Relation:  rel.Label,
				Target:    rel.Target,
				Fact:      rel.Fact,
				CreatedAt: rel.CreatedAt,
			},
			Score: scores[uid],
		})
	}
	return out, nil
}
