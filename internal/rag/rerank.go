package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/llm"
)

// Blend weights for lexical and semantic relevance.
const (
	lexicalWeight  = 0.6
	semanticWeight = 0.4
)

// WithReranker attaches an embedder used to blend semantic similarity
// into the retrieval scores. Without one, ordering is purely lexical.
func (o *Orchestrator) WithReranker(embedder llm.Embedder) *Orchestrator {
	o.embedder = embedder
	return o
}

// rerank re-scores facts by combining the index's lexical score with
// cosine similarity between the question and each fact sentence.
// Embedding failures fall back to the lexical ordering; reranking is an
// enhancement, not a required stage.
func (o *Orchestrator) rerank(ctx context.Context, question string, scored []ScoredFact) []ScoredFact {
	if o.embedder == nil || len(scored) == 0 {
		return scored
	}

	qvec, err := o.embedder.Embed(ctx, question)
	if err != nil {
		o.logger.Warn("question embedding failed, keeping lexical order", zap.Error(err))
		return scored
	}

	var maxLexical float64
	for _, sf := range scored {
		if sf.Score > maxLexical {
			maxLexical = sf.Score
		}
	}
	if maxLexical == 0 {
		maxLexical = 1
	}

	out := make([]ScoredFact, len(scored))
	for i, sf := range scored {
		out[i] = sf
		fvec, err := o.embedder.Embed(ctx, sf.Fact.Fact)
		if err != nil {
			o.logger.Warn("fact embedding failed, keeping lexical order", zap.Error(err))
			return scored
		}
		// Vectors are normalized; the dot product is the cosine.
		similarity := (dot(qvec, fvec) + 1) / 2
		out[i].Score = lexicalWeight*(sf.Score/maxLexical) + semanticWeight*similarity
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
