// Package rag answers questions grounded in a group's stored facts.
// The flow is strict: retrieve, dedupe, order, format, generate. Any
// stage failing fails the whole call; a partial answer is never
// returned.
package rag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/groupkey"
	"github.com/graph-memory-service/internal/llm"
	"github.com/graph-memory-service/internal/memerr"
)

const (
	// contextSeparator joins fact sentences into the grounding block.
	contextSeparator = ". "
	// noFactsPlaceholder stands in for the context when retrieval
	// finds nothing. The model is told to admit the gap.
	noFactsPlaceholder = "No relevant facts found in memory."
	// defaultLimit caps retrieval breadth per question.
	defaultLimit = 20
)

// Fact is one retrieved statement in the response projection.
type Fact struct {
	Source    string    `json:"source"`
	Relation  string    `json:"relation"`
	Target    string    `json:"target"`
	Fact      string    `json:"fact"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredFact pairs a fact with its retrieval relevance.
type ScoredFact struct {
	Fact
	Score float64
}

// Answer is the result of one question.
type Answer struct {
	Answer         string `json:"answer"`
	RetrievedFacts []Fact `json:"retrieved_facts"`
}

// Retriever fetches scored facts for a question within one group.
type Retriever interface {
	Retrieve(ctx context.Context, groupID, question string, limit int) ([]ScoredFact, error)
}

// Orchestrator coordinates retrieval and grounded generation.
type Orchestrator struct {
	retriever Retriever
	chat      llm.ChatClient
	embedder  llm.Embedder
	logger    *zap.Logger
	limit     int
}

// New creates an orchestrator.
func New(retriever Retriever, chat llm.ChatClient, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		retriever: retriever,
		chat:      chat,
		logger:    logger,
		limit:     defaultLimit,
	}
}

const groundingSystemPrompt = `You answer questions using ONLY the facts provided in the context. ` +
	`If the context says no relevant facts were found, say you do not have that information stored. ` +
	`Never invent facts. Answer in plain prose, no markdown.`

// Answer runs the full flow for one question.
func (o *Orchestrator) Answer(ctx context.Context, question, userID, category string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, memerr.NewValidation("question", "must not be empty")
	}

	key, err := groupkey.New(userID, category)
	if err != nil {
		return nil, err
	}

	scored, err := o.retriever.Retrieve(ctx, key.ID, question, o.limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve facts: %w", err)
	}
	scored = o.rerank(ctx, question, scored)

	facts := prepareFacts(scored)
	contextBlock := formatContext(facts)

	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, question)
	reply, err := o.chat.Complete(ctx, []llm.ChatMessage{
		{Role: "system", Content: groundingSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	o.logger.Debug("question answered",
		zap.String("group_id", key.ID),
		zap.Int("facts", len(facts)))

	return &Answer{
		Answer:         cleanResponse(reply),
		RetrievedFacts: facts,
	}, nil
}

// prepareFacts dedupes on the full fact identity keeping the highest
// score, then orders by score descending with creation time ascending
// as the tiebreaker.
func prepareFacts(scored []ScoredFact) []Fact {
	type slot struct {
		fact  ScoredFact
		order int
	}
	best := make(map[string]slot, len(scored))
	for i, sf := range scored {
		k := sf.Source + "\x00" + sf.Relation + "\x00" + sf.Target + "\x00" + sf.Fact.Fact
		if prev, ok := best[k]; !ok || sf.Score > prev.fact.Score {
			keepOrder := i
			if ok {
				keepOrder = prev.order
			}
			best[k] = slot{fact: sf, order: keepOrder}
		}
	}

	slots := make([]slot, 0, len(best))
	for _, s := range best {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].fact.Score != slots[j].fact.Score {
			return slots[i].fact.Score > slots[j].fact.Score
		}
		if !slots[i].fact.CreatedAt.Equal(slots[j].fact.CreatedAt) {
			return slots[i].fact.CreatedAt.Before(slots[j].fact.CreatedAt)
		}
		return slots[i].order < slots[j].order
	})

	facts := make([]Fact, len(slots))
	for i, s := range slots {
		facts[i] = s.fact.Fact
	}
	return facts
}

// formatContext joins the fact sentences with the fixed separator.
func formatContext(facts []Fact) string {
	if len(facts) == 0 {
		return noFactsPlaceholder
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for i, f := range facts {
		if i > 0 {
			buf.WriteString(contextSeparator)
		}
		buf.WriteString(strings.TrimSuffix(strings.TrimSpace(f.Fact), "."))
	}
	buf.WriteString(".")
	return buf.String()
}

var (
	markupChars   = regexp.MustCompile("[*_`#]+")
	spaceRun      = regexp.MustCompile(`[ \t]+`)
	blankLineRuns = regexp.MustCompile(`\n{2,}`)
)

// cleanResponse strips markdown leftovers and collapses whitespace so
// clients receive plain prose.
func cleanResponse(s string) string {
	s = markupChars.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, " ")
	s = blankLineRuns.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
