// Package graphview translates one group's stored graph into the flat
// node/edge view model clients render. Queries are scoped by group_id
// only; nothing is traversed and nothing outside the group can leak
// into the view.
package graphview

import (
	"context"
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/graph"
	"github.com/graph-memory-service/internal/groupkey"
)

// Canvas bounds for synthesized positions.
const (
	canvasWidth  = 800
	canvasHeight = 600
)

// Reader is the store surface the translator needs.
type Reader interface {
	ListEntities(ctx context.Context, groupID string) ([]graph.Entity, error)
	ListRelations(ctx context.Context, groupID string) ([]graph.Relation, error)
}

// Position is a synthesized layout coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries the display label.
type NodeData struct {
	Label string `json:"label"`
}

// ViewNode is one renderable node.
type ViewNode struct {
	ID       string   `json:"id"`
	Data     NodeData `json:"data"`
	Position Position `json:"position"`
}

// ViewEdge is one renderable edge.
type ViewEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// View is the complete render payload. Both slices are always non-nil
// so an empty graph serializes as empty lists.
type View struct {
	Nodes []ViewNode `json:"nodes"`
	Edges []ViewEdge `json:"edges"`
}

// Translator renders group graphs.
type Translator struct {
	reader Reader
	logger *zap.Logger
}

// New creates a translator.
func New(reader Reader, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{reader: reader, logger: logger}
}

// Render builds the view model for the (user, category) group. A group
// with no data yields empty lists, not an error.
func (t *Translator) Render(ctx context.Context, userID, category string) (*View, error) {
	key, err := groupkey.New(userID, category)
	if err != nil {
		return nil, err
	}

	entities, err := t.reader.ListEntities(ctx, key.ID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	relations, err := t.reader.ListRelations(ctx, key.ID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}

	view := &View{
		Nodes: make([]ViewNode, 0, len(entities)),
		Edges: make([]ViewEdge, 0, len(relations)),
	}

	known := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		known[e.UID] = struct{}{}
		view.Nodes = append(view.Nodes, ViewNode{
			ID:       e.UID,
			Data:     NodeData{Label: e.Name},
			Position: positionFor(e.UID),
		})
	}

	for _, r := range relations {
		if _, ok := known[r.SourceUID]; !ok {
			continue
		}
		if _, ok := known[r.TargetUID]; !ok {
			continue
		}
		view.Edges = append(view.Edges, ViewEdge{
			ID:     r.UID,
			Source: r.SourceUID,
			Target: r.TargetUID,
			Label:  r.Label,
		})
	}

	t.logger.Debug("graph rendered",
		zap.String("group_id", key.ID),
		zap.Int("nodes", len(view.Nodes)),
		zap.Int("edges", len(view.Edges)))

	return view, nil
}

// positionFor derives a stable coordinate from the node identity so an
// unchanged graph renders in the same place every time.
func positionFor(uid string) Position {
	h := fnv.New64a()
	h.Write([]byte(uid))
	sum := h.Sum64()
	return Position{
		X: float64(sum % canvasWidth),
		Y: float64((sum >> 16) % canvasHeight),
	}
}
