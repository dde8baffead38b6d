package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/graph-memory-service/internal/jsonx"
	"github.com/graph-memory-service/internal/memerr"
)

// relationRow is the raw DQL shape of a Relation with its expanded
// endpoints.
type relationRow struct {
	UID       string    `json:"uid"`
	GroupID   string    `json:"group_id"`
	Label     string    `json:"relation_label"`
	Fact      string    `json:"fact"`
	CreatedAt time.Time `json:"created_at"`
	Source    []struct {
		UID  string `json:"uid"`
		Name string `json:"name"`
	} `json:"source_entity"`
	Target []struct {
		UID  string `json:"uid"`
		Name string `json:"name"`
	} `json:"target_entity"`
}

func (r relationRow) toRelation() Relation {
	rel := Relation{
		UID:       r.UID,
		GroupID:   r.GroupID,
		Label:     r.Label,
		Fact:      r.Fact,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Source) > 0 {
		rel.SourceUID = r.Source[0].UID
		rel.Source = r.Source[0].Name
	}
	if len(r.Target) > 0 {
		rel.TargetUID = r.Target[0].UID
		rel.Target = r.Target[0].Name
	}
	return rel
}

const relationFields = `
	uid
	group_id
	relation_label
	fact
	created_at
	source_entity { uid name }
	target_entity { uid name }
`

// FindEntityUID returns the UID of the entity with the exact name in
// the group, or "" when absent. Absence is not an error.
func (s *Store) FindEntityUID(ctx context.Context, groupID, name string) (string, error) {
	query := `query FindEntity($group: string, $name: string) {
		entity(func: eq(name, $name)) @filter(type(Entity) AND eq(group_id, $group)) {
			uid
		}
	}`

	vars := map[string]string{"$group": groupID, "$name": name}
	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return "", memerr.NewUpstream("dgraph", "find entity", err)
	}

	var result struct {
		Entity []struct {
			UID string `json:"uid"`
		} `json:"entity"`
	}
	if err := jsonx.Unmarshal(resp.Json, &result); err != nil {
		return "", fmt.Errorf("unmarshal entity lookup: %w", err)
	}
	if len(result.Entity) == 0 {
		return "", nil
	}
	return result.Entity[0].UID, nil
}

// findRelationUID looks for an identical relation in the group so
// repeat ingestion of the same text does not duplicate edges.
func (s *Store) findRelationUID(ctx context.Context, rel *Relation) (string, error) {
	query := fmt.Sprintf(`query FindRelation($group: string, $label: string) {
		relation(func: eq(relation_label, $label)) @filter(
			type(Relation) AND eq(group_id, $group) AND
			uid_in(source_entity, %s) AND uid_in(target_entity, %s)) {
			uid
			fact
		}
	}`, rel.SourceUID, rel.TargetUID)

	vars := map[string]string{
		"$group": rel.GroupID,
		"$label": rel.Label,
	}
	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, vars)
	if err != nil {
		return "", memerr.NewUpstream("dgraph", "find relation", err)
	}

	var result struct {
		Relation []struct {
			UID  string `json:"uid"`
			Fact string `json:"fact"`
		} `json:"relation"`
	}
	if err := jsonx.Unmarshal(resp.Json, &result); err != nil {
		return "", fmt.Errorf("unmarshal relation lookup: %w", err)
	}
	for _, r := range result.Relation {
		if r.Fact == rel.Fact {
			return r.UID, nil
		}
	}
	return "", nil
}

// RelationsByUIDs hydrates the given relation UIDs, keeping only rows
// that belong to the group. Order of the result is unspecified.
func (s *Store) RelationsByUIDs(ctx context.Context, groupID string, uids []string) ([]Relation, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`query RelationsByUID($group: string) {
		relations(func: uid(%s)) @filter(type(Relation) AND eq(group_id, $group)) {%s}
	}`, strings.Join(uids, ","), relationFields)

	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$group": groupID})
	if err != nil {
		return nil, memerr.NewUpstream("dgraph", "hydrate relations", err)
	}

	var result struct {
		Relations []relationRow `json:"relations"`
	}
	if err := jsonx.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal relations: %w", err)
	}

	out := make([]Relation, 0, len(result.Relations))
	for _, row := range result.Relations {
		out = append(out, row.toRelation())
	}
	return out, nil
}

// ListEntities returns every entity in the group.
func (s *Store) ListEntities(ctx context.Context, groupID string) ([]Entity, error) {
	query := `query ListEntities($group: string) {
		entities(func: type(Entity)) @filter(eq(group_id, $group)) {
			uid
			name
			group_id
			created_at
		}
	}`

	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$group": groupID})
	if err != nil {
		return nil, memerr.NewUpstream("dgraph", "list entities", err)
	}

	var result struct {
		Entities []Entity `json:"entities"`
	}
	if err := jsonx.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal entities: %w", err)
	}
	return result.Entities, nil
}

// ListRelations returns every relation in the group with endpoint
// names expanded.
func (s *Store) ListRelations(ctx context.Context, groupID string) ([]Relation, error) {
	query := fmt.Sprintf(`query ListRelations($group: string) {
		relations(func: type(Relation)) @filter(eq(group_id, $group)) {%s}
	}`, relationFields)

	resp, err := s.dg.NewReadOnlyTxn().QueryWithVars(ctx, query, map[string]string{"$group": groupID})
	if err != nil {
		return nil, memerr.NewUpstream("dgraph", "list relations", err)
	}

	var result struct {
		Relations []relationRow `json:"relations"`
	}
	if err := jsonx.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("unmarshal relations: %w", err)
	}

	out := make([]Relation, 0, len(result.Relations))
	for _, row := range result.Relations {
		out = append(out, row.toRelation())
	}
	return out, nil
}
