package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/dgo/v240/protos/api"
	"go.uber.org/zap"
)

// CreateEpisode writes one immutable episode node and returns its UID.
func (s *Store) CreateEpisode(ctx context.Context, ep *Episode) (string, error) {
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	blank := fmt.Sprintf("_:episode_%d", time.Now().UnixNano())

	var nquads strings.Builder
	nquads.WriteString(fmt.Sprintf("%s <dgraph.type> \"Episode\" .\n", blank))
	nquads.WriteString(fmt.Sprintf("%s <episode_uuid> %q .\n", blank, ep.EpisodeUUID))
	nquads.WriteString(fmt.Sprintf("%s <group_id> %q .\n", blank, ep.GroupID))
	nquads.WriteString(fmt.Sprintf("%s <body> %q .\n", blank, ep.Body))
	if ep.SourceDescription != "" {
		nquads.WriteString(fmt.Sprintf("%s <source_description> %q .\n", blank, ep.SourceDescription))
	}
	nquads.WriteString(fmt.Sprintf("%s <created_at> \"%s\"^^<xs:dateTime> .\n",
		blank, ep.CreatedAt.Format(time.RFC3339)))

	uid, err := s.mutateForUID(ctx, nquads.String(), blank[2:])
	if err != nil {
		return "", fmt.Errorf("create episode: %w", err)
	}

	s.logger.Debug("created episode",
		zap.String("uid", uid),
		zap.String("episode_uuid", ep.EpisodeUUID),
		zap.String("group_id", ep.GroupID))
	return uid, nil
}

// EnsureEntity returns the UID of the named entity within the group,
// creating it if absent. The lookup cache short-circuits repeat merges
// of the same name; the store query remains authoritative on miss.
func (s *Store) EnsureEntity(ctx context.Context, groupID, name string) (string, error) {
	key := entityCacheKey(groupID, name)
	if uid, ok := s.uidCache.Get(key); ok {
		return uid, nil
	}

	uid, err := s.FindEntityUID(ctx, groupID, name)
	if err != nil {
		return "", err
	}
	if uid == "" {
		uid, err = s.createEntity(ctx, groupID, name)
		if err != nil {
			return "", err
		}
	}

	s.uidCache.Set(key, uid, int64(len(key)+len(uid)))
	return uid, nil
}

func (s *Store) createEntity(ctx context.Context, groupID, name string) (string, error) {
	blank := fmt.Sprintf("_:entity_%d", time.Now().UnixNano())
	now := time.Now().UTC().Format(time.RFC3339)

	var nquads strings.Builder
	nquads.WriteString(fmt.Sprintf("%s <dgraph.type> \"Entity\" .\n", blank))
	nquads.WriteString(fmt.Sprintf("%s <name> %q .\n", blank, name))
	nquads.WriteString(fmt.Sprintf("%s <group_id> %q .\n", blank, groupID))
	nquads.WriteString(fmt.Sprintf("%s <created_at> \"%s\"^^<xs:dateTime> .\n", blank, now))

	uid, err := s.mutateForUID(ctx, nquads.String(), blank[2:])
	if err != nil {
		return "", fmt.Errorf("create entity %q: %w", name, err)
	}

	s.logger.Debug("created entity",
		zap.String("uid", uid),
		zap.String("name", name),
		zap.String("group_id", groupID))
	return uid, nil
}

// EnsureRelation writes the relation node unless an identical one
// already exists in the group. Returns the UID and whether a new node
// was created.
func (s *Store) EnsureRelation(ctx context.Context, rel *Relation) (string, bool, error) {
	existing, err := s.findRelationUID(ctx, rel)
	if err != nil {
		return "", false, err
	}
	if existing != "" {
		return existing, false, nil
	}

	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}

	blank := fmt.Sprintf("_:relation_%d", time.Now().UnixNano())

	var nquads strings.Builder
	nquads.WriteString(fmt.Sprintf("%s <dgraph.type> \"Relation\" .\n", blank))
	nquads.WriteString(fmt.Sprintf("%s <group_id> %q .\n", blank, rel.GroupID))
	nquads.WriteString(fmt.Sprintf("%s <relation_label> %q .\n", blank, rel.Label))
	nquads.WriteString(fmt.Sprintf("%s <fact> %q .\n", blank, rel.Fact))
	nquads.WriteString(fmt.Sprintf("%s <source_entity> <%s> .\n", blank, rel.SourceUID))
	nquads.WriteString(fmt.Sprintf("%s <target_entity> <%s> .\n", blank, rel.TargetUID))
	nquads.WriteString(fmt.Sprintf("%s <created_at> \"%s\"^^<xs:dateTime> .\n",
		blank, rel.CreatedAt.Format(time.RFC3339)))

	uid, err := s.mutateForUID(ctx, nquads.String(), blank[2:])
	if err != nil {
		return "", false, fmt.Errorf("create relation %q: %w", rel.Label, err)
	}

	s.logger.Debug("created relation",
		zap.String("uid", uid),
		zap.String("label", rel.Label),
		zap.String("group_id", rel.GroupID))
	return uid, true, nil
}

// mutateForUID runs a single set-NQuad mutation and resolves the blank
// node key to its assigned UID.
func (s *Store) mutateForUID(ctx context.Context, nquads, blankKey string) (string, error) {
	txn := s.dg.NewTxn()
	defer txn.Discard(ctx)

	mu := &api.Mutation{
		SetNquads: []byte(nquads),
		CommitNow: true,
	}
	resp, err := txn.Mutate(ctx, mu)
	if err != nil {
		return "", err
	}
	if uid, ok := resp.Uids[blankKey]; ok {
		return uid, nil
	}
	return "", fmt.Errorf("no UID returned for %s", blankKey)
}
