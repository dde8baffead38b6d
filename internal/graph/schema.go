package graph

import "time"

// Episode is one immutable ingestion event. The body is kept verbatim
// for audit and re-extraction.
type Episode struct {
	UID               string    `json:"uid,omitempty"`
	EpisodeUUID       string    `json:"episode_uuid"`
	GroupID           string    `json:"group_id"`
	Body              string    `json:"body"`
	SourceDescription string    `json:"source_description,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Entity is a named node in one group's knowledge graph. Entities are
// merged by exact name within a group.
type Entity struct {
	UID       string    `json:"uid,omitempty"`
	Name      string    `json:"name"`
	GroupID   string    `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Relation is a directed, labeled edge between two entities, carrying
// the natural-language fact sentence it was extracted from. Relations
// are stored as nodes so the fact text and timestamps can be indexed.
type Relation struct {
	UID       string    `json:"uid,omitempty"`
	GroupID   string    `json:"group_id"`
	SourceUID string    `json:"-"`
	TargetUID string    `json:"-"`
	Source    string    `json:"source_name,omitempty"`
	Target    string    `json:"target_name,omitempty"`
	Label     string    `json:"relation_label"`
	Fact      string    `json:"fact"`
	CreatedAt time.Time `json:"created_at"`
}

// schema declares the predicates and indexes the store depends on.
// group_id carries the partition: every query filters on it and no
// query ever traverses across it.
const schema = `
	type Episode {
		episode_uuid
		group_id
		body
		source_description
		created_at
	}

	type Entity {
		name
		group_id
		created_at
	}

	type Relation {
		group_id
		relation_label
		fact
		source_entity
		target_entity
		created_at
	}

	episode_uuid: string @index(exact) .
	group_id: string @index(exact) .
	body: string .
	source_description: string .
	name: string @index(exact, term) .
	relation_label: string @index(exact) .
	fact: string @index(fulltext) .
	source_entity: uid @reverse .
	target_entity: uid @reverse .
	created_at: datetime @index(hour) .
`
