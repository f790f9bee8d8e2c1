package core

// Entity is a card: a typed business object with an attribute map.
type Entity struct {
	ID       string
	TypeKey  string
	Name     string
	ParentID string
	// Attributes holds the card's own fields, including calculated ones
	Attributes map[string]any
}

// RelationType describes a kind of relation between two entity types.
type RelationType struct {
	Key           string
	SourceTypeKey string
	TargetTypeKey string
}

// OtherEnd returns the entity type reached from typeKey through this relation.
// The second result is false when typeKey is on neither end.
func (rt *RelationType) OtherEnd(typeKey string) (string, bool) {
	switch typeKey {
	case rt.SourceTypeKey:
		return rt.TargetTypeKey, true
	case rt.TargetTypeKey:
		return rt.SourceTypeKey, true
	default:
		return "", false
	}
}

// Relation links two entities.
type Relation struct {
	ID       string
	TypeKey  string
	SourceID string
	TargetID string
}
