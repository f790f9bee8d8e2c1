package state

import (
	"fmt"

	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// SaveRelationType inserts or replaces a relation type.
func (s *SQLiteStore) SaveRelationType(rt *core.RelationType) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO relation_types (type_key, source_type_key, target_type_key) VALUES (?, ?, ?)
		ON CONFLICT(type_key) DO UPDATE SET
			source_type_key = excluded.source_type_key,
			target_type_key = excluded.target_type_key`,
		rt.Key, rt.SourceTypeKey, rt.TargetTypeKey,
	)
	if err != nil {
		return fmt.Errorf("failed to save relation type: %w", err)
	}
	return nil
}

// ListRelationTypes returns every relation type, sorted by key.
func (s *SQLiteStore) ListRelationTypes() ([]*core.RelationType, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT type_key, source_type_key, target_type_key FROM relation_types ORDER BY type_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list relation types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var types []*core.RelationType
	for rows.Next() {
		rt := &core.RelationType{}
		if err := rows.Scan(&rt.Key, &rt.SourceTypeKey, &rt.TargetTypeKey); err != nil {
			return nil, fmt.Errorf("failed to scan relation type: %w", err)
		}
		types = append(types, rt)
	}
	return types, rows.Err()
}

// SaveRelation inserts or replaces a relation. An empty ID is generated.
// Both ends must exist.
func (s *SQLiteStore) SaveRelation(rel *core.Relation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if rel.ID == "" {
		rel.ID = generateID()
	}
	_, err := s.db.Exec(`
		INSERT INTO relations (id, type_key, source_id, target_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type_key = excluded.type_key,
			source_id = excluded.source_id,
			target_id = excluded.target_id`,
		rel.ID, rel.TypeKey, rel.SourceID, rel.TargetID,
	)
	if err != nil {
		return fmt.Errorf("failed to save relation: %w", err)
	}
	return nil
}

// ListRelated returns the entities at the other end of every relation of
// the entity, grouped by relation type key. Within a group entities are
// sorted by name then ID.
func (s *SQLiteStore) ListRelated(entityID string) (map[string][]*core.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT r.type_key, e.id, e.type_key, e.name, e.parent_id, e.attributes
		FROM relations r
		JOIN entities e ON e.id = CASE WHEN r.source_id = ? THEN r.target_id ELSE r.source_id END
		WHERE r.source_id = ? OR r.target_id = ?
		ORDER BY r.type_key, e.name, e.id`,
		entityID, entityID, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list related entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	related := make(map[string][]*core.Entity)
	for rows.Next() {
		var typeKey string
		entity, err := scanEntity(prefixScanner{rows: rows, first: &typeKey})
		if err != nil {
			return nil, fmt.Errorf("failed to scan related entity: %w", err)
		}
		related[typeKey] = append(related[typeKey], entity)
	}
	return related, rows.Err()
}

// prefixScanner scans one leading column before the entity columns.
type prefixScanner struct {
	rows  scanner
	first any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.first}, dest...)...)
}
