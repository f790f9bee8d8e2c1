package state

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/leapstack-labs/cardcalc/pkg/core"
)

const entityColumns = `id, type_key, name, parent_id, attributes`

// SaveEntity inserts or replaces an entity. An empty ID is generated.
func (s *SQLiteStore) SaveEntity(entity *core.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if entity.ID == "" {
		entity.ID = generateID()
	}
	attrs, err := encodeAttributes(entity.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes of entity %s: %w", entity.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO entities (`+entityColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type_key = excluded.type_key,
			name = excluded.name,
			parent_id = excluded.parent_id,
			attributes = excluded.attributes`,
		entity.ID, entity.TypeKey, entity.Name, nullIfEmpty(entity.ParentID), attrs,
	)
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by ID.
func (s *SQLiteStore) GetEntity(id string) (*core.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("entity", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// ListEntitiesByType returns every entity of a type, sorted by ID.
func (s *SQLiteStore) ListEntitiesByType(typeKey string) ([]*core.Entity, error) {
	return s.queryEntities(`SELECT `+entityColumns+` FROM entities WHERE type_key = ? ORDER BY id`, typeKey)
}

// ListChildren returns the hierarchy children of an entity, sorted by
// name then ID.
func (s *SQLiteStore) ListChildren(parentID string) ([]*core.Entity, error) {
	return s.queryEntities(`SELECT `+entityColumns+` FROM entities WHERE parent_id = ? ORDER BY name, id`, parentID)
}

// SetEntityAttribute writes a single attribute, leaving the others intact.
func (s *SQLiteStore) SetEntityAttribute(id, field string, value any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRow(`SELECT attributes FROM entities WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("entity", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read attributes: %w", err)
	}

	attrs, err := decodeAttributes(raw)
	if err != nil {
		return fmt.Errorf("failed to decode attributes of entity %s: %w", id, err)
	}
	attrs[field] = value

	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attribute %s of entity %s: %w", field, id, err)
	}
	if _, err := tx.Exec(`UPDATE entities SET attributes = ? WHERE id = ?`, encoded, id); err != nil {
		return fmt.Errorf("failed to write attribute: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) queryEntities(query string, args ...any) ([]*core.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []*core.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func scanEntity(sc scanner) (*core.Entity, error) {
	entity := &core.Entity{}
	var parentID sql.NullString
	var attrs string
	if err := sc.Scan(&entity.ID, &entity.TypeKey, &entity.Name, &parentID, &attrs); err != nil {
		return nil, err
	}
	entity.ParentID = parentID.String

	decoded, err := decodeAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", entity.ID, err)
	}
	entity.Attributes = decoded
	return entity, nil
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(toJSON(attrs))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// toJSON copies v, writing integral floats with a fractional part so that
// 300.0 is read back as a float rather than an integer.
func toJSON(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e21 {
			return json.Number(strconv.FormatFloat(x, 'f', 1, 64))
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = toJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = toJSON(item)
		}
		return out
	default:
		return v
	}
}

// decodeAttributes parses stored JSON, keeping integers as int64 and other
// numbers as float64.
func decodeAttributes(raw string) (map[string]any, error) {
	attrs := make(map[string]any)
	if raw == "" {
		return attrs, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("invalid attributes: %w", err)
	}
	for k, v := range attrs {
		attrs[k] = fromJSON(v)
	}
	return attrs, nil
}

func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, item := range x {
			x[k] = fromJSON(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = fromJSON(item)
		}
		return x
	default:
		return v
	}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
