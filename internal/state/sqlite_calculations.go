package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/cardcalc/pkg/core"
)

const calculationColumns = `id, name, description, target_type_key, target_field_key, formula,
	execution_order, is_active, last_error, last_run_at, created_at, updated_at`

// CreateCalculation inserts a new calculation. An empty ID is generated.
func (s *SQLiteStore) CreateCalculation(calc *core.Calculation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if calc.ID == "" {
		calc.ID = generateID()
	}
	now := time.Now().UTC()
	if calc.CreatedAt.IsZero() {
		calc.CreatedAt = now
	}
	calc.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO calculations (`+calculationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		calc.ID, calc.Name, calc.Description, calc.TargetTypeKey, calc.TargetFieldKey, calc.Formula,
		calc.ExecutionOrder, boolToInt(calc.IsActive), nullString(calc.LastError), nullTime(calc.LastRunAt),
		formatTime(calc.CreatedAt), formatTime(calc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create calculation: %w", err)
	}

	s.logger.Debug("calculation created", "id", calc.ID, "target", calc.TargetTypeKey+"."+calc.TargetFieldKey)
	return nil
}

// UpdateCalculation overwrites the definition of an existing calculation.
func (s *SQLiteStore) UpdateCalculation(calc *core.Calculation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	calc.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE calculations SET
			name = ?, description = ?, target_type_key = ?, target_field_key = ?, formula = ?,
			execution_order = ?, is_active = ?, last_error = ?, last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		calc.Name, calc.Description, calc.TargetTypeKey, calc.TargetFieldKey, calc.Formula,
		calc.ExecutionOrder, boolToInt(calc.IsActive), nullString(calc.LastError), nullTime(calc.LastRunAt),
		formatTime(calc.UpdatedAt), calc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update calculation: %w", err)
	}
	return expectOneRow(result, "calculation", calc.ID)
}

// GetCalculation retrieves a calculation by ID.
func (s *SQLiteStore) GetCalculation(id string) (*core.Calculation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(`SELECT `+calculationColumns+` FROM calculations WHERE id = ?`, id)
	calc, err := scanCalculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("calculation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calculation: %w", err)
	}
	return calc, nil
}

// ListCalculations returns every calculation, active or not, sorted by
// (target type, execution order, ID).
func (s *SQLiteStore) ListCalculations() ([]*core.Calculation, error) {
	return s.queryCalculations(`SELECT ` + calculationColumns + ` FROM calculations
		ORDER BY target_type_key, execution_order, id`)
}

// ListActiveCalculations returns active calculations for a type, sorted by
// (execution order, ID).
func (s *SQLiteStore) ListActiveCalculations(typeKey string) ([]*core.Calculation, error) {
	return s.queryCalculations(`SELECT `+calculationColumns+` FROM calculations
		WHERE target_type_key = ? AND is_active = 1
		ORDER BY execution_order, id`, typeKey)
}

// ListTargetTypes returns the entity types that have active calculations.
func (s *SQLiteStore) ListTargetTypes() ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT DISTINCT target_type_key FROM calculations
		WHERE is_active = 1 ORDER BY target_type_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list target types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan target type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// DeleteCalculation removes a calculation.
func (s *SQLiteStore) DeleteCalculation(id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	result, err := s.db.Exec(`DELETE FROM calculations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calculation: %w", err)
	}
	return expectOneRow(result, "calculation", id)
}

// RecordCalculationResult stores the outcome of the latest execution.
// A nil lastError clears any previous error.
func (s *SQLiteStore) RecordCalculationResult(id string, lastError *string, runAt time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	result, err := s.db.Exec(
		`UPDATE calculations SET last_error = ?, last_run_at = ? WHERE id = ?`,
		nullString(lastError), formatTime(runAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record calculation result: %w", err)
	}
	return expectOneRow(result, "calculation", id)
}

func (s *SQLiteStore) queryCalculations(query string, args ...any) ([]*core.Calculation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calculations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calcs []*core.Calculation
	for rows.Next() {
		calc, err := scanCalculation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calculation: %w", err)
		}
		calcs = append(calcs, calc)
	}
	return calcs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCalculation(sc scanner) (*core.Calculation, error) {
	calc := &core.Calculation{}
	var (
		active               int
		lastError, lastRunAt sql.NullString
		createdAt, updatedAt string
	)
	err := sc.Scan(
		&calc.ID, &calc.Name, &calc.Description, &calc.TargetTypeKey, &calc.TargetFieldKey, &calc.Formula,
		&calc.ExecutionOrder, &active, &lastError, &lastRunAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	calc.IsActive = active != 0
	if lastError.Valid {
		msg := lastError.String
		calc.LastError = &msg
	}
	if calc.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, err
	}
	if calc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if calc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return calc, nil
}

func expectOneRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
