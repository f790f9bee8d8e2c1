package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/cardcalc/pkg/core"
)

const runColumns = `id, type_key, status, started_at, completed_at, calculations, entities, updated, failed, error`

// CreateRun starts a batch run record for an entity type.
func (s *SQLiteStore) CreateRun(typeKey string) (*core.Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	run := &core.Run{
		ID:        generateID(),
		TypeKey:   typeKey,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (id, type_key, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.TypeKey, string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	s.logger.Debug("run created", "run_id", run.ID, "type", typeKey)
	return run, nil
}

// CompleteRun marks a run finished with the given status and counts.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, summary *core.BatchSummary, errMsg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if summary == nil {
		summary = &core.BatchSummary{}
	}
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, calculations = ?, entities = ?, updated = ?, failed = ?, error = ?
		WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()),
		summary.Calculations, summary.Entities, summary.Updated, summary.Failed,
		nullString(errorPtr), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return expectOneRow(result, "run", id)
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit
// returns all runs.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(sc scanner) (*core.Run, error) {
	run := &core.Run{}
	var (
		status      string
		startedAt   string
		completedAt sql.NullString
		errMsg      sql.NullString
	)
	err := sc.Scan(&run.ID, &run.TypeKey, &status, &startedAt, &completedAt,
		&run.Calculations, &run.Entities, &run.Updated, &run.Failed, &errMsg)
	if err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	run.Error = errMsg.String
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return run, nil
}
