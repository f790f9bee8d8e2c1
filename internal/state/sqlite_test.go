package state

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cardcalc/internal/testutil"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Close())
	// closing twice is harmless
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)

	_, err := store.GetCalculation("x")
	assert.EqualError(t, err, "database not opened")
	assert.EqualError(t, store.InitSchema(), "database not opened")
	_, err = store.ListRuns(0)
	assert.EqualError(t, err, "database not opened")
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := setupTestStore(t)

	// running again is a no-op
	require.NoError(t, store.Migrate())

	version, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{"calculations", "entities", "relation_types", "relations", "runs"} {
		rows, err := store.DB().Query("SELECT 1 FROM " + table + " LIMIT 1")
		if assert.NoError(t, err, "table %s", table) {
			_ = rows.Close()
		}
	}
}

func TestSQLiteStore_CalculationLifecycle(t *testing.T) {
	store := setupTestStore(t)

	calc := testutil.Calc("", "Total Cost", "Application", "total_cost", "data.a + data.b")
	calc.ExecutionOrder = 3
	require.NoError(t, store.CreateCalculation(calc))
	require.NotEmpty(t, calc.ID)
	assert.False(t, calc.CreatedAt.IsZero())

	got, err := store.GetCalculation(calc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Total Cost", got.Name)
	assert.Equal(t, "Application", got.TargetTypeKey)
	assert.Equal(t, "total_cost", got.TargetFieldKey)
	assert.Equal(t, "data.a + data.b", got.Formula)
	assert.Equal(t, 3, got.ExecutionOrder)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.LastRunAt)
	assert.WithinDuration(t, calc.CreatedAt, got.CreatedAt, time.Millisecond)

	got.Formula = "data.a * 2"
	got.IsActive = false
	require.NoError(t, store.UpdateCalculation(got))

	again, err := store.GetCalculation(calc.ID)
	require.NoError(t, err)
	assert.Equal(t, "data.a * 2", again.Formula)
	assert.False(t, again.IsActive)

	require.NoError(t, store.DeleteCalculation(calc.ID))
	_, err = store.GetCalculation(calc.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, store.DeleteCalculation(calc.ID), core.ErrNotFound)
}

func TestSQLiteStore_UpdateMissingCalculation(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateCalculation(testutil.Calc("missing", "x", "T", "f", "1"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteStore_ListActiveCalculations(t *testing.T) {
	store := setupTestStore(t)

	calcs := []*core.Calculation{
		testutil.Calc("c", "third", "Application", "c", "1"),
		testutil.Calc("b", "second", "Application", "b", "1"),
		testutil.Calc("a", "first", "Application", "a", "1"),
		testutil.Calc("z", "other type", "ITComponent", "z", "1"),
		testutil.Calc("i", "inactive", "Application", "i", "1"),
	}
	calcs[0].ExecutionOrder = 1
	calcs[4].IsActive = false
	for _, c := range calcs {
		require.NoError(t, store.CreateCalculation(c))
	}

	active, err := store.ListActiveCalculations("Application")
	require.NoError(t, err)
	var ids []string
	for _, c := range active {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	all, err := store.ListCalculations()
	require.NoError(t, err)
	assert.Len(t, all, 5)

	types, err := store.ListTargetTypes()
	require.NoError(t, err)
	assert.Equal(t, []string{"Application", "ITComponent"}, types)
}

func TestSQLiteStore_RecordCalculationResult(t *testing.T) {
	store := setupTestStore(t)

	calc := testutil.Calc("1", "x", "T", "f", "1")
	require.NoError(t, store.CreateCalculation(calc))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := "division by zero"
	require.NoError(t, store.RecordCalculationResult("1", &msg, at))

	got, err := store.GetCalculation("1")
	require.NoError(t, err)
	require.NotNil(t, got.LastError)
	assert.Equal(t, msg, *got.LastError)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, at.Equal(*got.LastRunAt))

	require.NoError(t, store.RecordCalculationResult("1", nil, at.Add(time.Hour)))
	got, err = store.GetCalculation("1")
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
	assert.True(t, at.Add(time.Hour).Equal(*got.LastRunAt))

	assert.ErrorIs(t, store.RecordCalculationResult("missing", nil, at), core.ErrNotFound)
}

func TestSQLiteStore_Entities(t *testing.T) {
	store := setupTestStore(t)

	app := testutil.Entity("app-1", "Application", "CRM",
		"cost", 12,
		"rate", 0.5,
		"tags", []any{"a", "b"},
		"owner", map[string]any{"team": "core"},
	)
	require.NoError(t, store.SaveEntity(app))

	got, err := store.GetEntity("app-1")
	require.NoError(t, err)
	assert.Equal(t, "Application", got.TypeKey)
	assert.Equal(t, "CRM", got.Name)
	assert.Equal(t, "", got.ParentID)
	assert.Equal(t, map[string]any{
		"cost":  int64(12),
		"rate":  0.5,
		"tags":  []any{"a", "b"},
		"owner": map[string]any{"team": "core"},
	}, got.Attributes)

	require.NoError(t, store.SetEntityAttribute("app-1", "total", 42.5))
	require.NoError(t, store.SetEntityAttribute("app-1", "cost", nil))
	got, err = store.GetEntity("app-1")
	require.NoError(t, err)
	assert.Equal(t, 42.5, got.Attributes["total"])
	v, ok := got.Attributes["cost"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 0.5, got.Attributes["rate"])

	// integral floats stay floats across a round trip
	require.NoError(t, store.SetEntityAttribute("app-1", "avg", 300.0))
	require.NoError(t, store.SetEntityAttribute("app-1", "series", []any{2.0, int64(3), map[string]any{"v": -1.0}}))
	got, err = store.GetEntity("app-1")
	require.NoError(t, err)
	assert.Equal(t, 300.0, got.Attributes["avg"])
	assert.Equal(t, []any{2.0, int64(3), map[string]any{"v": -1.0}}, got.Attributes["series"])
	assert.Equal(t, 42.5, got.Attributes["total"])

	assert.ErrorIs(t, store.SetEntityAttribute("missing", "x", 1), core.ErrNotFound)
	_, err = store.GetEntity("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// upsert replaces
	app.Name = "CRM 2"
	app.Attributes = nil
	require.NoError(t, store.SaveEntity(app))
	got, err = store.GetEntity("app-1")
	require.NoError(t, err)
	assert.Equal(t, "CRM 2", got.Name)
	assert.Empty(t, got.Attributes)
}

func TestSQLiteStore_EntitiesByTypeAndChildren(t *testing.T) {
	store := setupTestStore(t)

	for _, e := range []*core.Entity{
		testutil.Entity("b", "Application", "Beta"),
		testutil.Entity("a", "Application", "Alpha"),
		testutil.Entity("x", "ITComponent", "Server"),
		testutil.Child(testutil.Entity("a2", "Application", "Zed"), "a"),
		testutil.Child(testutil.Entity("a1", "Application", "Yak"), "a"),
	} {
		require.NoError(t, store.SaveEntity(e))
	}

	apps, err := store.ListEntitiesByType("Application")
	require.NoError(t, err)
	var ids []string
	for _, e := range apps {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "a1", "a2", "b"}, ids)

	children, err := store.ListChildren("a")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Yak", children[0].Name)
	assert.Equal(t, "a", children[0].ParentID)
	assert.Equal(t, "Zed", children[1].Name)

	none, err := store.ListChildren("b")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_Relations(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.SaveRelationType(&core.RelationType{Key: "app_to_itc", SourceTypeKey: "Application", TargetTypeKey: "ITComponent"}))
	require.NoError(t, store.SaveRelationType(&core.RelationType{Key: "app_to_app", SourceTypeKey: "Application", TargetTypeKey: "Application"}))

	types, err := store.ListRelationTypes()
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "app_to_app", types[0].Key)
	assert.Equal(t, "ITComponent", types[1].TargetTypeKey)

	for _, e := range []*core.Entity{
		testutil.Entity("app", "Application", "CRM"),
		testutil.Entity("up", "Application", "ERP"),
		testutil.Entity("srv2", "ITComponent", "Server B", "cost", 20),
		testutil.Entity("srv1", "ITComponent", "Server A", "cost", 10),
	} {
		require.NoError(t, store.SaveEntity(e))
	}
	for _, r := range []*core.Relation{
		{TypeKey: "app_to_itc", SourceID: "app", TargetID: "srv2"},
		{TypeKey: "app_to_itc", SourceID: "app", TargetID: "srv1"},
		// incoming relation: app is the target
		{TypeKey: "app_to_app", SourceID: "up", TargetID: "app"},
	} {
		require.NoError(t, store.SaveRelation(r))
		assert.NotEmpty(t, r.ID)
	}

	related, err := store.ListRelated("app")
	require.NoError(t, err)
	require.Len(t, related["app_to_itc"], 2)
	assert.Equal(t, "srv1", related["app_to_itc"][0].ID)
	assert.Equal(t, int64(10), related["app_to_itc"][0].Attributes["cost"])
	assert.Equal(t, "srv2", related["app_to_itc"][1].ID)
	require.Len(t, related["app_to_app"], 1)
	assert.Equal(t, "up", related["app_to_app"][0].ID)

	fromServer, err := store.ListRelated("srv1")
	require.NoError(t, err)
	require.Len(t, fromServer["app_to_itc"], 1)
	assert.Equal(t, "app", fromServer["app_to_itc"][0].ID)

	// both ends must exist
	err = store.SaveRelation(&core.Relation{TypeKey: "app_to_itc", SourceID: "app", TargetID: "nope"})
	assert.Error(t, err)
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.CreateRun("Application")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Application", got.TypeKey)
	assert.Nil(t, got.CompletedAt)

	summary := &core.BatchSummary{Calculations: 2, Entities: 5, Updated: 9, Failed: 1}
	require.NoError(t, store.CompleteRun(run.ID, RunStatusCompleted, summary, ""))

	got, err = store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 2, got.Calculations)
	assert.Equal(t, 5, got.Entities)
	assert.Equal(t, 9, got.Updated)
	assert.Equal(t, 1, got.Failed)
	assert.Empty(t, got.Error)

	failed, err := store.CreateRun("ITComponent")
	require.NoError(t, err)
	require.NoError(t, store.CompleteRun(failed.ID, RunStatusFailed, nil, "boom"))

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, failed.ID, runs[0].ID)
	assert.Equal(t, "boom", runs[0].Error)

	runs, err = store.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	assert.ErrorIs(t, store.CompleteRun("missing", RunStatusFailed, nil, ""), core.ErrNotFound)
	_, err = store.GetRun("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteStore_DatabaseFailures(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		op        func(s *SQLiteStore) error
		errMsg    string
	}{
		{
			name: "create calculation",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO calculations").WillReturnError(assert.AnError)
			},
			op: func(s *SQLiteStore) error {
				return s.CreateCalculation(testutil.Calc("1", "x", "T", "f", "1"))
			},
			errMsg: "failed to create calculation",
		},
		{
			name: "list active calculations",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM calculations").WillReturnError(assert.AnError)
			},
			op: func(s *SQLiteStore) error {
				_, err := s.ListActiveCalculations("T")
				return err
			},
			errMsg: "failed to list calculations",
		},
		{
			name: "corrupt timestamp",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{
					"id", "name", "description", "target_type_key", "target_field_key", "formula",
					"execution_order", "is_active", "last_error", "last_run_at", "created_at", "updated_at",
				}).AddRow("1", "x", "", "T", "f", "1", 0, 1, nil, nil, "yesterday", "yesterday")
				mock.ExpectQuery("SELECT (.+) FROM calculations WHERE id").WillReturnRows(rows)
			},
			op: func(s *SQLiteStore) error {
				_, err := s.GetCalculation("1")
				return err
			},
			errMsg: "invalid timestamp",
		},
		{
			name: "set attribute rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT attributes FROM entities").
					WillReturnRows(sqlmock.NewRows([]string{"attributes"}).AddRow(`{"a":1}`))
				mock.ExpectExec("UPDATE entities SET attributes").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			op: func(s *SQLiteStore) error {
				return s.SetEntityAttribute("e1", "b", 2)
			},
			errMsg: "failed to write attribute",
		},
		{
			name: "corrupt attributes",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "type_key", "name", "parent_id", "attributes"}).
					AddRow("e1", "T", "n", nil, "{not json")
				mock.ExpectQuery("SELECT (.+) FROM entities").WillReturnRows(rows)
			},
			op: func(s *SQLiteStore) error {
				_, err := s.ListEntitiesByType("T")
				return err
			},
			errMsg: "invalid attributes",
		},
		{
			name: "complete run",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs").WillReturnError(assert.AnError)
			},
			op: func(s *SQLiteStore) error {
				return s.CompleteRun("r1", RunStatusFailed, nil, "x")
			},
			errMsg: "failed to complete run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()

			tt.setupMock(mock)
			store := NewSQLiteStoreWithDB(db, testutil.NewTestLogger(t))

			err = tt.op(store)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
