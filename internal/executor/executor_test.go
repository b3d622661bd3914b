package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/backends"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/state"
)

// mockDatabase records executed SQL and fails statements containing a configured substring
type mockDatabase struct {
	executed   []string
	failOn     map[string]error
	tables     []string
	listErr    error
	queryable  map[string]bool
	healthErr  error
	execCalled int
}

func newMockDatabase() *mockDatabase {
	return &mockDatabase{failOn: map[string]error{}, queryable: map[string]bool{}}
}

func (m *mockDatabase) Name() string { return "mock" }
func (m *mockDatabase) Connect(context.Context, *backends.ConnectionConfig) error {
	return nil
}
func (m *mockDatabase) Close() error { return nil }

func (m *mockDatabase) ExecSQL(_ context.Context, sql string) error {
	m.execCalled++
	for substr, err := range m.failOn {
		if strings.Contains(sql, substr) {
			return err
		}
	}
	m.executed = append(m.executed, sql)
	return nil
}

func (m *mockDatabase) ListTables(context.Context) ([]string, error) {
	return m.tables, m.listErr
}
func (m *mockDatabase) ListIndexes(context.Context) ([]string, error)   { return nil, nil }
func (m *mockDatabase) ListFunctions(context.Context) ([]string, error) { return nil, nil }
func (m *mockDatabase) ListPolicies(context.Context) ([]string, error)  { return nil, nil }

func (m *mockDatabase) TableExists(_ context.Context, table string) (bool, error) {
	for _, t := range m.tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDatabase) TableQueryable(_ context.Context, table string) error {
	if m.queryable[table] {
		return nil
	}
	return errors.New(`relation "` + table + `" does not exist`)
}

func (m *mockDatabase) HealthCheck(context.Context) error { return m.healthErr }

// mockTracker keeps tracking records in memory
type mockTracker struct {
	records     map[string]*state.MigrationRecord
	order       []string
	recordErr   error
	isExecErr   error
	initialized bool
}

func newMockTracker() *mockTracker {
	return &mockTracker{records: map[string]*state.MigrationRecord{}}
}

func (m *mockTracker) Initialize(context.Context) error {
	m.initialized = true
	return nil
}

func (m *mockTracker) IsExecuted(_ context.Context, filename string) (bool, error) {
	if m.isExecErr != nil {
		return false, m.isExecErr
	}
	_, ok := m.records[filename]
	return ok, nil
}

func (m *mockTracker) Record(_ context.Context, record *state.MigrationRecord) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.records[record.Filename] = record
	m.order = append(m.order, record.Filename)
	return nil
}

func (m *mockTracker) Get(_ context.Context, filename string) (*state.MigrationRecord, error) {
	r, ok := m.records[filename]
	if !ok {
		return nil, state.ErrRecordNotFound
	}
	return r, nil
}

func (m *mockTracker) Delete(_ context.Context, filename string) error {
	if _, ok := m.records[filename]; !ok {
		return state.ErrRecordNotFound
	}
	delete(m.records, filename)
	return nil
}

func (m *mockTracker) List(context.Context) ([]*state.MigrationRecord, error) {
	var out []*state.MigrationRecord
	for _, name := range m.order {
		if r, ok := m.records[name]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockPublisher collects published events
type mockPublisher struct {
	events []*events.Event
}

func (m *mockPublisher) Publish(_ context.Context, e *events.Event) error {
	m.events = append(m.events, e)
	return nil
}
func (m *mockPublisher) Close() error { return nil }

func writeMigration(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestExecutor(t *testing.T, opts Options) (*Executor, *mockDatabase, *mockTracker, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "migrations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	}
	db := newMockDatabase()
	tracker := newMockTracker()
	return NewExecutor(db, tracker, NewLoader(root, []string{"migrations"}), opts), db, tracker, dir
}

const tracksMigration = `-- tracks
CREATE TABLE IF NOT EXISTS tracks (id uuid PRIMARY KEY, title text NOT NULL);
CREATE INDEX IF NOT EXISTS idx_tracks_title ON tracks (title);
`

func TestInitialize(t *testing.T) {
	e, db, tracker, _ := newTestExecutor(t, Options{})
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !tracker.initialized {
		t.Error("tracking table was not initialized")
	}

	db.healthErr = errors.New("connection refused")
	if err := e.Initialize(context.Background()); err == nil {
		t.Error("Initialize() expected error when database is unreachable")
	}
}

func TestExecuteMigrationSuccess(t *testing.T) {
	e, db, tracker, dir := newTestExecutor(t, Options{})
	pub := &mockPublisher{}
	e.SetPublisher(pub)
	db.queryable["tracks"] = true
	path := writeMigration(t, dir, "20240101120000_create_tracks.sql", tracksMigration)

	result := e.ExecuteMigration(WithExecutedBy(context.Background(), "cli"), path)

	if !result.Success || result.Outcome != OutcomeSuccess {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.StatementsExecuted != 2 || len(db.executed) != 2 {
		t.Errorf("executed %d statements (%d in db), want 2", result.StatementsExecuted, len(db.executed))
	}
	if diff := cmp.Diff([]string{"tracks"}, result.TablesCreated); diff != "" {
		t.Errorf("TablesCreated mismatch (-want +got):\n%s", diff)
	}
	if result.Verification["tracks"] != TableVerified {
		t.Errorf("Verification = %v", result.Verification)
	}

	record, ok := tracker.records["20240101120000_create_tracks.sql"]
	if !ok {
		t.Fatal("migration was not recorded")
	}
	if record.Description != "create tracks" {
		t.Errorf("Description = %q, want %q", record.Description, "create tracks")
	}
	if record.Checksum != NewMigrationFile(path).Checksum() || len(record.Checksum) != 64 {
		t.Errorf("Checksum = %q", record.Checksum)
	}
	dropIndex := strings.Index(record.RollbackSQL, "DROP INDEX IF EXISTS idx_tracks_title;")
	dropTable := strings.Index(record.RollbackSQL, "DROP TABLE IF EXISTS tracks CASCADE;")
	if dropIndex < 0 || dropTable < 0 || dropIndex > dropTable {
		t.Errorf("RollbackSQL = %q, want index drop before table drop", record.RollbackSQL)
	}

	if len(pub.events) != 1 || pub.events[0].Type != events.TypeApplied || pub.events[0].ExecutedBy != "cli" {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestExecuteMigrationSkipsExecuted(t *testing.T) {
	e, db, tracker, dir := newTestExecutor(t, Options{})
	path := writeMigration(t, dir, "20240101120000_create_tracks.sql", tracksMigration)
	existing := &state.MigrationRecord{Filename: "20240101120000_create_tracks.sql"}
	tracker.records[existing.Filename] = existing

	result := e.ExecuteMigration(context.Background(), path)

	if !result.Success || result.Outcome != OutcomeSkipped {
		t.Fatalf("result = %+v, want skipped", result)
	}
	if db.execCalled != 0 || result.StatementsExecuted != 0 {
		t.Errorf("executed %d statements, want 0", db.execCalled)
	}
	if len(tracker.order) != 0 || tracker.records[existing.Filename] != existing {
		t.Error("skipped migration must not be recorded again")
	}
}

func TestExecuteMigrationsFailFast(t *testing.T) {
	e, db, tracker, dir := newTestExecutor(t, Options{})
	db.failOn["broken"] = errors.New(`syntax error at or near "broken"`)

	paths := []string{
		writeMigration(t, dir, "20240101000001_a.sql", "CREATE TABLE IF NOT EXISTS a (id int);\n"),
		writeMigration(t, dir, "20240101000002_b.sql", "CREATE TABLE IF NOT EXISTS b (id int);\nbroken statement;\n"),
		writeMigration(t, dir, "20240101000003_c.sql", "CREATE TABLE IF NOT EXISTS c (id int);\n"),
	}

	results := e.ExecuteMigrations(context.Background(), paths)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].Success || results[1].Success {
		t.Errorf("successes = %v, %v; want true, false", results[0].Success, results[1].Success)
	}
	if results[1].FailedStatement != "broken statement;" {
		t.Errorf("FailedStatement = %q", results[1].FailedStatement)
	}
	if results[1].StatementsExecuted != 1 {
		t.Errorf("StatementsExecuted = %d, want 1", results[1].StatementsExecuted)
	}
	for _, stmt := range db.executed {
		if strings.Contains(stmt, " c ") {
			t.Errorf("migration c was attempted: %q", stmt)
		}
	}
	if _, ok := tracker.records["20240101000002_b.sql"]; ok {
		t.Error("failed migration must not be recorded")
	}
	if _, ok := tracker.records["20240101000001_a.sql"]; !ok {
		t.Error("successful migration a was not recorded")
	}
}

func TestExecuteMigrationsStopsOnCancel(t *testing.T) {
	e, db, _, dir := newTestExecutor(t, Options{})
	path := writeMigration(t, dir, "20240101000001_a.sql", "CREATE TABLE IF NOT EXISTS a (id int);\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if results := e.ExecuteMigrations(ctx, []string{path}); len(results) != 0 {
		t.Errorf("got %d results after cancellation, want 0", len(results))
	}
	if db.execCalled != 0 {
		t.Errorf("executed %d statements after cancellation", db.execCalled)
	}
}

func TestExecuteMigrationFailureWritesFallback(t *testing.T) {
	e, db, _, dir := newTestExecutor(t, Options{})
	db.failOn["recently_played"] = errors.New(`permission denied for schema public`)
	path := writeMigration(t, dir, "20240101000000_create_recently_played.sql",
		"CREATE TABLE IF NOT EXISTS recently_played (id int);\n")

	result := e.ExecuteMigration(context.Background(), path)

	if result.Success || result.Outcome != OutcomeFailed {
		t.Fatalf("result = %+v, want failure", result)
	}
	if !strings.Contains(result.Error, "permission denied") {
		t.Errorf("Error = %q", result.Error)
	}
	if result.FallbackPath == "" {
		t.Fatal("no fallback script written")
	}
	if filepath.Dir(result.FallbackPath) != filepath.Join(dir, "manual") {
		t.Errorf("FallbackPath = %s, want under %s", result.FallbackPath, filepath.Join(dir, "manual"))
	}

	content, err := os.ReadFile(result.FallbackPath)
	if err != nil {
		t.Fatalf("failed to read fallback: %v", err)
	}
	for _, want := range []string{
		"-- Manual migration: 20240101000000_create_recently_played.sql",
		"-- Instructions:",
		"statement 1: permission denied for schema public",
		"CREATE TABLE IF NOT EXISTS recently_played (id int);",
		`INSERT INTO "migrations" (filename, description, checksum) VALUES ('20240101000000_create_recently_played.sql', 'create recently played',`,
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("fallback missing %q:\n%s", want, content)
		}
	}

	again := e.ExecuteMigration(context.Background(), path)
	if again.FallbackPath == result.FallbackPath {
		t.Error("second failure overwrote the first fallback script")
	}
}

func TestExecuteMigrationExecUnavailable(t *testing.T) {
	e, db, tracker, dir := newTestExecutor(t, Options{})
	pub := &mockPublisher{}
	e.SetPublisher(pub)
	db.failOn["CREATE"] = backends.ErrExecUnavailable
	path := writeMigration(t, dir, "20240101000000_create_tracks.sql", tracksMigration)

	result := e.ExecuteMigration(context.Background(), path)

	if result.Success {
		t.Fatal("expected failure when the exec function is missing")
	}
	if result.FallbackPath == "" || !strings.Contains(result.Error, "manually") {
		t.Errorf("result = %+v, want manual setup fallback", result)
	}
	if len(tracker.records) != 0 {
		t.Error("migration must not be recorded")
	}
	var types []events.Type
	for _, ev := range pub.events {
		types = append(types, ev.Type)
	}
	if diff := cmp.Diff([]events.Type{events.TypeFailed, events.TypeManual}, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteMigrationTrackingErrors(t *testing.T) {
	t.Run("status check", func(t *testing.T) {
		e, db, tracker, dir := newTestExecutor(t, Options{})
		tracker.isExecErr = errors.New("relation \"migrations\" does not exist")
		path := writeMigration(t, dir, "20240101000000_a.sql", "CREATE TABLE IF NOT EXISTS a (id int);\n")

		result := e.ExecuteMigration(context.Background(), path)
		if result.Success || db.execCalled != 0 {
			t.Errorf("result = %+v, executed %d", result, db.execCalled)
		}
	})

	t.Run("record", func(t *testing.T) {
		e, _, tracker, dir := newTestExecutor(t, Options{})
		tracker.recordErr = errors.New("unique violation")
		path := writeMigration(t, dir, "20240101000000_a.sql", "CREATE TABLE IF NOT EXISTS a (id int);\n")

		result := e.ExecuteMigration(context.Background(), path)
		if result.Success || result.StatementsExecuted != 1 {
			t.Errorf("result = %+v, want failure after one statement", result)
		}
	})
}

func TestExecuteMigrationRequireReversible(t *testing.T) {
	script := "CREATE TABLE IF NOT EXISTS a (id int);\nALTER TABLE a ENABLE ROW LEVEL SECURITY;\n"

	t.Run("warns by default", func(t *testing.T) {
		e, _, _, dir := newTestExecutor(t, Options{})
		result := e.ExecuteMigration(context.Background(), writeMigration(t, dir, "1_a.sql", script))
		if !result.Success {
			t.Fatalf("result = %+v, want success", result)
		}
		if len(result.RollbackInfo.Irreversible) != 1 || !result.RollbackInfo.CanRollback {
			t.Errorf("RollbackInfo = %+v", result.RollbackInfo)
		}
	})

	t.Run("fails when required", func(t *testing.T) {
		e, db, _, dir := newTestExecutor(t, Options{RequireReversible: true})
		result := e.ExecuteMigration(context.Background(), writeMigration(t, dir, "1_a.sql", script))
		if result.Success || db.execCalled != 0 {
			t.Errorf("result = %+v, executed %d; want failure before execution", result, db.execCalled)
		}
	})
}

func TestVerifyTablesNonFatal(t *testing.T) {
	e, db, _, dir := newTestExecutor(t, Options{})
	db.tables = []string{"present"}
	script := "CREATE TABLE IF NOT EXISTS present (id int);\nCREATE TABLE IF NOT EXISTS absent (id int);\n"

	result := e.ExecuteMigration(context.Background(), writeMigration(t, dir, "1_tables.sql", script))

	if !result.Success {
		t.Fatalf("verification must not fail the migration: %+v", result)
	}
	want := map[string]string{"present": TableUnverified, "absent": TableMissing}
	if diff := cmp.Diff(want, result.Verification); diff != "" {
		t.Errorf("Verification mismatch (-want +got):\n%s", diff)
	}
}

func TestRollback(t *testing.T) {
	t.Run("executes and deletes record", func(t *testing.T) {
		e, db, tracker, _ := newTestExecutor(t, Options{})
		pub := &mockPublisher{}
		e.SetPublisher(pub)
		tracker.records["1_a.sql"] = &state.MigrationRecord{Filename: "1_a.sql", RollbackSQL: "DROP TABLE IF EXISTS a CASCADE;\n"}

		result, err := e.Rollback(context.Background(), "1_a.sql")
		if err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if !result.Success {
			t.Errorf("result = %+v", result)
		}
		if diff := cmp.Diff([]string{"DROP TABLE IF EXISTS a CASCADE;\n"}, db.executed); diff != "" {
			t.Errorf("executed mismatch (-want +got):\n%s", diff)
		}
		if _, ok := tracker.records["1_a.sql"]; ok {
			t.Error("tracking record was not deleted")
		}
		if len(pub.events) != 1 || pub.events[0].Type != events.TypeRolledBack {
			t.Errorf("events = %+v", pub.events)
		}
	})

	t.Run("unknown migration", func(t *testing.T) {
		e, _, _, _ := newTestExecutor(t, Options{})
		if _, err := e.Rollback(context.Background(), "missing.sql"); !errors.Is(err, ErrMigrationNotFound) {
			t.Errorf("Rollback() error = %v, want ErrMigrationNotFound", err)
		}
	})

	t.Run("no rollback stored", func(t *testing.T) {
		e, db, tracker, _ := newTestExecutor(t, Options{})
		tracker.records["1_seed.sql"] = &state.MigrationRecord{Filename: "1_seed.sql"}
		if _, err := e.Rollback(context.Background(), "1_seed.sql"); !errors.Is(err, ErrRollbackUnavailable) {
			t.Errorf("Rollback() error = %v, want ErrRollbackUnavailable", err)
		}
		if db.execCalled != 0 {
			t.Error("nothing should be executed")
		}
		if _, ok := tracker.records["1_seed.sql"]; !ok {
			t.Error("record must be kept")
		}
	})

	t.Run("execution error keeps record", func(t *testing.T) {
		e, db, tracker, _ := newTestExecutor(t, Options{})
		db.failOn["DROP"] = errors.New("cannot drop table a because other objects depend on it")
		tracker.records["1_a.sql"] = &state.MigrationRecord{Filename: "1_a.sql", RollbackSQL: "DROP TABLE IF EXISTS a;"}

		result, err := e.Rollback(context.Background(), "1_a.sql")
		if err == nil || result == nil || result.Success {
			t.Fatalf("Rollback() = %+v, %v; want failure", result, err)
		}
		if _, ok := tracker.records["1_a.sql"]; !ok {
			t.Error("record must be kept when rollback fails")
		}
	})
}

func TestVerifyDatabaseSchema(t *testing.T) {
	t.Run("catalog", func(t *testing.T) {
		e, db, _, _ := newTestExecutor(t, Options{})
		db.tables = []string{"albums", "migrations", "pg_stat", "_prisma", "sql_features", "tracks", "users"}

		report, err := e.VerifyDatabaseSchema(context.Background(), []string{"tracks", "playlists", "users"})
		if err != nil {
			t.Fatalf("VerifyDatabaseSchema() error = %v", err)
		}
		want := &SchemaReport{Valid: false, Missing: []string{"playlists"}, Extra: []string{"albums"}, Method: "catalog"}
		if diff := cmp.Diff(want, report); diff != "" {
			t.Errorf("report mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("probe fallback", func(t *testing.T) {
		e, db, _, _ := newTestExecutor(t, Options{})
		db.listErr = errors.New("permission denied for information_schema")
		db.queryable["tracks"] = true

		report, err := e.VerifyDatabaseSchema(context.Background(), []string{"tracks", "playlists"})
		if err != nil {
			t.Fatalf("VerifyDatabaseSchema() error = %v", err)
		}
		want := &SchemaReport{Valid: false, Missing: []string{"playlists"}, Extra: []string{}, Method: "probe"}
		if diff := cmp.Diff(want, report); diff != "" {
			t.Errorf("report mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStatusAndRunPending(t *testing.T) {
	e, _, tracker, dir := newTestExecutor(t, Options{})
	writeMigration(t, dir, "20240101000001_a.sql", "CREATE TABLE IF NOT EXISTS a (id int);\n")
	writeMigration(t, dir, "20240101000002_b.sql", "CREATE TABLE IF NOT EXISTS b (id int);\n")
	tracker.records["20240101000001_a.sql"] = &state.MigrationRecord{Filename: "20240101000001_a.sql"}
	tracker.records["20231231000000_gone.sql"] = &state.MigrationRecord{Filename: "20231231000000_gone.sql"}
	tracker.order = []string{"20231231000000_gone.sql", "20240101000001_a.sql"}

	status, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Pending) != 1 || status.Pending[0].Filename != "20240101000002_b.sql" {
		t.Errorf("Pending = %+v", status.Pending)
	}
	if len(status.Executed) != 2 || len(status.Orphaned) != 1 || status.Orphaned[0].Filename != "20231231000000_gone.sql" {
		t.Errorf("Executed = %d, Orphaned = %+v", len(status.Executed), status.Orphaned)
	}

	results, err := e.RunPending(context.Background())
	if err != nil {
		t.Fatalf("RunPending() error = %v", err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeSuccess {
		t.Errorf("RunPending() = %+v", results)
	}

	results, err = e.RunPending(context.Background())
	if err != nil || len(results) != 0 {
		t.Errorf("second RunPending() = %v, %v; want nothing to do", results, err)
	}
}
