package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/agent"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/impact"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/rollback"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/state"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

func sampleResults() []*executor.MigrationResult {
	return []*executor.MigrationResult{
		{
			Success:            true,
			Outcome:            executor.OutcomeSuccess,
			Migration:          executor.NewMigrationFile("migrations/20240101000000_create_tracks.sql"),
			StatementsExecuted: 3,
			Verification:       map[string]string{"tracks": executor.TableVerified},
			RollbackInfo:       executor.RollbackInfo{CanRollback: true, RollbackSQL: "DROP TABLE IF EXISTS tracks CASCADE;"},
			Duration:           120 * time.Millisecond,
		},
		{
			Success:   true,
			Outcome:   executor.OutcomeSkipped,
			Migration: executor.NewMigrationFile("migrations/20240102000000_create_albums.sql"),
		},
		{
			Outcome:         executor.OutcomeFailed,
			Migration:       executor.NewMigrationFile("migrations/20240103000000_add_genre.sql"),
			Error:           "column \"genre\" of relation \"tracks\" already exists",
			FailedStatement: "ALTER TABLE tracks ADD COLUMN genre TEXT;",
			FallbackPath:    "migrations/manual/20240103000000_add_genre.sql",
		},
	}
}

func sampleSnapshot() *statecache.Snapshot {
	return &statecache.Snapshot{
		Database: statecache.DatabaseState{
			Tables:             []string{"tracks", "albums"},
			Indexes:            []string{"idx_tracks_album_id"},
			MigrationsExecuted: []string{"20240101000000_create_tracks.sql"},
		},
		Features: map[string]statecache.FeatureState{
			"library":   {Implemented: true, Tables: []string{"tracks"}},
			"playlists": {Tables: []string{"playlists"}},
		},
		Timestamp:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Fingerprint: "0123456789abcdef0123",
	}
}

func TestNewRenderer(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", "*output.JSONRenderer"},
		{"text", "*output.TextRenderer"},
		{"", "*output.TextRenderer"},
		{"yaml", "*output.TextRenderer"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			r := NewRenderer(tt.format, &buf)
			switch r.(type) {
			case *JSONRenderer:
				if tt.want != "*output.JSONRenderer" {
					t.Errorf("NewRenderer(%q) = JSONRenderer, want %s", tt.format, tt.want)
				}
			case *TextRenderer:
				if tt.want != "*output.TextRenderer" {
					t.Errorf("NewRenderer(%q) = TextRenderer, want %s", tt.format, tt.want)
				}
			default:
				t.Errorf("NewRenderer(%q) returned unexpected type %T", tt.format, r)
			}
		})
	}
}

func TestJSONRenderer_Results(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer("json", &buf).RenderResults(sampleResults())

	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d results, want 3", len(decoded))
	}
	if decoded[0]["outcome"] != "success" || decoded[2]["outcome"] != "failed" {
		t.Errorf("outcomes = %v, %v", decoded[0]["outcome"], decoded[2]["outcome"])
	}
	if decoded[2]["fallbackPath"] != "migrations/manual/20240103000000_add_genre.sql" {
		t.Errorf("fallbackPath = %v", decoded[2]["fallbackPath"])
	}
}

func TestJSONRenderer_EmptyResults(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer("json", &buf).RenderResults(nil)
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("RenderResults(nil) = %q, want []", got)
	}
}

func TestJSONRenderer_Debug(t *testing.T) {
	report := &executor.DebugReport{
		Migration: executor.NewMigrationFile("m.sql"),
		Statements: []executor.DebugStatement{
			{Index: 0, Line: 1, Kind: sqlparse.KindCreateTable, SQL: "CREATE TABLE IF NOT EXISTS a (id INT);"},
		},
		ServerCount: 1,
		Validation:  idempotency.Report{IsIdempotent: true, Issues: []string{}},
	}

	var buf bytes.Buffer
	NewRenderer("json", &buf).RenderDebug(report)

	var decoded struct {
		Statements []struct {
			Kind string `json:"kind"`
		} `json:"statements"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded.Statements) != 1 || decoded.Statements[0].Kind != "create_table" {
		t.Errorf("statements = %+v", decoded.Statements)
	}
}

func TestTextRenderer_Results(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer("text", &buf).RenderResults(sampleResults())
	out := buf.String()

	for _, want := range []string{
		"20240101000000_create_tracks.sql",
		"already executed",
		"20240103000000_add_genre.sql",
		"already exists",
		"migrations/manual/20240103000000_add_genre.sql",
		"1 applied, 1 skipped, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestTextRenderer_NoResults(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer("text", &buf).RenderResults(nil)
	if !strings.Contains(buf.String(), "No migrations to run") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTextRenderer_Status(t *testing.T) {
	status := &executor.Status{
		Executed: []*state.MigrationRecord{
			{Filename: "20240101000000_create_tracks.sql", ExecutedAt: time.Now(), RollbackSQL: "DROP TABLE IF EXISTS tracks CASCADE;"},
		},
		Pending:  []executor.MigrationFile{executor.NewMigrationFile("20240102000000_create_albums.sql")},
		Orphaned: []*state.MigrationRecord{{Filename: "20230101000000_old.sql"}},
	}

	var buf bytes.Buffer
	NewRenderer("text", &buf).RenderStatus(status)
	out := buf.String()

	for _, want := range []string{"Migration status", "rollback available", "pending", "20230101000000_old.sql", "no file found"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestTextRenderer_Debug(t *testing.T) {
	report := &executor.DebugReport{
		Migration: executor.NewMigrationFile("m.sql"),
		Statements: []executor.DebugStatement{
			{Index: 0, Line: 1, Kind: sqlparse.KindCreateTable, SQL: "CREATE TABLE a (id INT);"},
			{Index: 1, Line: 3, Kind: sqlparse.KindInsert, SQL: "INSERT INTO a VALUES (1);"},
		},
		ServerCount: 1,
		Validation:  idempotency.Report{Issues: []string{"CREATE TABLE without IF NOT EXISTS"}},
		Rollback: []rollback.Action{
			{Kind: sqlparse.KindInsert, Reason: "inserted rows cannot be identified"},
		},
	}

	var buf bytes.Buffer
	NewRenderer("text", &buf).RenderDebug(report)
	out := buf.String()

	for _, want := range []string{"#1", "#2", "create_table", "splitter disagrees", "CREATE TABLE without IF NOT EXISTS", "inserted rows cannot be identified"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestTextRenderer_Schema(t *testing.T) {
	tests := []struct {
		name   string
		report *executor.SchemaReport
		want   []string
	}{
		{
			name:   "valid",
			report: &executor.SchemaReport{Valid: true, Method: "catalog"},
			want:   []string{"schema matches", "catalog", "none"},
		},
		{
			name:   "missing tables",
			report: &executor.SchemaReport{Missing: []string{"playlists"}, Extra: []string{"legacy"}, Method: "catalog"},
			want:   []string{"schema differs", "playlists", "legacy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewRenderer("text", &buf).RenderSchema(tt.report)
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %q\n%s", want, buf.String())
				}
			}
		})
	}
}

func TestTextRenderer_Snapshot(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer("text", &buf).RenderSnapshot(sampleSnapshot())
	out := buf.String()

	for _, want := range []string{"System state", "0123456789abcdef", "library", "playlists", "not implemented"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abcdef0123") {
		t.Error("fingerprint should be truncated")
	}
}

func TestTextRenderer_Validation(t *testing.T) {
	results := []FileValidation{
		{
			Path:       "migrations/a.sql",
			Statements: 2,
			Validation: idempotency.Report{IsIdempotent: true, Issues: []string{}},
		},
		{
			Path:       "migrations/b.sql",
			Statements: 1,
			Validation: idempotency.Report{Issues: []string{"CREATE INDEX without IF NOT EXISTS"}},
			Impact:     &impact.Report{TablesModified: []string{"tracks"}},
			Executed:   true,
			Fixed:      true,
			BackupPath: "migrations/b.sql.20240501T100000.bak",
		},
	}

	var buf bytes.Buffer
	NewRenderer("text", &buf).RenderValidation(results)
	out := buf.String()

	for _, want := range []string{"migrations/a.sql", "idempotent", "CREATE INDEX without IF NOT EXISTS", "b.sql.20240501T100000.bak", "already executed", "touches existing tables: tracks"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestTextRenderer_AddTable(t *testing.T) {
	t.Run("skipped", func(t *testing.T) {
		var buf bytes.Buffer
		NewRenderer("text", &buf).RenderAddTable(&agent.AddTableResult{Table: "tracks", Skipped: true, Reason: "table already exists"})
		if !strings.Contains(buf.String(), "tracks: table already exists") {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("dry run prints SQL", func(t *testing.T) {
		var buf bytes.Buffer
		NewRenderer("text", &buf).RenderAddTable(&agent.AddTableResult{
			Table:      "recently_played",
			SQL:        "CREATE TABLE IF NOT EXISTS \"recently_played\" (id UUID);",
			Validation: idempotency.Report{IsIdempotent: true, Issues: []string{}},
			Impact:     &impact.Report{TablesCreated: []string{"recently_played"}},
		})
		out := buf.String()
		for _, want := range []string{"New table recently_played", "CREATE TABLE IF NOT EXISTS", "none"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q\n%s", want, out)
			}
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"  padded  ", 10, "padded"},
		{"abcdef", 3, "abc…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
