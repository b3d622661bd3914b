package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestNewAnthropicCompleter_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewAnthropicCompleter("", "")
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestNewAnthropicCompleter_EnvVarOverridesExplicitKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key-from-env")

	c, err := NewAnthropicCompleter("test-key-explicit", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != defaultModel {
		t.Errorf("model = %q, want %q", c.model, defaultModel)
	}
}

func TestAnthropicCompleter_ContextCancellation(t *testing.T) {
	c, err := NewAnthropicCompleter("test-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.initialBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Complete(ctx, "prompt"); err != context.Canceled {
		t.Errorf("expected context.Canceled error, got: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", context.DeadlineExceeded, false},
		{"generic error", errors.New("some error"), false},
		{"timeout error", timeoutErr{}, true},
		{"anthropic 429", &anthropic.Error{StatusCode: 429}, true},
		{"anthropic 503", &anthropic.Error{StatusCode: 503}, true},
		{"anthropic 401", &anthropic.Error{StatusCode: 401}, false},
		{"wrapped timeout", fmt.Errorf("wrap: %w", timeoutErr{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.expected {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	g, err := NewSQLGenerator(nil)
	if err != nil {
		t.Fatalf("NewSQLGenerator() error = %v", err)
	}

	prompt, err := g.RenderPrompt(&TableRequest{
		Table:          "playlist_tracks",
		Description:    "Tracks in a playlist, ordered by position",
		ExistingTables: []string{"playlists", "tracks"},
		EnableRLS:      true,
	})
	if err != nil {
		t.Fatalf("RenderPrompt() error = %v", err)
	}

	for _, want := range []string{
		`"playlist_tracks"`,
		"ordered by position",
		"playlists, tracks",
		"pg_policies",
		"CREATE TABLE IF NOT EXISTS",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRenderPrompt_OmitsEmptySections(t *testing.T) {
	g, _ := NewSQLGenerator(nil)
	prompt, err := g.RenderPrompt(&TableRequest{Table: "albums"})
	if err != nil {
		t.Fatalf("RenderPrompt() error = %v", err)
	}
	if strings.Contains(prompt, "Purpose:") || strings.Contains(prompt, "Existing tables") || strings.Contains(prompt, "row level security") {
		t.Errorf("prompt should omit empty sections:\n%s", prompt)
	}
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "sql fence",
			text: "Here you go:\n```sql\nCREATE TABLE IF NOT EXISTS a (id int);\n```\nDone.",
			want: "CREATE TABLE IF NOT EXISTS a (id int);\n",
		},
		{
			name: "bare fence",
			text: "```\nSELECT 1;\n```",
			want: "SELECT 1;\n",
		},
		{
			name: "first block wins",
			text: "```sql\nSELECT 1;\n```\n```sql\nSELECT 2;\n```",
			want: "SELECT 1;\n",
		},
		{
			name: "no fence",
			text: "  SELECT 1;  ",
			want: "SELECT 1;\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractSQL(tt.text); got != tt.want {
				t.Errorf("ExtractSQL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerate_UsesCompleter(t *testing.T) {
	completer := &StaticCompleter{
		Response: "```sql\nCREATE TABLE IF NOT EXISTS podcasts (id uuid PRIMARY KEY);\n```",
	}
	g, _ := NewSQLGenerator(completer)

	sql, err := g.Generate(context.Background(), &TableRequest{Table: "podcasts", Description: "Podcast shows"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS podcasts") {
		t.Errorf("Generate() = %q", sql)
	}
	if len(completer.Prompts) != 1 || !strings.Contains(completer.Prompts[0], "Podcast shows") {
		t.Errorf("completer prompts = %v", completer.Prompts)
	}
}

func TestGenerate_RejectsWrongTable(t *testing.T) {
	g, _ := NewSQLGenerator(&StaticCompleter{Response: "CREATE TABLE IF NOT EXISTS episodes (id int);"})

	_, err := g.Generate(context.Background(), &TableRequest{Table: "podcasts"})
	if !errors.Is(err, ErrUnexpectedOutput) {
		t.Errorf("Generate() error = %v, want ErrUnexpectedOutput", err)
	}
}

func TestGenerate_CompleterError(t *testing.T) {
	boom := errors.New("boom")
	g, _ := NewSQLGenerator(&StaticCompleter{Err: boom})

	if _, err := g.Generate(context.Background(), &TableRequest{Table: "podcasts"}); !errors.Is(err, boom) {
		t.Errorf("Generate() error = %v, want wrapped boom", err)
	}
}

func TestGenerate_InvalidName(t *testing.T) {
	g, _ := NewSQLGenerator(nil)
	for _, name := range []string{"", "Tracks", "drop table x;", "1tracks"} {
		if _, err := g.Generate(context.Background(), &TableRequest{Table: name}); !errors.Is(err, ErrInvalidTableName) {
			t.Errorf("Generate(%q) error = %v, want ErrInvalidTableName", name, err)
		}
	}
}

func TestGenerate_ExplicitColumnsSkipCompleter(t *testing.T) {
	completer := &StaticCompleter{Err: errors.New("should not be called")}
	g, _ := NewSQLGenerator(completer)

	sql, err := g.Generate(context.Background(), &TableRequest{
		Table: "likes",
		Columns: []Column{
			{Name: "track_id", Type: "uuid", References: "tracks"},
			{Name: "liked", Type: "boolean", Default: "true"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(completer.Prompts) != 0 {
		t.Error("completer should not be called for explicit columns")
	}
	if got := sqlparse.CreatedTables(sql); len(got) != 1 || got[0] != "likes" {
		t.Errorf("CreatedTables() = %v, want [likes]", got)
	}
	if report := idempotency.Validate(sql); !report.IsIdempotent {
		t.Errorf("template SQL is not idempotent: %v\n%s", report.Issues, sql)
	}
}

func TestTemplateSQL(t *testing.T) {
	sql := TemplateSQL(&TableRequest{
		Table:       "likes",
		Description: "Liked tracks",
		Columns: []Column{
			{Name: "track_id", Type: "uuid", References: "tracks"},
			{Name: "note", Type: "text", Nullable: true},
		},
		EnableRLS: true,
	})

	for _, want := range []string{
		"-- Liked tracks",
		`CREATE TABLE IF NOT EXISTS "likes" (`,
		"id UUID PRIMARY KEY DEFAULT gen_random_uuid()",
		`"track_id" UUID NOT NULL REFERENCES "tracks"(id) ON DELETE CASCADE`,
		`"note" TEXT,`,
		"created_at TIMESTAMPTZ NOT NULL DEFAULT now()",
		`CREATE INDEX IF NOT EXISTS "idx_likes_track_id" ON "likes" ("track_id");`,
		`ALTER TABLE "likes" ENABLE ROW LEVEL SECURITY;`,
		"pg_policies",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("TemplateSQL() missing %q:\n%s", want, sql)
		}
	}
}

func TestTemplateSQL_KeepsExplicitID(t *testing.T) {
	sql := TemplateSQL(&TableRequest{
		Table:   "genres",
		Columns: []Column{{Name: "id", Type: "text"}, {Name: "created_at", Type: "timestamptz", Default: "now()"}},
	})
	if strings.Contains(sql, "gen_random_uuid") {
		t.Errorf("TemplateSQL() added a second id column:\n%s", sql)
	}
	if strings.Count(sql, "created_at") != 1 {
		t.Errorf("TemplateSQL() duplicated created_at:\n%s", sql)
	}
	if !strings.Contains(sql, `"id" TEXT PRIMARY KEY`) {
		t.Errorf("TemplateSQL() lost explicit id:\n%s", sql)
	}
}

func TestGenerate_AppendsSeed(t *testing.T) {
	g, _ := NewSQLGenerator(nil)
	sql, err := g.Generate(context.Background(), &TableRequest{
		Table: "genres",
		Seed: &idempotency.SeedData{
			Columns: []string{"id", "name"},
			Rows:    [][]interface{}{{"rock", "Rock"}, {"jazz", "Jazz"}},
		},
		SeedStrategy: idempotency.StrategyUpsert,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(sql, "ON CONFLICT") || !strings.Contains(sql, "'Jazz'") {
		t.Errorf("Generate() missing seed upsert:\n%s", sql)
	}
}
