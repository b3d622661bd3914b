// Package generator produces CREATE TABLE migrations, either from an explicit
// column list or by asking a text completion model.
package generator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
)

var (
	// ErrInvalidTableName is returned for names that are not plain identifiers
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrUnexpectedOutput is returned when generated SQL does not create the requested table
	ErrUnexpectedOutput = errors.New("generated SQL does not create the requested table")
)

var (
	tableNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	fencedRE    = regexp.MustCompile("(?s)```(?:sql|postgresql|pgsql|postgres)?[ \\t]*\\r?\\n(.*?)```")
)

// Column describes one column of a requested table
type Column struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	Nullable   bool   `json:"nullable,omitempty" yaml:"nullable"`
	Default    string `json:"default,omitempty" yaml:"default"`
	References string `json:"references,omitempty" yaml:"references"`
}

// TableRequest asks for a new table
type TableRequest struct {
	Table          string                `json:"table" yaml:"table"`
	Description    string                `json:"description,omitempty" yaml:"description"`
	Columns        []Column              `json:"columns,omitempty" yaml:"columns"`
	EnableRLS      bool                  `json:"enableRls,omitempty" yaml:"enable_rls"`
	Seed           *idempotency.SeedData `json:"seed,omitempty" yaml:"seed"`
	SeedStrategy   idempotency.Strategy  `json:"seedStrategy,omitempty" yaml:"seed_strategy"`
	ExistingTables []string              `json:"-" yaml:"-"`
}

// Validate checks the table name
func (r *TableRequest) Validate() error {
	if !tableNameRE.MatchString(r.Table) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, r.Table)
	}
	return nil
}

const promptTemplate = `You are writing a PostgreSQL migration for a music streaming app backed by Supabase.

Create a table named "{{.Table}}".
{{- if .Description}}
Purpose: {{.Description}}
{{- end}}
{{- if .ExistingTables}}
Existing tables that may be referenced with foreign keys: {{join .ExistingTables ", "}}
{{- end}}

Rules:
- Use CREATE TABLE IF NOT EXISTS and CREATE INDEX IF NOT EXISTS.
- Use uuid primary keys with DEFAULT gen_random_uuid() and timestamptz for times.
- Add indexes for foreign keys and columns used for sorting.
- Do not use BEGIN, COMMIT or ROLLBACK.
{{- if .EnableRLS}}
- Enable row level security. Create each policy inside a DO block that checks pg_policies first.
{{- end}}

Return only the SQL inside a single sql fenced code block.
`

// SQLGenerator turns table requests into migration SQL
type SQLGenerator struct {
	completer Completer
	prompt    *template.Template
}

// NewSQLGenerator creates a generator. A nil completer limits generation to
// the built-in template.
func NewSQLGenerator(completer Completer) (*SQLGenerator, error) {
	tmpl, err := template.New("table").Funcs(template.FuncMap{"join": strings.Join}).Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &SQLGenerator{completer: completer, prompt: tmpl}, nil
}

// Generate returns the DDL (and seed statements) for req. Requests with an
// explicit column list, or without a completer, use the built-in template.
func (g *SQLGenerator) Generate(ctx context.Context, req *TableRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var ddl string
	if len(req.Columns) > 0 || g.completer == nil {
		ddl = TemplateSQL(req)
	} else {
		prompt, err := g.RenderPrompt(req)
		if err != nil {
			return "", err
		}
		text, err := g.completer.Complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("failed to generate SQL for %s: %w", req.Table, err)
		}
		ddl = ExtractSQL(text)
		if !createsTable(ddl, req.Table) {
			return "", fmt.Errorf("%w: %s", ErrUnexpectedOutput, req.Table)
		}
	}

	if req.Seed == nil || len(req.Seed.Rows) == 0 {
		return ddl, nil
	}
	seed := *req.Seed
	if seed.Table == "" {
		seed.Table = req.Table
	}
	strategy := req.SeedStrategy
	if strategy == "" {
		strategy = idempotency.StrategyAuto
	}
	seedSQL, err := idempotency.SeedSQL(seed, strategy)
	if err != nil {
		return "", fmt.Errorf("failed to generate seed data for %s: %w", req.Table, err)
	}
	return strings.TrimRight(ddl, "\n") + "\n\n" + seedSQL, nil
}

// RenderPrompt renders the completion prompt for req
func (g *SQLGenerator) RenderPrompt(req *TableRequest) (string, error) {
	var b strings.Builder
	if err := g.prompt.Execute(&b, req); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}

// ExtractSQL returns the contents of the first fenced code block, or the
// whole text when there is none
func ExtractSQL(text string) string {
	if m := fencedRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]) + "\n"
	}
	return strings.TrimSpace(text) + "\n"
}

func createsTable(sql, table string) bool {
	for _, t := range sqlparse.CreatedTables(sql) {
		if t == table {
			return true
		}
	}
	return false
}

// TemplateSQL renders req without a model. Missing id and created_at columns are added.
func TemplateSQL(req *TableRequest) string {
	table := idempotency.QuoteQualified(req.Table)
	columns := req.Columns

	var defs []string
	hasID, hasCreated := false, false
	for _, c := range columns {
		hasID = hasID || c.Name == "id"
		hasCreated = hasCreated || c.Name == "created_at"
	}
	if !hasID {
		defs = append(defs, "id UUID PRIMARY KEY DEFAULT gen_random_uuid()")
	}
	var indexes []string
	for _, c := range columns {
		def := fmt.Sprintf("%s %s", idempotency.QuoteQualified(c.Name), strings.ToUpper(c.Type))
		if c.Name == "id" {
			def += " PRIMARY KEY"
		} else if !c.Nullable {
			def += " NOT NULL"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		if c.References != "" {
			def += fmt.Sprintf(" REFERENCES %s(id) ON DELETE CASCADE", idempotency.QuoteQualified(c.References))
			indexes = append(indexes, c.Name)
		}
		defs = append(defs, def)
	}
	if !hasCreated {
		defs = append(defs, "created_at TIMESTAMPTZ NOT NULL DEFAULT now()")
	}

	var b strings.Builder
	if req.Description != "" {
		fmt.Fprintf(&b, "-- %s\n", req.Description)
	}
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n  %s\n);\n", table, strings.Join(defs, ",\n  "))
	for _, col := range indexes {
		fmt.Fprintf(&b, "\nCREATE INDEX IF NOT EXISTS %s ON %s (%s);\n",
			idempotency.QuoteQualified("idx_"+req.Table+"_"+col), table, idempotency.QuoteQualified(col))
	}
	if req.EnableRLS {
		fmt.Fprintf(&b, "\nALTER TABLE %s ENABLE ROW LEVEL SECURITY;\n\n", table)
		b.WriteString(idempotency.PolicySQL(req.Table+"_read", req.Table, "FOR SELECT USING (true)"))
	}
	return b.String()
}
