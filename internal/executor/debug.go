package executor

import (
	"fmt"
	"os"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/rollback"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
)

// DebugStatement is one parsed statement of a debugged file
type DebugStatement struct {
	Index     int           `json:"index"`
	Line      int           `json:"line"`
	Kind      sqlparse.Kind `json:"kind"`
	SQL       string        `json:"sql"`
	LintError string        `json:"lintError,omitempty"`
}

// DebugReport shows how a migration file would be executed without touching the database
type DebugReport struct {
	Migration   MigrationFile      `json:"migration"`
	Statements  []DebugStatement   `json:"statements"`
	ServerCount int                `json:"serverCount"`
	ServerError string             `json:"serverError,omitempty"`
	Validation  idempotency.Report `json:"validation"`
	Rollback    []rollback.Action  `json:"rollback"`
	RollbackSQL string             `json:"rollbackSql,omitempty"`
}

// Mismatch reports whether the server grammar split the file differently
func (r *DebugReport) Mismatch() bool {
	return r.ServerError == "" && r.ServerCount != len(r.Statements)
}

// Debug parses path and reports statements, lint errors, idempotency issues
// and the rollback that would be recorded
func Debug(path string) (*DebugReport, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file: %w", err)
	}
	script := string(content)

	report := &DebugReport{Migration: NewMigrationFile(path)}

	parsed := sqlparse.Parse(script)
	sqls := make([]string, 0, len(parsed))
	for i, stmt := range parsed {
		ds := DebugStatement{Index: i + 1, Line: stmt.Line, Kind: stmt.Kind, SQL: stmt.SQL}
		if err := sqlparse.Lint(stmt.SQL); err != nil {
			ds.LintError = err.Error()
		}
		report.Statements = append(report.Statements, ds)
		sqls = append(sqls, stmt.SQL)
	}

	if server, err := sqlparse.ServerSplit(script); err != nil {
		report.ServerError = err.Error()
	} else {
		report.ServerCount = len(server)
	}

	report.Validation = idempotency.Validate(script)
	report.Rollback = rollback.Plan(sqls)
	report.RollbackSQL, _ = rollback.Script(report.Rollback)
	return report, nil
}
