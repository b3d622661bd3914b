package sqlparse

import (
	"fmt"

	pgquery "github.com/pganalyze/pg_query_go/v6"
)

// Lint checks stmt against the PostgreSQL server grammar without touching a database
func Lint(stmt string) error {
	result, err := pgquery.Parse(stmt)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	if len(result.Stmts) == 0 {
		return fmt.Errorf("no statement found")
	}
	return nil
}

// ServerSplit splits script with the PostgreSQL server's own scanner. It is
// used as a cross-check for Split when debugging a migration.
func ServerSplit(script string) ([]string, error) {
	stmts, err := pgquery.SplitWithParser(script, true)
	if err != nil {
		return nil, fmt.Errorf("failed to split with server parser: %w", err)
	}
	out := make([]string, 0, len(stmts))
	for _, s := range stmts {
		if IsTransactionControl(s) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
