package backends

import (
	"context"
	"errors"
)

// ErrExecUnavailable is returned by ExecSQL when the configured execution
// function does not exist in the target database. Callers fall back to
// writing a script for manual execution.
var ErrExecUnavailable = errors.New("sql execution function is not available")

// Database is the executor's boundary with the target database: arbitrary
// SQL execution plus catalog introspection
type Database interface {
	// Name returns the name of the backend (e.g., "postgresql")
	Name() string

	// Connect establishes a connection to the database
	Connect(ctx context.Context, config *ConnectionConfig) error

	// Close closes the connection
	Close() error

	// ExecSQL executes one statement or script
	ExecSQL(ctx context.Context, sql string) error

	// ListTables returns the user tables of the configured schema
	ListTables(ctx context.Context) ([]string, error)

	// ListIndexes returns the index names of the configured schema
	ListIndexes(ctx context.Context) ([]string, error)

	// ListFunctions returns the function and procedure names of the configured schema
	ListFunctions(ctx context.Context) ([]string, error)

	// ListPolicies returns the row level security policy names of the configured schema
	ListPolicies(ctx context.Context) ([]string, error)

	// TableExists checks the catalog for a table
	TableExists(ctx context.Context, table string) (bool, error)

	// TableQueryable runs a trial SELECT against table
	TableQueryable(ctx context.Context, table string) error

	// HealthCheck verifies the database is accessible
	HealthCheck(ctx context.Context) error
}

// ConnectionConfig holds configuration for a database connection
type ConnectionConfig struct {
	URL          string // full connection string; takes precedence over the fields below
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	Schema       string // schema inspected and used for unqualified names, "public" when empty
	ExecFunction string // optional SQL function statements are routed through, e.g. exec_sql
}

// SchemaName returns the configured schema or public
func (c *ConnectionConfig) SchemaName() string {
	if c == nil || c.Schema == "" {
		return "public"
	}
	return c.Schema
}
