package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/backends"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// Backend implements backends.Database for PostgreSQL
type Backend struct {
	db     *sql.DB
	config *backends.ConnectionConfig

	// execAvailable is set when ExecFunction is configured and exists
	execAvailable bool
}

// NewBackend creates a new PostgreSQL backend
func NewBackend() *Backend {
	return &Backend{}
}

// NewBackendWithDB wraps an open database handle, probing the exec function if one is configured
func NewBackendWithDB(ctx context.Context, db *sql.DB, config *backends.ConnectionConfig) (*Backend, error) {
	b := &Backend{db: db, config: config}
	if err := b.probeExecFunction(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "postgresql"
}

// DB exposes the connection pool so the migration tracker can share it
func (b *Backend) DB() *sql.DB {
	return b.db
}

// DSN builds a connection string from config
func DSN(config *backends.ConnectionConfig) string {
	if config.URL != "" {
		return config.URL
	}
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host,
		config.Port,
		config.Username,
		config.Password,
		config.Database,
		sslMode,
	)
}

// Connect establishes a connection to PostgreSQL
func (b *Backend) Connect(ctx context.Context, config *backends.ConnectionConfig) error {
	b.config = config

	var err error
	b.db, err = sql.Open("pgx", DSN(config))
	if err != nil {
		return fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	// Configure connection pool settings
	configureConnectionPool(b.db)

	// Test connection
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return b.probeExecFunction(ctx)
}

func (b *Backend) probeExecFunction(ctx context.Context) error {
	if b.config == nil || b.config.ExecFunction == "" {
		return nil
	}
	query := `SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1)`
	if err := b.db.QueryRowContext(ctx, query, b.config.ExecFunction).Scan(&b.execAvailable); err != nil {
		return fmt.Errorf("failed to check for function %s: %w", b.config.ExecFunction, err)
	}
	if !b.execAvailable {
		logger.Warnf("Function %s() not found; statements will be written for manual execution", b.config.ExecFunction)
	}
	return nil
}

// Close closes the PostgreSQL connection
func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// ExecSQL executes sql directly, or through the configured exec function
func (b *Backend) ExecSQL(ctx context.Context, query string) error {
	if b.db == nil {
		return fmt.Errorf("database connection not initialized")
	}

	if b.config != nil && b.config.ExecFunction != "" {
		if !b.execAvailable {
			return backends.ErrExecUnavailable
		}
		call := fmt.Sprintf("SELECT %s($1)", pq.QuoteIdentifier(b.config.ExecFunction))
		if _, err := b.db.ExecContext(ctx, call, query); err != nil {
			return describeError(err)
		}
		return nil
	}

	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return describeError(err)
	}
	return nil
}

// ListTables returns base tables in the configured schema
func (b *Backend) ListTables(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	return b.listNames(ctx, "tables", query)
}

// ListIndexes returns indexes in the configured schema
func (b *Backend) ListIndexes(ctx context.Context) ([]string, error) {
	query := `SELECT indexname FROM pg_indexes WHERE schemaname = $1 ORDER BY indexname`
	return b.listNames(ctx, "indexes", query)
}

// ListFunctions returns routines in the configured schema
func (b *Backend) ListFunctions(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT routine_name
		FROM information_schema.routines
		WHERE routine_schema = $1
		ORDER BY routine_name
	`
	return b.listNames(ctx, "functions", query)
}

// ListPolicies returns row level security policies in the configured schema
func (b *Backend) ListPolicies(ctx context.Context) ([]string, error) {
	query := `SELECT policyname FROM pg_policies WHERE schemaname = $1 ORDER BY policyname`
	return b.listNames(ctx, "policies", query)
}

func (b *Backend) listNames(ctx context.Context, what, query string) ([]string, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database connection not initialized")
	}
	rows, err := b.db.QueryContext(ctx, query, b.config.SchemaName())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	return names, nil
}

// TableExists checks if a table exists in the configured schema
func (b *Backend) TableExists(ctx context.Context, table string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`
	var exists bool
	err := b.db.QueryRowContext(ctx, query, b.config.SchemaName(), table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return exists, nil
}

// TableQueryable runs SELECT 1 FROM table LIMIT 1
func (b *Backend) TableQueryable(ctx context.Context, table string) error {
	query := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", pq.QuoteIdentifier(table))
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return describeError(err)
	}
	defer rows.Close()
	return rows.Err()
}

// HealthCheck verifies the backend is accessible
func (b *Backend) HealthCheck(ctx context.Context) error {
	if b.db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	return b.db.PingContext(ctx)
}

// describeError appends the detail and hint of server errors to the message
func describeError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	var parts []string
	if pgErr.Detail != "" {
		parts = append(parts, "detail: "+pgErr.Detail)
	}
	if pgErr.Hint != "" {
		parts = append(parts, "hint: "+pgErr.Hint)
	}
	if len(parts) == 0 {
		return err
	}
	return fmt.Errorf("%w (%s)", err, strings.Join(parts, ", "))
}

// configureConnectionPool configures the database connection pool with reasonable defaults
// that can be overridden via environment variables
func configureConnectionPool(db *sql.DB) {
	// Migrations run one statement at a time; a small pool is enough
	db.SetMaxOpenConns(getEnvInt("DBAGENT_DB_MAX_OPEN_CONNS", 4))
	db.SetMaxIdleConns(getEnvInt("DBAGENT_DB_MAX_IDLE_CONNS", 2))
	db.SetConnMaxLifetime(time.Duration(getEnvInt("DBAGENT_DB_CONN_MAX_LIFETIME_MINUTES", 5)) * time.Minute)
	db.SetConnMaxIdleTime(time.Duration(getEnvInt("DBAGENT_DB_CONN_MAX_IDLE_TIME_MINUTES", 1)) * time.Minute)
}

// getEnvInt gets an integer environment variable or returns the default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
