package state

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when no tracking record exists for a filename
var ErrRecordNotFound = errors.New("migration record not found")

// MigrationRecord is one row of the tracking table. It is written once when a
// migration succeeds and deleted only by rollback.
type MigrationRecord struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Description string    `json:"description"`
	ExecutedAt  time.Time `json:"executedAt"`
	RollbackSQL string    `json:"rollbackSql,omitempty"`
	Checksum    string    `json:"checksum"`
}

// HasRollback reports whether a rollback script was stored
func (r *MigrationRecord) HasRollback() bool {
	return r != nil && r.RollbackSQL != ""
}

// Tracker manages the migration tracking table
type Tracker interface {
	// Initialize creates the tracking table and its indexes if needed
	Initialize(ctx context.Context) error

	// IsExecuted checks whether filename has a tracking record
	IsExecuted(ctx context.Context, filename string) (bool, error)

	// Record inserts a tracking record
	Record(ctx context.Context, record *MigrationRecord) error

	// Get returns the record for filename or ErrRecordNotFound
	Get(ctx context.Context, filename string) (*MigrationRecord, error)

	// Delete removes the record for filename
	Delete(ctx context.Context, filename string) error

	// List returns all records ordered by execution time
	List(ctx context.Context) ([]*MigrationRecord, error)
}
