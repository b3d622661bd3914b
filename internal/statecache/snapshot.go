// Package statecache builds and caches a point-in-time view of the target
// system: database objects, executed migrations, API routes, UI components
// and the features they add up to. Snapshots are built completely before they
// are stored, and stored snapshots expire after a TTL.
package statecache

import (
	"encoding/json"
	"strings"
	"time"
)

// Snapshot is the system state at Timestamp
type Snapshot struct {
	Database    DatabaseState           `json:"database"`
	API         APIState                `json:"api"`
	Components  ComponentState          `json:"components"`
	Features    map[string]FeatureState `json:"features"`
	Timestamp   time.Time               `json:"timestamp"`
	Fingerprint string                  `json:"fingerprint,omitempty"`
}

// DatabaseState lists the objects present in the target schema
type DatabaseState struct {
	Tables             []string `json:"tables"`
	Indexes            []string `json:"indexes"`
	Functions          []string `json:"functions"`
	Policies           []string `json:"policies"`
	MigrationsExecuted []string `json:"migrationsExecuted"`
}

// APIState lists discovered API routes
type APIState struct {
	Routes []Route `json:"routes"`
}

// Route is one route-definition file and the HTTP methods it exports
type Route struct {
	Path         string    `json:"path"`
	File         string    `json:"file"`
	Methods      []string  `json:"methods"`
	Exists       bool      `json:"exists"`
	LastModified time.Time `json:"lastModified"`
}

// ComponentState lists discovered UI components
type ComponentState struct {
	Components []Component `json:"components"`
}

// Component is a source file with its database-usage indicators
type Component struct {
	Name         string    `json:"name"`
	File         string    `json:"file"`
	UsesDatabase bool      `json:"usesDatabase"`
	Tables       []string  `json:"tables,omitempty"`
	APIs         []string  `json:"apis,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// FeatureState reports whether a feature's tables and routes all exist
type FeatureState struct {
	Implemented bool     `json:"implemented"`
	Tables      []string `json:"tables"`
	APIs        []string `json:"apis"`
	Components  []string `json:"components"`
}

// HasTable reports whether the snapshot lists table. The answer can be
// stale; use Cache.TableExists before acting on it.
func (s *Snapshot) HasTable(table string) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Database.Tables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}

// HasRoute reports whether an API route file exists for path
func (s *Snapshot) HasRoute(path string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.API.Routes {
		if r.Exists && r.Path == path {
			return true
		}
	}
	return false
}

// MigrationExecuted reports whether filename is recorded as executed
func (s *Snapshot) MigrationExecuted(filename string) bool {
	if s == nil {
		return false
	}
	for _, m := range s.Database.MigrationsExecuted {
		if m == filename {
			return true
		}
	}
	return false
}

// Age is the time elapsed since the snapshot was built
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Timestamp.IsZero() {
		return nil, errMissingTimestamp
	}
	return &s, nil
}
