package statecache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/state"
)

// Inspector reads the database catalog
type Inspector interface {
	ListTables(ctx context.Context) ([]string, error)
	ListIndexes(ctx context.Context) ([]string, error)
	ListFunctions(ctx context.Context) ([]string, error)
	ListPolicies(ctx context.Context) ([]string, error)
}

// MigrationLister lists executed migrations
type MigrationLister interface {
	List(ctx context.Context) ([]*state.MigrationRecord, error)
}

// FeatureDefinition ties a feature to the tables, routes and components that implement it
type FeatureDefinition struct {
	Name       string   `mapstructure:"name" yaml:"name" json:"name"`
	Tables     []string `mapstructure:"tables" yaml:"tables" json:"tables"`
	APIs       []string `mapstructure:"apis" yaml:"apis" json:"apis"`
	Components []string `mapstructure:"components" yaml:"components" json:"components"`
}

// Builder assembles snapshots from the database and the project files
type Builder struct {
	inspector  Inspector
	migrations MigrationLister
	scanner    *Scanner
	features   []FeatureDefinition
	now        func() time.Time
}

// NewBuilder creates a builder. migrations and scanner may be nil.
func NewBuilder(inspector Inspector, migrations MigrationLister, scanner *Scanner, features []FeatureDefinition) *Builder {
	return &Builder{
		inspector:  inspector,
		migrations: migrations,
		scanner:    scanner,
		features:   features,
		now:        time.Now,
	}
}

// Build reads everything and returns a complete snapshot. Only a failure to
// list tables is fatal; other sources degrade to empty lists.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{Timestamp: b.now().UTC()}

	tables, err := b.inspector.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	snapshot.Database.Tables = nonNil(tables)
	snapshot.Database.Indexes = b.list(ctx, "indexes", b.inspector.ListIndexes)
	snapshot.Database.Functions = b.list(ctx, "functions", b.inspector.ListFunctions)
	snapshot.Database.Policies = b.list(ctx, "policies", b.inspector.ListPolicies)

	snapshot.Database.MigrationsExecuted = []string{}
	if b.migrations != nil {
		records, err := b.migrations.List(ctx)
		if err != nil {
			logger.Warnf("Could not list executed migrations: %v", err)
		}
		for _, r := range records {
			snapshot.Database.MigrationsExecuted = append(snapshot.Database.MigrationsExecuted, r.Filename)
		}
	}

	snapshot.API.Routes = []Route{}
	snapshot.Components.Components = []Component{}
	if b.scanner != nil {
		if routes, err := b.scanner.Routes(); err != nil {
			logger.Warnf("Could not scan API routes: %v", err)
		} else {
			snapshot.API.Routes = routes
		}
		if components, err := b.scanner.Components(); err != nil {
			logger.Warnf("Could not scan components: %v", err)
		} else {
			snapshot.Components.Components = components
		}
	}

	snapshot.Features = deriveFeatures(snapshot, b.features)
	return snapshot, nil
}

func (b *Builder) list(ctx context.Context, what string, fn func(context.Context) ([]string, error)) []string {
	names, err := fn(ctx)
	if err != nil {
		logger.Warnf("Could not list %s: %v", what, err)
		return []string{}
	}
	return nonNil(names)
}

// deriveFeatures marks a feature implemented when all of its tables and API
// routes exist. Without definitions every table is treated as a feature
// served at /api/<table-name-in-kebab-case>.
func deriveFeatures(s *Snapshot, definitions []FeatureDefinition) map[string]FeatureState {
	if len(definitions) == 0 {
		for _, t := range s.Database.Tables {
			definitions = append(definitions, FeatureDefinition{
				Name:   t,
				Tables: []string{t},
				APIs:   []string{"/api/" + strings.ReplaceAll(t, "_", "-")},
			})
		}
	}

	features := make(map[string]FeatureState, len(definitions))
	for _, def := range definitions {
		implemented := len(def.Tables) > 0 || len(def.APIs) > 0
		for _, t := range def.Tables {
			if !s.HasTable(t) {
				implemented = false
			}
		}
		for _, api := range def.APIs {
			if !s.HasRoute(api) {
				implemented = false
			}
		}

		components := def.Components
		if len(components) == 0 {
			components = componentsUsing(s.Components.Components, def)
		}
		features[def.Name] = FeatureState{
			Implemented: implemented,
			Tables:      nonNil(def.Tables),
			APIs:        nonNil(def.APIs),
			Components:  nonNil(components),
		}
	}
	return features
}

func componentsUsing(components []Component, def FeatureDefinition) []string {
	want := make(map[string]bool)
	for _, t := range def.Tables {
		want["t:"+t] = true
	}
	for _, a := range def.APIs {
		want["a:"+a] = true
	}

	var names []string
	for _, c := range components {
		match := false
		for _, t := range c.Tables {
			match = match || want["t:"+t]
		}
		for _, a := range c.APIs {
			match = match || want["a:"+strings.TrimSuffix(a, "/")]
		}
		if match {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
