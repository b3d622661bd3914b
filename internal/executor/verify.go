package executor

import (
	"context"
	"sort"
	"strings"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// SchemaReport compares expected tables with the live database
type SchemaReport struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing"`
	Extra   []string `json:"extra"`
	// Method is "catalog" when the table list was read from the catalog and
	// "probe" when each expected table was queried instead
	Method string `json:"method"`
}

// systemTablePrefixes mark tables that are never part of the application schema
var systemTablePrefixes = []string{"pg_", "sql_", "_"}

// VerifyDatabaseSchema reports expected tables that are missing and
// unexpected tables that exist. When the catalog cannot be read each expected
// table is probed directly and Extra stays empty.
func (e *Executor) VerifyDatabaseSchema(ctx context.Context, expected []string) (*SchemaReport, error) {
	want := make(map[string]bool, len(expected))
	for _, t := range expected {
		want[strings.ToLower(t)] = true
	}

	tables, err := e.db.ListTables(ctx)
	if err != nil {
		logger.Warnf("Could not list tables, probing expected tables instead: %v", err)
		return e.probeSchema(ctx, expected), nil
	}

	report := &SchemaReport{Method: "catalog", Missing: []string{}, Extra: []string{}}
	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		name := strings.ToLower(t)
		if e.isSystemTable(name) {
			continue
		}
		have[name] = true
		if !want[name] {
			report.Extra = append(report.Extra, t)
		}
	}
	for _, t := range expected {
		if !have[strings.ToLower(t)] {
			report.Missing = append(report.Missing, t)
		}
	}

	sort.Strings(report.Missing)
	sort.Strings(report.Extra)
	report.Valid = len(report.Missing) == 0
	return report, nil
}

func (e *Executor) probeSchema(ctx context.Context, expected []string) *SchemaReport {
	report := &SchemaReport{Method: "probe", Missing: []string{}, Extra: []string{}}
	for _, t := range expected {
		if err := e.db.TableQueryable(ctx, t); err != nil {
			logger.Debugf("Probe of %s failed: %v", t, err)
			report.Missing = append(report.Missing, t)
		}
	}
	sort.Strings(report.Missing)
	report.Valid = len(report.Missing) == 0
	return report
}

func (e *Executor) isSystemTable(name string) bool {
	if name == strings.ToLower(e.opts.TrackingTable) {
		return true
	}
	for _, prefix := range systemTablePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
