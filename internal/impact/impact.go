// Package impact classifies what a migration script would do to the current
// system state without executing it.
package impact

import (
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

// Report lists the objects a script creates or touches
type Report struct {
	TablesCreated   []string `json:"tablesCreated"`
	TablesModified  []string `json:"tablesModified"`
	IndexesCreated  []string `json:"indexesCreated"`
	PoliciesCreated []string `json:"policiesCreated"`
}

// RequiresIdempotencyReview is true when the script targets tables that
// already exist, in which case the validator's findings matter most
func (r *Report) RequiresIdempotencyReview() bool {
	return len(r.TablesModified) > 0
}

// Analyze classifies each CREATE TABLE target as created (absent from
// snapshot) or modified (present), counts ALTER TABLE targets as modified and
// collects created index and policy names. snapshot may be nil.
func Analyze(sql string, snapshot *statecache.Snapshot) *Report {
	report := &Report{
		TablesCreated:   []string{},
		TablesModified:  []string{},
		IndexesCreated:  []string{},
		PoliciesCreated: []string{},
	}
	seen := make(map[string]bool)
	add := func(list *[]string, kind, name string) {
		if name == "" || seen[kind+name] {
			return
		}
		seen[kind+name] = true
		*list = append(*list, name)
	}

	for _, stmt := range sqlparse.Split(sql) {
		obj := sqlparse.Describe(stmt)
		switch obj.Kind {
		case sqlparse.KindCreateTable:
			name := sqlparse.BaseName(obj.Name)
			if snapshot.HasTable(name) {
				add(&report.TablesModified, "table", name)
			} else {
				add(&report.TablesCreated, "table", name)
			}
		case sqlparse.KindAlterTable:
			name := sqlparse.BaseName(obj.Name)
			if !seen["table"+name] {
				add(&report.TablesModified, "table", name)
			}
		case sqlparse.KindCreateIndex:
			add(&report.IndexesCreated, "index", sqlparse.BaseName(obj.Name))
		case sqlparse.KindCreatePolicy:
			add(&report.PoliciesCreated, "policy", obj.Name)
		}
	}
	return report
}
