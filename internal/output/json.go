package output

import (
	"encoding/json"
	"io"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/agent"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

// JSONRenderer produces machine-readable JSON output.
type JSONRenderer struct {
	w io.Writer
}

func (r *JSONRenderer) encode(v interface{}) {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (r *JSONRenderer) RenderResults(results []*executor.MigrationResult) {
	if results == nil {
		results = []*executor.MigrationResult{}
	}
	r.encode(results)
}

func (r *JSONRenderer) RenderStatus(status *executor.Status)           { r.encode(status) }
func (r *JSONRenderer) RenderRollback(result *executor.RollbackResult) { r.encode(result) }
func (r *JSONRenderer) RenderDebug(report *executor.DebugReport)       { r.encode(report) }
func (r *JSONRenderer) RenderSchema(report *executor.SchemaReport)     { r.encode(report) }
func (r *JSONRenderer) RenderSnapshot(snapshot *statecache.Snapshot)   { r.encode(snapshot) }
func (r *JSONRenderer) RenderAddTable(result *agent.AddTableResult)    { r.encode(result) }

func (r *JSONRenderer) RenderValidation(results []FileValidation) {
	if results == nil {
		results = []FileValidation{}
	}
	r.encode(results)
}
