// Package output renders command results for terminals and for machines.
package output

import (
	"io"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/agent"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/impact"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

// FileValidation is the outcome of validating one migration file
type FileValidation struct {
	Path       string             `json:"path"`
	Statements int                `json:"statements"`
	Validation idempotency.Report `json:"validation"`
	Impact     *impact.Report     `json:"impact,omitempty"`
	Executed   bool               `json:"executed,omitempty"`
	Fixed      bool               `json:"fixed,omitempty"`
	BackupPath string             `json:"backupPath,omitempty"`
}

// Renderer defines the output interface.
type Renderer interface {
	RenderResults(results []*executor.MigrationResult)
	RenderStatus(status *executor.Status)
	RenderRollback(result *executor.RollbackResult)
	RenderDebug(report *executor.DebugReport)
	RenderSchema(report *executor.SchemaReport)
	RenderSnapshot(snapshot *statecache.Snapshot)
	RenderValidation(results []FileValidation)
	RenderAddTable(result *agent.AddTableResult)
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &JSONRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}
