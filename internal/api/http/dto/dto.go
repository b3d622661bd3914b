package dto

import (
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/generator"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/impact"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/rollback"
)

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// AnalyzeRequest carries SQL to analyze without executing it
type AnalyzeRequest struct {
	SQL  string `json:"sql" binding:"required"`
	Name string `json:"name"` // Optional, used in the processed header
}

// AnalyzeResponse reports what the SQL would do
type AnalyzeResponse struct {
	Statements int                `json:"statements"`
	Processed  string             `json:"processed"`
	Validation idempotency.Report `json:"validation"`
	Impact     *impact.Report     `json:"impact"`
	Rollback   []rollback.Action  `json:"rollback"`
}

// AddTableRequest asks the agent for a new table
type AddTableRequest struct {
	generator.TableRequest
	Execute bool `json:"execute"`
	DryRun  bool `json:"dryRun"`
}

// TableExistsResponse is the live answer for one table
type TableExistsResponse struct {
	Table  string `json:"table"`
	Exists bool   `json:"exists"`
}
