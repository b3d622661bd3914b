package dto

import (
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/state"
)

// MigrateRequest lists migration files to run; empty runs all pending files
type MigrateRequest struct {
	Files []string `json:"files"`
}

// MigrateResponse represents a migration run
type MigrateResponse struct {
	Success bool                        `json:"success"`
	Applied []string                    `json:"applied"`
	Skipped []string                    `json:"skipped"`
	Errors  []string                    `json:"errors"`
	Results []*executor.MigrationResult `json:"results"`
}

// NewMigrateResponse summarizes results
func NewMigrateResponse(results []*executor.MigrationResult) MigrateResponse {
	resp := MigrateResponse{
		Success: true,
		Applied: []string{},
		Skipped: []string{},
		Errors:  []string{},
		Results: results,
	}
	if resp.Results == nil {
		resp.Results = []*executor.MigrationResult{}
	}
	for _, r := range results {
		switch r.Outcome {
		case executor.OutcomeSuccess:
			resp.Applied = append(resp.Applied, r.Migration.Filename)
		case executor.OutcomeSkipped:
			resp.Skipped = append(resp.Skipped, r.Migration.Filename)
		default:
			resp.Success = false
			resp.Errors = append(resp.Errors, r.Migration.Filename+": "+r.Error)
		}
	}
	return resp
}

// MigrationListResponse represents executed, pending and orphaned migrations
type MigrationListResponse struct {
	Executed []*state.MigrationRecord `json:"executed"`
	Pending  []executor.MigrationFile `json:"pending"`
	Orphaned []*state.MigrationRecord `json:"orphaned"`
	Total    int                      `json:"total"`
}

// NewMigrationListResponse converts an executor status
func NewMigrationListResponse(status *executor.Status) MigrationListResponse {
	resp := MigrationListResponse{
		Executed: status.Executed,
		Pending:  status.Pending,
		Orphaned: status.Orphaned,
	}
	if resp.Executed == nil {
		resp.Executed = []*state.MigrationRecord{}
	}
	if resp.Pending == nil {
		resp.Pending = []executor.MigrationFile{}
	}
	if resp.Orphaned == nil {
		resp.Orphaned = []*state.MigrationRecord{}
	}
	resp.Total = len(resp.Executed) + len(resp.Pending)
	return resp
}
