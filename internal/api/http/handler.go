package http

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/agent"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/api/http/dto"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/auth"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/generator"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/idempotency"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/impact"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/rollback"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/sqlparse"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

// StateCache serves system state snapshots
type StateCache interface {
	Get(ctx context.Context, force bool) (*statecache.Snapshot, error)
	Invalidate(ctx context.Context) error
	TableExists(ctx context.Context, table string) (bool, error)
}

// TableAdder creates table migrations
type TableAdder interface {
	AddTable(ctx context.Context, req *generator.TableRequest, opts agent.Options) (*agent.AddTableResult, error)
}

// Handler handles HTTP API requests
type Handler struct {
	executor *executor.Executor
	cache    StateCache
	tables   TableAdder
	tokens   *auth.Validator
}

// NewHandler creates a new HTTP handler. cache and tables may be nil; the
// routes that need them then answer 501.
func NewHandler(exec *executor.Executor, cache StateCache, tables TableAdder, tokens *auth.Validator) *Handler {
	return &Handler{
		executor: exec,
		cache:    cache,
		tables:   tables,
		tokens:   tokens,
	}
}

// RegisterRoutes registers HTTP routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		// Handle OPTIONS for all routes
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		api.GET("/migrations", h.authenticate, h.listMigrations)
		api.POST("/migrations/up", h.authenticate, h.migrateUp)
		api.POST("/migrations/:filename/rollback", h.authenticate, h.rollbackMigration)
		api.GET("/state", h.authenticate, h.getState)
		api.DELETE("/state", h.authenticate, h.invalidateState)
		api.GET("/tables/:name/exists", h.authenticate, h.tableExists)
		api.POST("/tables", h.authenticate, h.addTable)
		api.POST("/sql/analyze", h.authenticate, h.analyzeSQL)
		api.GET("/health", h.Health)
		api.GET("/openapi.yaml", h.OpenAPISpec)
		api.GET("/openapi.json", h.OpenAPISpecJSON)
	}
}

// authenticate middleware validates API token
func (h *Handler) authenticate(c *gin.Context) {
	if err := h.tokens.ValidateHeader(c.GetHeader("Authorization")); err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: err.Error()})
		c.Abort()
		return
	}
	c.Next()
}

// executionContext tags work started through the API
func (h *Handler) executionContext(c *gin.Context) context.Context {
	executedBy := "api_user"
	if client := c.GetHeader("X-Client-Type"); client != "" {
		executedBy = "api_user:" + client
	}
	return executor.WithExecutedBy(c.Request.Context(), executedBy)
}

// listMigrations returns executed, pending and orphaned migrations
func (h *Handler) listMigrations(c *gin.Context) {
	status, err := h.executor.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.NewMigrationListResponse(status))
}

// migrateUp runs the named files in order, or every pending file
func (h *Handler) migrateUp(c *gin.Context) {
	var req dto.MigrateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
	}

	ctx := h.executionContext(c)

	var results []*executor.MigrationResult
	if len(req.Files) == 0 {
		var err error
		results, err = h.executor.RunPending(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
			return
		}
	} else {
		paths := make([]string, 0, len(req.Files))
		for _, name := range req.Files {
			file, err := h.executor.Loader().Find(name)
			if err != nil {
				c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
				return
			}
			paths = append(paths, file.Path)
		}
		results = h.executor.ExecuteMigrations(ctx, paths)
	}

	h.invalidate(c.Request.Context(), results)

	response := dto.NewMigrateResponse(results)
	statusCode := http.StatusOK
	if !response.Success {
		statusCode = http.StatusPartialContent
	}
	c.JSON(statusCode, response)
}

// invalidate drops cached state after anything was applied
func (h *Handler) invalidate(ctx context.Context, results []*executor.MigrationResult) {
	if h.cache == nil {
		return
	}
	for _, r := range results {
		if r.Outcome == executor.OutcomeSuccess {
			if err := h.cache.Invalidate(ctx); err != nil {
				logger.Warnf("Could not invalidate system state cache: %v", err)
			}
			return
		}
	}
}

// rollbackMigration rolls back one executed migration
func (h *Handler) rollbackMigration(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))

	result, err := h.executor.Rollback(h.executionContext(c), filename)
	switch {
	case errors.Is(err, executor.ErrMigrationNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, executor.ErrRollbackUnavailable):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	case err != nil && result == nil:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, result)
		return
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(c.Request.Context()); err != nil {
			logger.Warnf("Could not invalidate system state cache: %v", err)
		}
	}
	c.JSON(http.StatusOK, result)
}

// getState returns the cached snapshot; ?refresh=true rebuilds it
func (h *Handler) getState(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: "system state is not configured"})
		return
	}
	force, _ := strconv.ParseBool(c.Query("refresh"))

	snapshot, err := h.cache.Get(c.Request.Context(), force)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if snapshot.Fingerprint != "" {
		c.Header("ETag", strconv.Quote(snapshot.Fingerprint))
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) invalidateState(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: "system state is not configured"})
		return
	}
	if err := h.cache.Invalidate(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// tableExists always asks the database, never the cache
func (h *Handler) tableExists(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: "system state is not configured"})
		return
	}
	table := c.Param("name")
	exists, err := h.cache.TableExists(c.Request.Context(), table)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.TableExistsResponse{Table: table, Exists: exists})
}

// addTable generates, writes and optionally runs a table migration
func (h *Handler) addTable(c *gin.Context) {
	if h.tables == nil {
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: "table generation is not configured"})
		return
	}
	var req dto.AddTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.tables.AddTable(h.executionContext(c), &req.TableRequest, agent.Options{Execute: req.Execute, DryRun: req.DryRun})
	switch {
	case errors.Is(err, generator.ErrInvalidTableName):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case err != nil && result != nil:
		c.JSON(http.StatusPartialContent, result)
	case err != nil:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	case result.Skipped:
		c.JSON(http.StatusOK, result)
	default:
		c.JSON(http.StatusCreated, result)
	}
}

// analyzeSQL reports statements, idempotency issues, impact and rollback
// actions for a script without executing it
func (h *Handler) analyzeSQL(c *gin.Context) {
	var req dto.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "analysis"
	}

	var snapshot *statecache.Snapshot
	if h.cache != nil {
		var err error
		if snapshot, err = h.cache.Get(c.Request.Context(), false); err != nil {
			logger.Warnf("Analyzing without system state: %v", err)
			snapshot = nil
		}
	}

	statements := sqlparse.Split(req.SQL)
	c.JSON(http.StatusOK, dto.AnalyzeResponse{
		Statements: len(statements),
		Processed:  idempotency.Process(req.SQL, name),
		Validation: idempotency.Validate(req.SQL),
		Impact:     impact.Analyze(req.SQL, snapshot),
		Rollback:   rollback.Plan(statements),
	})
}

// Health handles health check requests
func (h *Handler) Health(c *gin.Context) {
	healthStatus := gin.H{
		"status": "healthy",
		"checks": gin.H{},
	}

	if err := h.executor.HealthCheck(c.Request.Context()); err != nil {
		healthStatus["status"] = "unhealthy"
		healthStatus["checks"].(gin.H)["database"] = err.Error()
	} else {
		healthStatus["checks"].(gin.H)["database"] = "ok"
	}

	statusCode := http.StatusOK
	if healthStatus["status"] == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthStatus)
}

//go:embed openapi.yaml
var openAPISpecYAML []byte

// OpenAPISpec serves the OpenAPI specification in YAML format
func (h *Handler) OpenAPISpec(c *gin.Context) {
	c.Data(http.StatusOK, "application/x-yaml", openAPISpecYAML)
}

// OpenAPISpecJSON serves the OpenAPI specification in JSON format
func (h *Handler) OpenAPISpecJSON(c *gin.Context) {
	var spec map[string]interface{}
	if err := yaml.Unmarshal(openAPISpecYAML, &spec); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to parse OpenAPI spec"})
		return
	}
	c.JSON(http.StatusOK, spec)
}
