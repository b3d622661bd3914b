package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/agent"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/api/grpcapi"
	httpapi "github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/api/http"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/auth"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/eventsfactory"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the gRPC health service",
	Long: `Serve the migration API over HTTP and a gRPC health service.

Every /api/v1 route except health and the OpenAPI document requires
Authorization: Bearer <server.api_token>. While serving, changes under the
project's route, component and migration directories invalidate the cached
system state.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Server.APIToken == "" {
		return errors.New("server.api_token (DBAGENT_API_TOKEN) is required to serve the API")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	tables := agent.New(a.cache, gen, a.exec, a.exec.Loader().PrimaryDir())
	handler := httpapi.NewHandler(a.exec, a.cache, tables, auth.NewValidator(cfg.Server.APIToken))

	if logger.Level() > logger.DEBUG {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           newRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	health := grpcapi.NewHealthServer(a.exec, 0)
	health.Register(grpcServer)
	health.Start(ctx)
	defer health.Stop()

	grpcListener, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %s: %w", cfg.Server.GRPCPort, err)
	}

	if cfg.State.RefreshInterval > 0 {
		refresher := statecache.NewRefresher(a.cache, cfg.State.RefreshInterval)
		refresher.Start(ctx)
		defer refresher.Stop()
	}
	if cfg.Server.Watch {
		startWatcher(ctx, a)
	}
	if cfg.Events.Subscribe {
		startSubscriber(ctx, a)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("Starting HTTP server on port %s", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	go func() {
		logger.Infof("Starting gRPC server on port %s", cfg.Server.GRPCPort)
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	logger.Infof("HTTP API available at http://localhost:%s/api/v1", cfg.Server.HTTPPort)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Errorf("Server failed: %v", serveErr)
	}

	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP server forced to shutdown: %v", err)
	}
	grpcServer.GracefulStop()

	logger.Info("Servers exited")
	return serveErr
}

// startWatcher invalidates the state cache on project and migration file changes
func startWatcher(ctx context.Context, a *app) {
	dirs := a.scanner.WatchDirs()
	for _, dir := range a.exec.Loader().Dirs() {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return
	}

	watcher, err := statecache.NewWatcher(a.cache, dirs)
	if err != nil {
		logger.Warnf("File watching disabled: %v", err)
		return
	}
	logger.Infof("Watching %d director(ies) for changes", len(dirs))
	go watcher.Run(ctx)
}

// startSubscriber invalidates the state cache when other agents change the schema
func startSubscriber(ctx context.Context, a *app) {
	sub, err := eventsfactory.NewSubscriber(a.cfg.EventsFactory())
	if errors.Is(err, events.ErrDisabled) {
		logger.Warn("events.subscribe is set but events.type is none; not subscribing")
		return
	}
	if err != nil {
		logger.Warnf("Event subscription disabled: %v", err)
		return
	}

	go func() {
		defer sub.Close()
		if err := sub.Subscribe(ctx, invalidateOnSchemaChange(a.cache)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Event subscription stopped: %v", err)
		}
	}()
}

func invalidateOnSchemaChange(target statecache.Invalidator) events.Handler {
	return func(ctx context.Context, event *events.Event) error {
		if !event.ChangesSchema() {
			return nil
		}
		logger.Infof("Received %s for %s from %s; invalidating system state", event.Type, event.Filename, event.ExecutedBy)
		return target.Invalidate(ctx)
	}
}

// newRouter wires request logging into the agent log, recovery and CORS
// around the API routes
func newRouter(handler *httpapi.Handler) *gin.Engine {
	router := gin.New()

	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    logger.Writer(),
		SkipPaths: []string{"/health", "/api/v1/health"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %3d | %13v | %15s | %-7s %s\n",
				param.StatusCode,
				param.Latency,
				param.ClientIP,
				param.Method,
				param.Path,
			)
		},
	}))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler.RegisterRoutes(router)
	router.GET("/health", handler.Health)
	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Client-Type")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
