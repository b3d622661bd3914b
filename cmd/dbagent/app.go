package main

import (
	"context"
	"fmt"
	"io"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/backends/postgresql"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/config"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/events"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/eventsfactory"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/generator"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
	statepg "github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/state/postgresql"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

// app holds the connected components shared by the commands
type app struct {
	cfg       *config.Config
	backend   *postgresql.Backend
	exec      *executor.Executor
	scanner   *statecache.Scanner
	cache     *statecache.Cache
	publisher events.Publisher
	closers   []io.Closer
}

// newLoader needs no database, so commands that only read files use it directly
func newLoader(cfg *config.Config) *executor.Loader {
	return executor.NewLoader(cfg.Project.Root, cfg.Migrations.Dirs)
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.backend = postgresql.NewBackend()
	if err := a.backend.Connect(ctx, cfg.Connection()); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.backend)

	tracker := statepg.NewTracker(a.backend.DB(), cfg.Database.Schema, cfg.Migrations.TrackingTable)
	a.exec = executor.NewExecutor(a.backend, tracker, newLoader(cfg), executor.Options{
		TrackingTable:     cfg.Migrations.TrackingTable,
		FallbackDir:       cfg.Migrations.FallbackDir,
		RequireReversible: cfg.Migrations.RequireReversible,
	})
	if err := a.exec.Initialize(ctx); err != nil {
		return nil, err
	}

	publisher, err := eventsfactory.NewPublisher(cfg.EventsFactory())
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	a.publisher = publisher
	a.closers = append(a.closers, publisher)
	a.exec.SetPublisher(publisher)

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if c, isCloser := store.(io.Closer); isCloser {
		a.closers = append(a.closers, c)
	}

	a.scanner = statecache.NewScanner(cfg.Project.Root, cfg.Project.RouteDirs, cfg.Project.ComponentDirs)
	builder := statecache.NewBuilder(a.backend, tracker, a.scanner, cfg.Features)
	a.cache = statecache.NewCache(builder, store, a.backend, cfg.State.TTL)

	ok = true
	return a, nil
}

// openStore creates the snapshot store selected by state.store
func openStore(cfg *config.Config) (statecache.Store, error) {
	switch cfg.State.Store {
	case config.StoreSQLite:
		store, err := statecache.OpenSQLiteStore(cfg.State.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreEtcd:
		store, err := statecache.NewEtcdStore(cfg.EtcdStore())
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		return statecache.NewMemoryStore(), nil
	default:
		return statecache.NewFileStore(cfg.State.Path), nil
	}
}

// invalidateState drops the cached snapshot after the schema changed
func (a *app) invalidateState(ctx context.Context) {
	if err := a.cache.Invalidate(ctx); err != nil {
		logger.Warnf("Failed to invalidate system state: %v", err)
	}
}

// Close releases connections in reverse order of opening
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warnf("Failed to close: %v", err)
		}
	}
	a.closers = nil
}

// newGenerator uses Claude when an API key is configured and the column
// template otherwise
func newGenerator(cfg *config.Config) (*generator.SQLGenerator, error) {
	var completer generator.Completer
	if cfg.AI.APIKey != "" {
		c, err := generator.NewAnthropicCompleter(cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			return nil, err
		}
		completer = c
	}
	return generator.NewSQLGenerator(completer)
}
