// Package main is the entry point for the EmbedView server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/embedview/server/internal/api"
	"github.com/embedview/server/internal/cache"
	"github.com/embedview/server/internal/config"
	"github.com/embedview/server/internal/data/pages"
	"github.com/embedview/server/internal/data/tiledbproj"
	"github.com/embedview/server/internal/ingest"
	"github.com/embedview/server/internal/render"
	"github.com/embedview/server/internal/service"
	"github.com/embedview/server/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting EmbedView server on port %d", cfg.Server.Port)

	// Initialize cache manager (shared across all contexts)
	cacheManager, err := cache.NewManager(cache.Config{
		PreviewCacheSizeMB: cfg.Cache.PreviewSizeMB,
		PreviewTTL:         time.Duration(cfg.Cache.PreviewTTLMinutes) * time.Minute,
		QueryCacheSize:     cfg.Cache.QueryEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize preview renderer (shared across all contexts)
	previewRenderer := render.NewPreviewRenderer(render.Config{
		ImageSize:        cfg.Render.ImageSize,
		DefaultPointSize: cfg.Render.DefaultPointSize,
	})

	// Initialize context registry
	contextIDs := make([]store.Context, 0, len(cfg.Contexts))
	for id := range cfg.Contexts {
		ctx := store.Context(id)
		if !ctx.Valid() {
			log.Fatalf("Unknown context %q in configuration", id)
		}
		contextIDs = append(contextIDs, ctx)
	}
	sort.Slice(contextIDs, func(i, j int) bool { return contextIDs[i] < contextIDs[j] })

	registry := api.NewContextRegistry(
		store.Context(cfg.Server.DefaultContext), contextIDs, cfg.Server.Title)

	log.Printf("Initializing %d context(s), default: %s", len(contextIDs), cfg.Server.DefaultContext)

	// Initialize ingest manager (SQLite job journal)
	ingestManager, err := ingest.NewManager(ingest.ManagerConfig{
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		QueueSize:     cfg.Ingest.QueueSize,
		SQLitePath:    cfg.Ingest.SQLitePath,
		RetentionDays: cfg.Ingest.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize ingest manager: %v", err)
	}
	log.Printf("Ingest manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Ingest.MaxConcurrent, cfg.Ingest.RetentionDays, cfg.Ingest.SQLitePath)

	// Initialize each context
	for _, id := range contextIDs {
		ctxCfg := cfg.Contexts[string(id)]

		svc := service.NewViewService(service.ViewServiceConfig{
			Context:        id,
			ContinuousKeys: ctxCfg.ContinuousKeys,
			ColorBy:        ctxCfg.ColorBy,
			Cache:          cacheManager,
			Renderer:       previewRenderer,
		})
		registry.Register(id, svc)
		ingestManager.RegisterTarget(id, svc)

		opts := ingest.Options{RemapIDs: ctxCfg.RemapIDs}

		if ctxCfg.PagesDir != "" {
			if err := loadPages(svc, ctxCfg.PagesDir, opts); err != nil {
				log.Fatalf("  [%s] Failed to load pages from %s: %v", id, ctxCfg.PagesDir, err)
			}
			log.Printf("  [%s] Loaded %d records from: %s", id, svc.Store().Len(), ctxCfg.PagesDir)
		}

		if ctxCfg.TileDBArray != "" {
			if err := loadTileDBProjections(svc, ctxCfg.TileDBArray, opts); err != nil {
				log.Printf("  [%s] TileDB projections not loaded: %v", id, err)
			}
		}
	}

	ingestManager.Start()
	defer ingestManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:      registry,
		CORSOrigins:   cfg.Server.CORSOrigins,
		IngestManager: ingestManager,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// loadPages ingests all page payloads in a directory synchronously, in sorted
// order, before the server starts serving.
func loadPages(svc *service.ViewService, dir string, opts ingest.Options) error {
	reader, err := pages.NewReader(dir)
	if err != nil {
		return err
	}

	names, err := reader.ListPages()
	if err != nil {
		return err
	}

	for _, name := range names {
		// Projection-set payloads live alongside pages with a "projections"
		// prefix and carry no records.
		if strings.HasPrefix(name, "projections") {
			projs, err := reader.ReadProjections(name)
			if err != nil {
				return err
			}
			merge, _, err := svc.BuildMerge(nil, projs, opts)
			if err != nil {
				return err
			}
			svc.ApplyMerge(merge)
			continue
		}

		page, err := reader.ReadPage(name)
		if err != nil {
			return err
		}
		merge, _, err := svc.BuildMerge(page, nil, opts)
		if err != nil {
			return err
		}
		svc.ApplyMerge(merge)
	}
	return nil
}

// loadTileDBProjections reads projection tuples from a TileDB array. Without
// a "-tags tiledb" build this reports unsupported and the server continues.
func loadTileDBProjections(svc *service.ViewService, arrayPath string, opts ingest.Options) error {
	reader, err := tiledbproj.NewReader(arrayPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	if !reader.Supported() {
		return tiledbproj.ErrUnsupported
	}

	projs, err := reader.ReadProjections()
	if err != nil {
		return err
	}
	log.Printf("  TileDB array %s: %d projections", reader.ArrayURI(), len(projs))

	merge, _, err := svc.BuildMerge(nil, projs, opts)
	if err != nil {
		return err
	}
	svc.ApplyMerge(merge)
	return nil
}
