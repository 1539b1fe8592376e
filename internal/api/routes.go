// Package api provides HTTP handlers for the EmbedView server.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/embedview/server/internal/ingest"
	"github.com/embedview/server/internal/service"
	"github.com/embedview/server/internal/store"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry      *ContextRegistry
	CORSOrigins   []string
	IngestManager *ingest.Manager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global contexts endpoint (not context-scoped)
	r.Get("/api/contexts", contextsHandler(cfg.Registry))

	// Context-scoped routes: /c/{context}/...
	r.Route("/c/{context}", func(r chi.Router) {
		r.Use(contextMiddleware(cfg.Registry))

		// Ingestion job endpoints
		r.Route("/api/ingest/jobs", func(r chi.Router) {
			r.Post("/", ingestJobSubmitHandler(cfg.IngestManager))
			r.Get("/{job_id}", ingestJobStatusHandler(cfg.IngestManager))
		})

		// API endpoints
		r.Route("/api", func(r chi.Router) {
			r.Get("/stats", contextStatsHandler)

			r.Get("/filters", contextFiltersHandler)
			r.Get("/filters/{filter}", contextFilterHandler)
			r.Post("/filters/{filter}/options/{entity_id}", contextFilterOptionHandler)
			r.Post("/filters/{filter}/range", contextFilterRangeHandler)
			r.Post("/colorby", contextColorByHandler)

			r.Get("/visible", contextVisibleHandler)
			r.Get("/points", contextPointsHandler)

			r.Get("/records/{record_id}", contextRecordHandler)
			r.Get("/records", contextRecordListHandler)

			r.Get("/selection", contextSelectionHandler)
			r.Post("/selection/indices", contextSelectIndicesHandler)
			r.Post("/selection/option", contextSelectOptionHandler)
			r.Delete("/selection", contextClearSelectionHandler)
		})

		// Preview image
		r.Get("/preview.png", contextPreviewHandler)
	})

	return r
}

// Context key for the view service
type ctxKey string

const viewServiceKey ctxKey = "viewService"

// contextMiddleware resolves the context from URL and injects the view
// service into the request context.
func contextMiddleware(registry *ContextRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := store.Context(chi.URLParam(r, "context"))
			svc := registry.Get(id)
			if svc == nil {
				http.Error(w, "context not found: "+string(id), http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), viewServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getViewService(r *http.Request) *service.ViewService {
	if svc, ok := r.Context().Value(viewServiceKey).(*service.ViewService); ok {
		return svc
	}
	return nil
}

// contextsHandler returns the list of available contexts.
func contextsHandler(registry *ContextRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default":  registry.DefaultContextID(),
			"contexts": registry.Contexts(),
			"title":    registry.Title(),
		})
	}
}
