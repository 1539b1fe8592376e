package api

import (
	"github.com/embedview/server/internal/service"
	"github.com/embedview/server/internal/store"
)

// ContextInfo contains information about a context for the API response.
type ContextInfo struct {
	ID      string `json:"id"`
	Records int    `json:"records"`
	Visible int    `json:"visible"`
}

// ContextRegistry holds view services for all configured contexts.
type ContextRegistry struct {
	services       map[store.Context]*service.ViewService
	defaultContext store.Context
	contextOrder   []store.Context
	title          string
}

// NewContextRegistry creates a new context registry.
func NewContextRegistry(defaultContext store.Context, order []store.Context, title string) *ContextRegistry {
	return &ContextRegistry{
		services:       make(map[store.Context]*service.ViewService),
		defaultContext: defaultContext,
		contextOrder:   order,
		title:          title,
	}
}

// Register adds a view service for a context.
func (r *ContextRegistry) Register(ctx store.Context, svc *service.ViewService) {
	r.services[ctx] = svc
}

// Get returns the view service for a context, or nil if not found.
func (r *ContextRegistry) Get(ctx store.Context) *service.ViewService {
	return r.services[ctx]
}

// DefaultContextID returns the default context id.
func (r *ContextRegistry) DefaultContextID() store.Context {
	return r.defaultContext
}

// Title returns the configured site title.
func (r *ContextRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "EmbedView"
}

// Contexts returns context info for all registered contexts.
func (r *ContextRegistry) Contexts() []ContextInfo {
	infos := make([]ContextInfo, 0, len(r.contextOrder))
	for _, id := range r.contextOrder {
		info := ContextInfo{ID: string(id)}
		if svc := r.services[id]; svc != nil {
			info.Records = svc.Store().Len()
			info.Visible = svc.VisibleCount()
		}
		infos = append(infos, info)
	}
	return infos
}
