// Package service provides the coordination layer between the normalized
// store, the filter engine and the views (plot, grid, detail modal).
package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/singleflight"

	"github.com/embedview/server/internal/cache"
	"github.com/embedview/server/internal/filter"
	"github.com/embedview/server/internal/ingest"
	"github.com/embedview/server/internal/render"
	"github.com/embedview/server/internal/store"
	"github.com/embedview/server/internal/view"
)

// Built-in discrete filter names. Continuous filters are named after their
// metadata key.
const (
	FilterDataset  = "dataset"
	FilterTag      = "tag"
	FilterCategory = "category"
)

// ViewServiceConfig contains view service configuration.
type ViewServiceConfig struct {
	Context store.Context
	// ContinuousKeys lists the metadata keys to derive continuous filters
	// from.
	ContinuousKeys []string
	// ColorBy names the discrete filter that colors points initially.
	ColorBy  string
	Cache    *cache.Manager
	Renderer *render.PreviewRenderer
}

// ViewService owns all derived visualization state for one context: the
// filter set, the visible bitmap, the render set and the selection. Every
// recompute is synchronous with respect to the state change that triggered
// it, under one mutex, so the three views can never observe half-updated
// state.
type ViewService struct {
	context  store.Context
	store    *store.Store
	batcher  *ingest.Batcher
	cache    *cache.Manager
	renderer *render.PreviewRenderer

	mu             sync.RWMutex
	filters        map[string]*filter.Filter
	filterOrder    []string
	continuousKeys []string
	colorBy        string
	visible        *roaring64.Bitmap
	renderSet      *view.RenderSet
	selection      *view.Selection
	// rev increments on every recompute; it keys all cached payloads so a
	// stale preview or query can never be served.
	rev uint64

	previewGroup singleflight.Group
}

// NewViewService creates a view service with an empty store.
func NewViewService(cfg ViewServiceConfig) *ViewService {
	keys := append([]string(nil), cfg.ContinuousKeys...)
	sort.Strings(keys)

	colorBy := cfg.ColorBy
	if colorBy == "" {
		colorBy = FilterDataset
	}

	s := store.New()
	svc := &ViewService{
		context:        cfg.Context,
		store:          s,
		batcher:        ingest.NewBatcher(s),
		cache:          cfg.Cache,
		renderer:       cfg.Renderer,
		filters:        make(map[string]*filter.Filter),
		continuousKeys: keys,
		colorBy:        colorBy,
		visible:        roaring64.New(),
		selection:      view.NewSelection(),
	}

	svc.filterOrder = append([]string{FilterDataset, FilterTag, FilterCategory}, keys...)
	svc.mu.Lock()
	svc.rebuildAllLocked()
	svc.mu.Unlock()
	return svc
}

// Context returns the context this service serves.
func (s *ViewService) Context() store.Context {
	return s.context
}

// Store exposes the underlying store for read-only access.
func (s *ViewService) Store() *store.Store {
	return s.store
}

// BuildMerge normalizes a raw page against the current store snapshot. This
// is the slow half of ingestion and runs on the ingest worker, off the
// serving path.
func (s *ViewService) BuildMerge(page *ingest.RawPage, projections []ingest.RawProjection, opts ingest.Options) (*store.Merge, ingest.Stats, error) {
	return s.batcher.BuildMerge(page, projections, opts)
}

// ApplyMerge applies a merge batch atomically and rebuilds everything
// downstream: filters from the new entity snapshot, the visible set, the
// render set (membership changed) and the reconciled selection.
func (s *ViewService) ApplyMerge(m *store.Merge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Apply(m)
	s.rebuildAllLocked()
}

// rebuildAllLocked rebuilds filters and all derived state. Caller holds the
// write lock.
func (s *ViewService) rebuildAllLocked() {
	records := s.store.Records()

	s.filters[FilterDataset] = filter.RebuildDiscrete(
		FilterDataset, filter.SourceDataset,
		filter.DatasetNames(s.store.Datasets()), records, s.filters[FilterDataset])
	s.filters[FilterTag] = filter.RebuildDiscrete(
		FilterTag, filter.SourceTag,
		filter.TagNames(s.store.Tags()), records, s.filters[FilterTag])
	s.filters[FilterCategory] = filter.RebuildDiscrete(
		FilterCategory, filter.SourceCategory,
		filter.CategoryNames(s.store.Categories()), records, s.filters[FilterCategory])
	for _, key := range s.continuousKeys {
		s.filters[key] = filter.RebuildContinuous(key, key, records, s.filters[key])
	}

	s.visible = filter.ComputeVisible(records, s.orderedFiltersLocked())
	s.renderSet = view.BuildRenderSet(
		s.store.RecordIDs(), records, s.store.Projection, s.visible, s.filters[s.colorBy])
	s.selection.Reconcile(s.visible)
	s.rev++
}

// recomputeVisibilityLocked recomputes the visible set after a filter state
// change and recolors the existing render set in place. Membership of the
// rendered set did not change, so the index maps are not rebuilt; recoloring
// is the hot path and must stay that way.
func (s *ViewService) recomputeVisibilityLocked() {
	records := s.store.Records()
	s.visible = filter.ComputeVisible(records, s.orderedFiltersLocked())
	s.renderSet.Recolor(records, s.visible, s.filters[s.colorBy])
	s.selection.Reconcile(s.visible)
	s.rev++
}

func (s *ViewService) orderedFiltersLocked() []*filter.Filter {
	out := make([]*filter.Filter, 0, len(s.filterOrder))
	for _, name := range s.filterOrder {
		if f, ok := s.filters[name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// SetOptionVisible toggles a discrete filter option and recomputes
// immediately; discrete toggles are low-cardinality and cheap.
func (s *ViewService) SetOptionVisible(filterName string, entityID int64, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filters[filterName]
	if !ok {
		return filter.ErrNotFound
	}
	if f.Kind != filter.Discrete {
		return fmt.Errorf("filter %q is not discrete", filterName)
	}
	if err := f.SetOptionVisible(entityID, visible); err != nil {
		return err
	}
	s.recomputeVisibilityLocked()
	return nil
}

// SetContinuousRange updates a continuous filter's range. Uncommitted updates
// (a slider mid-drag) stage the range without recomputing; the commit on
// release applies it and recomputes once.
func (s *ViewService) SetContinuousRange(filterName string, min, max float64, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filters[filterName]
	if !ok {
		return filter.ErrNotFound
	}
	if f.Kind != filter.Continuous {
		return fmt.Errorf("filter %q is not continuous", filterName)
	}

	if !commit {
		f.StageRange(min, max)
		return nil
	}
	f.CommitRange(min, max)
	s.recomputeVisibilityLocked()
	return nil
}

// SetColorBy switches which filter colors the points: discrete filters map
// options to their legend colors, continuous filters map values along their
// colormap. Pure recolor: the render set's membership and index maps are
// untouched.
func (s *ViewService) SetColorBy(filterName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filters[filterName]
	if !ok {
		return filter.ErrNotFound
	}
	if s.colorBy == filterName {
		return nil
	}
	s.colorBy = filterName
	s.renderSet.Recolor(s.store.Records(), s.visible, f)
	s.rev++
	return nil
}

// ColorBy returns the active color-by filter name.
func (s *ViewService) ColorBy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.colorBy
}

// SelectIndices replaces the selection with the records behind the renderer's
// dense indices (lasso/click path). The render set keeps hidden points, so a
// lasso can sweep over them; those are dropped immediately because the
// selection must never reference a hidden record.
func (s *ViewService) SelectIndices(indices []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.SelectIndices(indices, s.renderSet)
	s.selection.Reconcile(s.visible)
	s.rev++
}

// SelectByOption selects all visible records matching a discrete filter
// option's predicate. Record ids are already known here, so this path
// bypasses dense-index translation.
func (s *ViewService) SelectByOption(filterName string, entityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filters[filterName]
	if !ok {
		return filter.ErrNotFound
	}
	opt := f.Option(entityID)
	if opt == nil {
		return filter.ErrNotFound
	}

	var ids []int64
	for id, r := range s.store.Records() {
		if !s.visible.Contains(uint64(id)) {
			continue
		}
		if opt.Predicate.Matches(r) {
			ids = append(ids, id)
		}
	}
	s.selection.SelectRecords(ids)
	s.rev++
	return nil
}

// ClearSelection returns the selection to the empty state.
func (s *ViewService) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Clear()
	s.rev++
}

// Filters returns the filter set in evaluation order.
func (s *ViewService) Filters() []*filter.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedFiltersLocked()
}

// Filter returns one filter by name, or nil.
func (s *ViewService) Filter(name string) *filter.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters[name]
}

// VisibleIDs returns the sorted visible record ids.
func (s *ViewService) VisibleIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, s.visible.GetCardinality())
	it := s.visible.Iterator()
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out
}

// VisibleCount returns the visible record count.
func (s *ViewService) VisibleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.visible.GetCardinality())
}

// IsVisible reports whether a record passes the current filters.
func (s *ViewService) IsVisible(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible.Contains(uint64(id))
}

// SelectionInfo is the selection payload shared by the plot, grid and modal.
type SelectionInfo struct {
	State     view.SelectionState `json:"state"`
	Count     int                 `json:"count"`
	RecordIDs []int64             `json:"record_ids"`
}

// Selection returns the current selection payload.
func (s *ViewService) Selection() SelectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SelectionInfo{
		State:     s.selection.State(),
		Count:     s.selection.Len(),
		RecordIDs: s.selection.IDs(),
	}
}

// EffectiveIDs returns the record set downstream views display: the selection
// when non-empty, otherwise the visible set. An empty selection never means
// "display nothing".
func (s *ViewService) EffectiveIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection.Effective(s.visible)
}

// PointsPayload is the outbound renderer contract: tuples indexed 1..N with
// index 0 reserved, a parallel palette, and the camera hint.
type PointsPayload struct {
	Points  []view.Point `json:"points"`
	Palette []string     `json:"palette"`
	Camera  view.Camera  `json:"camera"`
	Count   int          `json:"count"`
	ColorBy string       `json:"color_by"`
}

// PointsJSON returns the serialized render payload, cached per revision.
func (s *ViewService) PointsJSON() ([]byte, error) {
	s.mu.RLock()
	key := cache.QueryKey(string(s.context), s.rev, "points:"+s.colorBy)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			s.mu.RUnlock()
			return data, nil
		}
	}

	payload := PointsPayload{
		Points:  s.renderSet.Points,
		Palette: s.renderSet.Palette,
		Camera:  s.renderSet.Camera,
		Count:   s.renderSet.Len(),
		ColorBy: s.colorBy,
	}
	data, err := json.Marshal(payload)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// RecordDetail is the detail-modal payload for one record.
type RecordDetail struct {
	Record     *store.Record     `json:"record"`
	Dataset    *store.Dataset    `json:"dataset,omitempty"`
	Resource   *store.Resource   `json:"resource,omitempty"`
	Projection *store.Projection `json:"projection,omitempty"`
	Tags       []*store.Tag      `json:"tags,omitempty"`
	Categories []*store.Category `json:"categories,omitempty"`
	Visible    bool              `json:"visible"`
	Selected   bool              `json:"selected"`
}

// RecordDetail assembles the detail payload, or nil for unknown ids.
func (s *ViewService) RecordDetail(id int64) *RecordDetail {
	r := s.store.Record(id)
	if r == nil {
		return nil
	}

	d := &RecordDetail{
		Record:     r,
		Dataset:    s.store.Dataset(r.DatasetID),
		Resource:   s.store.Resource(r.ResourceID),
		Projection: s.store.Projection(r.ProjectionID),
	}
	for _, tagID := range r.TagIDs {
		if t := s.store.Tag(tagID); t != nil {
			d.Tags = append(d.Tags, t)
		}
	}
	for _, catID := range r.CategoryIDs() {
		if c := s.store.Category(catID); c != nil {
			d.Categories = append(d.Categories, c)
		}
	}

	s.mu.RLock()
	d.Visible = s.visible.Contains(uint64(id))
	d.Selected = s.selection.Contains(id)
	s.mu.RUnlock()
	return d
}

// Stats summarizes the service state.
func (s *ViewService) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"context":  string(s.context),
		"records":  s.store.Len(),
		"total":    s.store.Total(),
		"complete": s.store.Complete(),
		"visible":  s.visible.GetCardinality(),
		"selected": s.selection.Len(),
		"points":   s.renderSet.Len(),
		"revision": s.rev,
	}
}

// Preview renders (or serves from cache) a PNG overview of the current
// visible point cloud. Identical concurrent renders are deduplicated.
func (s *ViewService) Preview(pointSize float64) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("preview renderer not configured")
	}
	pointSize = render.ClampPointSize(pointSize)

	s.mu.RLock()
	rev := s.rev
	colorBy := s.colorBy
	s.mu.RUnlock()

	key := cache.PreviewKey(string(s.context), rev, colorBy, pointSize)
	if s.cache != nil {
		if data, ok := s.cache.GetPreview(key); ok {
			return data, nil
		}
	}

	data, err, _ := s.previewGroup.Do(key, func() (interface{}, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.renderer.RenderPreview(s.renderSet, pointSize)
	})
	if err != nil {
		return nil, err
	}

	png := data.([]byte)
	if s.cache != nil {
		s.cache.SetPreview(key, png)
	}
	return png, nil
}
