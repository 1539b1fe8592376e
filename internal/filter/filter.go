// Package filter derives attribute filters from the current record set and
// computes per-record visibility. Filters are always rebuilt whole from an
// entity snapshot, never patched incrementally, so they can't drift from the
// store across ingestion batches.
package filter

import (
	"errors"

	"github.com/embedview/server/internal/store"
)

// Kind distinguishes discrete option filters from continuous range filters.
type Kind string

const (
	Discrete   Kind = "discrete"
	Continuous Kind = "continuous"
)

// Source names the record attribute a discrete filter enumerates.
type Source string

const (
	SourceDataset  Source = "dataset"
	SourceTag      Source = "tag"
	SourceCategory Source = "category"
)

// ErrNotFound is returned when a filter or option id does not exist.
var ErrNotFound = errors.New("filter: not found")

// PredicateOp tags the variant of a filter predicate.
type PredicateOp string

const (
	DatasetEquals      PredicateOp = "dataset_equals"
	CategoryReferenced PredicateOp = "category_referenced"
	TagReferenced      PredicateOp = "tag_referenced"
	MetadataRange      PredicateOp = "metadata_range"
)

// Predicate is a data-only description of a record test. Storing the variant
// instead of a closure keeps filter state serializable and lets each predicate
// be evaluated in isolation.
type Predicate struct {
	Op       PredicateOp `json:"op"`
	EntityID int64       `json:"entity_id,omitempty"`
	Key      string      `json:"key,omitempty"`
	Min      float64     `json:"min,omitempty"`
	Max      float64     `json:"max,omitempty"`
}

// Matches is the single interpreter for all predicate variants. For
// MetadataRange a missing or non-numeric value never matches: hiding a record
// over a formatting problem is worse than showing it unfiltered.
func (p Predicate) Matches(r *store.Record) bool {
	if r == nil {
		return false
	}
	switch p.Op {
	case DatasetEquals:
		return r.DatasetID == p.EntityID
	case TagReferenced:
		return r.HasTag(p.EntityID)
	case CategoryReferenced:
		for _, id := range r.CategoryIDs() {
			if id == p.EntityID {
				return true
			}
		}
		return false
	case MetadataRange:
		v, ok := r.MetadataNumber(p.Key)
		if !ok {
			return false
		}
		return v >= p.Min && v <= p.Max
	default:
		return false
	}
}

// Option is one toggle of a discrete filter. Visible=false hides records the
// predicate matches; the default state hides nothing.
type Option struct {
	EntityID  int64     `json:"entity_id"`
	Label     string    `json:"label"`
	Visible   bool      `json:"visible"`
	Color     string    `json:"color"`
	Count     int       `json:"count"`
	Predicate Predicate `json:"predicate"`
}

// Filter is a named rule set over the record collection. Discrete filters
// carry options; continuous filters carry numeric bounds and a committed
// visible range.
type Filter struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Source Source `json:"source,omitempty"`

	// Discrete state.
	Options []Option `json:"options,omitempty"`
	// hidden caches the entity ids of options toggled off so per-record
	// evaluation is a hash probe, not a scan over options. Linear scans here
	// cost seconds at ~70k records.
	hidden map[int64]struct{}

	// Continuous state.
	Key        string  `json:"key,omitempty"`
	Min        float64 `json:"min,omitempty"`
	Max        float64 `json:"max,omitempty"`
	MinVisible float64 `json:"min_visible,omitempty"`
	MaxVisible float64 `json:"max_visible,omitempty"`
	// HasBounds is false when no record carried a numeric value for Key; such
	// a filter hides nothing.
	HasBounds bool   `json:"has_bounds,omitempty"`
	Colormap  string `json:"colormap,omitempty"`

	// pendingMin/pendingMax hold an uncommitted range during a slider drag.
	// They do not affect visibility until committed.
	pendingMin, pendingMax float64
	pendingRange           bool
}

// Active reports whether the filter can currently hide anything. Inactive
// filters are skipped by the visibility pass.
func (f *Filter) Active() bool {
	switch f.Kind {
	case Discrete:
		return len(f.hidden) > 0
	case Continuous:
		return f.HasBounds && (f.MinVisible > f.Min || f.MaxVisible < f.Max)
	default:
		return false
	}
}

// Hides reports whether this filter hides the record. Discrete: a record is
// hidden when it references any entity whose option is toggled off. Records
// referencing no enumerated entity fail open. Continuous: hidden when the
// value falls strictly outside the committed visible range; missing values
// fail open.
func (f *Filter) Hides(r *store.Record) bool {
	if r == nil {
		return false
	}
	switch f.Kind {
	case Discrete:
		if len(f.hidden) == 0 {
			return false
		}
		switch f.Source {
		case SourceDataset:
			_, off := f.hidden[r.DatasetID]
			return off
		case SourceTag:
			for _, id := range r.TagIDs {
				if _, off := f.hidden[id]; off {
					return true
				}
			}
			return false
		case SourceCategory:
			for _, id := range r.CategoryIDs() {
				if _, off := f.hidden[id]; off {
					return true
				}
			}
			return false
		}
		return false
	case Continuous:
		if !f.HasBounds {
			return false
		}
		v, ok := r.MetadataNumber(f.Key)
		if !ok {
			return false
		}
		return v < f.MinVisible || v > f.MaxVisible
	default:
		return false
	}
}

// Option returns the option for an entity id, or nil.
func (f *Filter) Option(entityID int64) *Option {
	for i := range f.Options {
		if f.Options[i].EntityID == entityID {
			return &f.Options[i]
		}
	}
	return nil
}

// SetOptionVisible toggles one option. Returns ErrNotFound for unknown ids.
func (f *Filter) SetOptionVisible(entityID int64, visible bool) error {
	opt := f.Option(entityID)
	if opt == nil {
		return ErrNotFound
	}
	opt.Visible = visible
	f.rebuildHidden()
	return nil
}

func (f *Filter) rebuildHidden() {
	f.hidden = nil
	for i := range f.Options {
		if !f.Options[i].Visible {
			if f.hidden == nil {
				f.hidden = make(map[int64]struct{})
			}
			f.hidden[f.Options[i].EntityID] = struct{}{}
		}
	}
}

// StageRange records an uncommitted range update (a slider mid-drag). It does
// not change visibility; CommitRange applies the staged values.
func (f *Filter) StageRange(min, max float64) {
	if max < min {
		min, max = max, min
	}
	f.pendingMin, f.pendingMax = min, max
	f.pendingRange = true
}

// CommitRange applies a range to the filter, clamped to the derived bounds.
// With no arguments staged, the last staged range is used.
func (f *Filter) CommitRange(min, max float64) {
	if max < min {
		min, max = max, min
	}
	if f.HasBounds {
		if min < f.Min {
			min = f.Min
		}
		if max > f.Max {
			max = f.Max
		}
	}
	f.MinVisible, f.MaxVisible = min, max
	f.pendingRange = false
}

// CommitStaged applies the staged range, if any, and reports whether there
// was one.
func (f *Filter) CommitStaged() bool {
	if !f.pendingRange {
		return false
	}
	f.CommitRange(f.pendingMin, f.pendingMax)
	return true
}
