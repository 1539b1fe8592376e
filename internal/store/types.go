// Package store holds the normalized in-memory entity store for one
// visualization context. Entities arrive denormalized in pages and are merged
// by id; reverse indices on datasets, tags and categories always equal the set
// of records that reference them.
package store

import "sort"

// Context selects which of the parallel stores a query addresses. It is
// threaded explicitly through the API instead of living in a shared global so
// the two views can never bleed into each other.
type Context string

const (
	// ContextRecords is the primary datapoint view.
	ContextRecords Context = "records"
	// ContextObjects is the derived-object view sharing the same UI.
	ContextObjects Context = "objects"
)

// Valid reports whether c names a known context.
func (c Context) Valid() bool {
	return c == ContextRecords || c == ContextObjects
}

// Record is one visualized datapoint: a document or image with annotations,
// tags, free-form metadata and a plotted projection. Visibility is never
// stored on the record; it is derived from the current filter state.
type Record struct {
	ID           int64                  `json:"id"`
	DatasetID    int64                  `json:"dataset_id"`
	ResourceID   int64                  `json:"resource_id"`
	ProjectionID int64                  `json:"projection_id"`
	TagIDs       []int64                `json:"tag_ids"`
	Annotations  []Annotation           `json:"annotations"`
	Inferences   []Inference            `json:"inferences"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Annotation is a human label on a record.
type Annotation struct {
	ID         int64 `json:"id"`
	CategoryID int64 `json:"category_id"`
}

// Inference is a model prediction on a record.
type Inference struct {
	ID         int64   `json:"id"`
	CategoryID int64   `json:"category_id"`
	Score      float64 `json:"score"`
}

// CategoryIDs returns the deduplicated category ids referenced by the
// record's annotations and inferences.
func (r *Record) CategoryIDs() []int64 {
	seen := make(map[int64]struct{}, len(r.Annotations)+len(r.Inferences))
	out := make([]int64, 0, len(r.Annotations)+len(r.Inferences))
	for _, a := range r.Annotations {
		if _, ok := seen[a.CategoryID]; !ok {
			seen[a.CategoryID] = struct{}{}
			out = append(out, a.CategoryID)
		}
	}
	for _, inf := range r.Inferences {
		if _, ok := seen[inf.CategoryID]; !ok {
			seen[inf.CategoryID] = struct{}{}
			out = append(out, inf.CategoryID)
		}
	}
	return out
}

// HasTag reports whether the record carries the tag.
func (r *Record) HasTag(tagID int64) bool {
	for _, id := range r.TagIDs {
		if id == tagID {
			return true
		}
	}
	return false
}

// MetadataNumber reads a numeric metadata value. ok is false for missing keys
// and non-numeric values; callers treat that as "no value", never an error.
func (r *Record) MetadataNumber(key string) (float64, bool) {
	v, present := r.Metadata[key]
	if !present {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Projection is the 2-D plot position of a record. Immutable once ingested,
// 1:1 with its record.
type Projection struct {
	ID       int64   `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	RecordID int64   `json:"record_id"`
}

// Dataset groups records by origin. RecordIDs is the reverse index: the sorted
// ids of all resident records referencing this dataset.
type Dataset struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	RecordIDs []int64 `json:"record_ids"`
	// Stub marks an entity created from a dangling foreign key; it is
	// overwritten when the entity's own page arrives.
	Stub bool `json:"stub,omitempty"`
}

// Tag is a user-applied label with a reverse index of tagged records.
type Tag struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	RecordIDs []int64 `json:"record_ids"`
	Stub      bool    `json:"stub,omitempty"`
}

// Category is an annotation/inference class with a reverse index of records
// that reference it.
type Category struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	RecordIDs []int64 `json:"record_ids"`
	Stub      bool    `json:"stub,omitempty"`
}

// Resource is the underlying asset (image or document) a record points at.
type Resource struct {
	ID   int64  `json:"id"`
	URI  string `json:"uri"`
	Stub bool   `json:"stub,omitempty"`
}

// MergeIDs unions two sorted-or-unsorted id lists into a sorted, deduplicated
// list. Reverse indices are always merged this way; replacing one wholesale
// would drop associations from previously ingested pages.
func MergeIDs(existing, incoming []int64) []int64 {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(existing)+len(incoming))
	out := make([]int64, 0, len(existing)+len(incoming))
	for _, id := range existing {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range incoming {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
