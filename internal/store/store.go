package store

import (
	"sort"
	"sync"
)

// Merge is one batch of normalized entities produced by the ingestion
// pipeline, ready to be applied atomically. List-valued fields (reverse
// indices) have already been pre-merged against the snapshot the batch was
// built from.
type Merge struct {
	Records     map[int64]*Record
	Datasets    map[int64]*Dataset
	Tags        map[int64]*Tag
	Categories  map[int64]*Category
	Resources   map[int64]*Resource
	Projections map[int64]*Projection

	// Total is the server-reported total record count for the collection,
	// used to know when paging is complete. Zero means "unchanged".
	Total int
}

// Store is the normalized in-memory store for one context. All maps are keyed
// by integer entity id. Reads take the read lock; Apply replaces entries under
// the write lock so downstream recomputation always sees a consistent
// snapshot.
type Store struct {
	mu          sync.RWMutex
	records     map[int64]*Record
	datasets    map[int64]*Dataset
	tags        map[int64]*Tag
	categories  map[int64]*Category
	resources   map[int64]*Resource
	projections map[int64]*Projection

	total int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:     make(map[int64]*Record),
		datasets:    make(map[int64]*Dataset),
		tags:        make(map[int64]*Tag),
		categories:  make(map[int64]*Category),
		resources:   make(map[int64]*Resource),
		projections: make(map[int64]*Projection),
	}
}

// Apply merges a batch into the store: new keys win over old, entities present
// in both are replaced by the incoming version (whose reverse indices were
// pre-merged by the batcher).
func (s *Store) Apply(m *Merge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range m.Records {
		s.records[id] = r
	}
	for id, d := range m.Datasets {
		s.datasets[id] = d
	}
	for id, t := range m.Tags {
		s.tags[id] = t
	}
	for id, c := range m.Categories {
		s.categories[id] = c
	}
	for id, res := range m.Resources {
		s.resources[id] = res
	}
	for id, p := range m.Projections {
		// Projections are immutable once ingested.
		if _, ok := s.projections[id]; !ok {
			s.projections[id] = p
		}
	}
	if m.Total > 0 {
		s.total = m.Total
	}
}

// Record returns a record by id, or nil.
func (s *Store) Record(id int64) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// Dataset returns a dataset by id, or nil.
func (s *Store) Dataset(id int64) *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datasets[id]
}

// Tag returns a tag by id, or nil.
func (s *Store) Tag(id int64) *Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tags[id]
}

// Category returns a category by id, or nil.
func (s *Store) Category(id int64) *Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories[id]
}

// Resource returns a resource by id, or nil.
func (s *Store) Resource(id int64) *Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources[id]
}

// Projection returns a projection by id, or nil.
func (s *Store) Projection(id int64) *Projection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projections[id]
}

// Records returns the record map. The map must not be mutated by callers;
// recomputation paths iterate it read-only.
func (s *Store) Records() map[int64]*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*Record, len(s.records))
	for id, r := range s.records {
		out[id] = r
	}
	return out
}

// Datasets returns a snapshot of the dataset map.
func (s *Store) Datasets() map[int64]*Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*Dataset, len(s.datasets))
	for id, d := range s.datasets {
		out[id] = d
	}
	return out
}

// Tags returns a snapshot of the tag map.
func (s *Store) Tags() map[int64]*Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*Tag, len(s.tags))
	for id, t := range s.tags {
		out[id] = t
	}
	return out
}

// Categories returns a snapshot of the category map.
func (s *Store) Categories() map[int64]*Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*Category, len(s.categories))
	for id, c := range s.categories {
		out[id] = c
	}
	return out
}

// RecordIDs returns all resident record ids sorted ascending. This is the
// canonical iteration order for building the render set, so the dense index
// map and the point array can never disagree.
func (s *Store) RecordIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of resident records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Total returns the server-reported total record count (0 if unknown).
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Complete reports whether every record the server announced has arrived.
func (s *Store) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total > 0 && len(s.records) >= s.total
}

// MaxRecordID returns the largest resident record id, or 0 for an empty
// store. Remapping offsets derive from this, not from the record count, so
// sparse id spaces stay collision-free.
func (s *Store) MaxRecordID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for id := range s.records {
		if id > max {
			max = id
		}
	}
	return max
}

// MaxResourceID returns the largest resident resource id, or 0.
func (s *Store) MaxResourceID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for id := range s.resources {
		if id > max {
			max = id
		}
	}
	return max
}

// MaxProjectionID returns the largest resident projection id, or 0.
func (s *Store) MaxProjectionID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for id := range s.projections {
		if id > max {
			max = id
		}
	}
	return max
}
