package ingest

import (
	"github.com/embedview/server/internal/store"
)

// Options controls one ingestion batch.
type Options struct {
	// RemapIDs offsets page-local record/resource/projection ids past the
	// store's current maximum so locally generated ids never collide with
	// resident data. Intra-page references are remapped consistently.
	RemapIDs bool
}

// Stats summarizes what a batch changed.
type Stats struct {
	Records      int   `json:"records"`
	Projections  int   `json:"projections"`
	Stubs        int   `json:"stubs"`
	RecordOffset int64 `json:"record_offset,omitempty"`
}

// Batcher builds normalized merge batches from raw pages against a store
// snapshot. Building is the potentially long step and runs on a worker
// goroutine; applying the resulting merge is atomic and cheap.
type Batcher struct {
	store *store.Store
}

// NewBatcher creates a batcher over the given store.
func NewBatcher(s *store.Store) *Batcher {
	return &Batcher{store: s}
}

// BuildMerge normalizes one page (plus its optional projection payload) into
// a merge batch. Reverse indices on datasets/tags/categories are pre-merged
// against the store snapshot here: union, deduplicated, never replaced
// wholesale, so associations from earlier pages survive.
//
// A record referencing an entity absent from both the page and the store is
// not an error: the entity is created as a stub and overwritten when its own
// page arrives.
func (b *Batcher) BuildMerge(page *RawPage, projections []RawProjection, opts Options) (*store.Merge, Stats, error) {
	m := &store.Merge{
		Records:     make(map[int64]*store.Record),
		Datasets:    make(map[int64]*store.Dataset),
		Tags:        make(map[int64]*store.Tag),
		Categories:  make(map[int64]*store.Category),
		Resources:   make(map[int64]*store.Resource),
		Projections: make(map[int64]*store.Projection),
	}
	var stats Stats

	// Offsets derive from the current max ids, not counts, so sparse id
	// spaces stay collision-free.
	var recOff, resOff, projOff int64
	if opts.RemapIDs {
		recOff = b.store.MaxRecordID() + 1
		resOff = b.store.MaxResourceID() + 1
		projOff = b.store.MaxProjectionID() + 1
		stats.RecordOffset = recOff
	}

	if page != nil {
		m.Total = page.Total
		// Reverse-index contributions from this page, keyed by entity id.
		dsRefs := make(map[int64][]int64)
		tagRefs := make(map[int64][]int64)
		catRefs := make(map[int64][]int64)

		for i := range page.Records {
			raw := &page.Records[i]
			rec := b.normalizeRecord(raw, m, recOff, resOff, &stats)
			m.Records[rec.ID] = rec

			if rec.DatasetID != 0 {
				dsRefs[rec.DatasetID] = append(dsRefs[rec.DatasetID], rec.ID)
			}
			for _, tagID := range rec.TagIDs {
				if tagID != 0 {
					tagRefs[tagID] = append(tagRefs[tagID], rec.ID)
				}
			}
			for _, catID := range rec.CategoryIDs() {
				if catID != 0 {
					catRefs[catID] = append(catRefs[catID], rec.ID)
				}
			}
			stats.Records++
		}

		b.mergeDatasetRefs(m, dsRefs, &stats)
		b.mergeTagRefs(m, tagRefs, &stats)
		b.mergeCategoryRefs(m, catRefs, &stats)
	}

	for i := range projections {
		raw := projections[i]
		p := &store.Projection{
			ID:       raw.ID + projOff,
			X:        raw.X,
			Y:        raw.Y,
			RecordID: raw.RecordID + recOff,
		}
		m.Projections[p.ID] = p
		stats.Projections++

		// Back-fill the owning record's projection id. The record may be in
		// this batch or already resident (projection payloads can trail their
		// page).
		if rec, ok := m.Records[p.RecordID]; ok {
			rec.ProjectionID = p.ID
		} else if resident := b.store.Record(p.RecordID); resident != nil {
			cp := *resident
			cp.ProjectionID = p.ID
			m.Records[cp.ID] = &cp
		}
	}

	return m, stats, nil
}

func (b *Batcher) normalizeRecord(raw *RawRecord, m *store.Merge, recOff, resOff int64, stats *Stats) *store.Record {
	rec := &store.Record{
		ID:       raw.ID + recOff,
		Metadata: raw.Metadata,
	}

	// Dataset: nested object wins, bare foreign key resolves lazily.
	switch {
	case raw.Dataset != nil:
		rec.DatasetID = raw.Dataset.ID
		upsertDataset(m, b.store, raw.Dataset.ID, raw.Dataset.Name, stats)
	case raw.DatasetID != 0:
		rec.DatasetID = raw.DatasetID
		upsertDataset(m, b.store, raw.DatasetID, "", stats)
	}

	switch {
	case raw.Resource != nil:
		rec.ResourceID = raw.Resource.ID + resOff
		m.Resources[rec.ResourceID] = &store.Resource{ID: rec.ResourceID, URI: raw.Resource.URI}
	case raw.ResourceID != 0:
		rec.ResourceID = raw.ResourceID + resOff
		if b.store.Resource(rec.ResourceID) == nil {
			m.Resources[rec.ResourceID] = &store.Resource{ID: rec.ResourceID, Stub: true}
			stats.Stubs++
		}
	}

	if len(raw.Tags) > 0 {
		rec.TagIDs = make([]int64, 0, len(raw.Tags))
		seen := make(map[int64]struct{}, len(raw.Tags))
		for _, t := range raw.Tags {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			rec.TagIDs = append(rec.TagIDs, t.ID)
			upsertTag(m, b.store, t.ID, t.Name, stats)
		}
	}

	for _, a := range raw.Annotations {
		catID := a.CategoryID
		name := ""
		if a.Category != nil {
			catID = a.Category.ID
			name = a.Category.Name
		}
		rec.Annotations = append(rec.Annotations, store.Annotation{ID: a.ID, CategoryID: catID})
		upsertCategory(m, b.store, catID, name, stats)
	}
	for _, inf := range raw.Inferences {
		catID := inf.CategoryID
		name := ""
		if inf.Category != nil {
			catID = inf.Category.ID
			name = inf.Category.Name
		}
		rec.Inferences = append(rec.Inferences, store.Inference{ID: inf.ID, CategoryID: catID, Score: inf.Score})
		upsertCategory(m, b.store, catID, name, stats)
	}

	// Carry a resident record's projection forward when re-ingesting.
	if resident := b.store.Record(rec.ID); resident != nil && rec.ProjectionID == 0 {
		rec.ProjectionID = resident.ProjectionID
	}

	return rec
}

// upsertDataset ensures the dataset exists in the batch, preferring real
// names over stubs from dangling foreign keys.
func upsertDataset(m *store.Merge, s *store.Store, id int64, name string, stats *Stats) {
	if id == 0 {
		return
	}
	if existing, ok := m.Datasets[id]; ok {
		if existing.Stub && name != "" {
			existing.Name = name
			existing.Stub = false
		}
		return
	}
	d := &store.Dataset{ID: id, Name: name, Stub: name == ""}
	if resident := s.Dataset(id); resident != nil {
		d.RecordIDs = resident.RecordIDs
		if name == "" {
			d.Name = resident.Name
			d.Stub = resident.Stub
		}
	} else if d.Stub {
		stats.Stubs++
	}
	m.Datasets[id] = d
}

func upsertTag(m *store.Merge, s *store.Store, id int64, name string, stats *Stats) {
	if id == 0 {
		return
	}
	if existing, ok := m.Tags[id]; ok {
		if existing.Stub && name != "" {
			existing.Name = name
			existing.Stub = false
		}
		return
	}
	t := &store.Tag{ID: id, Name: name, Stub: name == ""}
	if resident := s.Tag(id); resident != nil {
		t.RecordIDs = resident.RecordIDs
		if name == "" {
			t.Name = resident.Name
			t.Stub = resident.Stub
		}
	} else if t.Stub {
		stats.Stubs++
	}
	m.Tags[id] = t
}

func upsertCategory(m *store.Merge, s *store.Store, id int64, name string, stats *Stats) {
	if id == 0 {
		return
	}
	if existing, ok := m.Categories[id]; ok {
		if existing.Stub && name != "" {
			existing.Name = name
			existing.Stub = false
		}
		return
	}
	c := &store.Category{ID: id, Name: name, Stub: name == ""}
	if resident := s.Category(id); resident != nil {
		c.RecordIDs = resident.RecordIDs
		if name == "" {
			c.Name = resident.Name
			c.Stub = resident.Stub
		}
	} else if c.Stub {
		stats.Stubs++
	}
	m.Categories[id] = c
}

func (b *Batcher) mergeDatasetRefs(m *store.Merge, refs map[int64][]int64, stats *Stats) {
	for id, incoming := range refs {
		d, ok := m.Datasets[id]
		if !ok {
			d = &store.Dataset{ID: id, Stub: true}
			if resident := b.store.Dataset(id); resident != nil {
				d = &store.Dataset{ID: id, Name: resident.Name, RecordIDs: resident.RecordIDs, Stub: resident.Stub}
			} else {
				stats.Stubs++
			}
			m.Datasets[id] = d
		}
		d.RecordIDs = store.MergeIDs(d.RecordIDs, incoming)
	}
}

func (b *Batcher) mergeTagRefs(m *store.Merge, refs map[int64][]int64, stats *Stats) {
	for id, incoming := range refs {
		t, ok := m.Tags[id]
		if !ok {
			t = &store.Tag{ID: id, Stub: true}
			if resident := b.store.Tag(id); resident != nil {
				t = &store.Tag{ID: id, Name: resident.Name, RecordIDs: resident.RecordIDs, Stub: resident.Stub}
			} else {
				stats.Stubs++
			}
			m.Tags[id] = t
		}
		t.RecordIDs = store.MergeIDs(t.RecordIDs, incoming)
	}
}

func (b *Batcher) mergeCategoryRefs(m *store.Merge, refs map[int64][]int64, stats *Stats) {
	for id, incoming := range refs {
		c, ok := m.Categories[id]
		if !ok {
			c = &store.Category{ID: id, Stub: true}
			if resident := b.store.Category(id); resident != nil {
				c = &store.Category{ID: id, Name: resident.Name, RecordIDs: resident.RecordIDs, Stub: resident.Stub}
			} else {
				stats.Stubs++
			}
			m.Categories[id] = c
		}
		c.RecordIDs = store.MergeIDs(c.RecordIDs, incoming)
	}
}
