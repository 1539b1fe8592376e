package ingest

import (
	"reflect"
	"testing"

	"github.com/embedview/server/internal/store"
)

func applyPage(t *testing.T, s *store.Store, b *Batcher, page *RawPage, projs []RawProjection, opts Options) Stats {
	t.Helper()
	m, stats, err := b.BuildMerge(page, projs, opts)
	if err != nil {
		t.Fatalf("BuildMerge failed: %v", err)
	}
	s.Apply(m)
	return stats
}

func TestBuildMerge_Normalizes(t *testing.T) {
	s := store.New()
	b := NewBatcher(s)

	page := &RawPage{
		Page:  1,
		Total: 2,
		Records: []RawRecord{
			{
				ID:      1,
				Dataset: &RawDataset{ID: 10, Name: "corpus-a"},
				Tags:    []RawTag{{ID: 100, Name: "reviewed"}, {ID: 100, Name: "reviewed"}},
				Annotations: []RawAnnotation{
					{ID: 1000, Category: &RawCategory{ID: 200, Name: "cat"}},
				},
				Metadata: map[string]interface{}{"score": 0.5},
			},
			{
				ID:      2,
				Dataset: &RawDataset{ID: 10, Name: "corpus-a"},
				Inferences: []RawInference{
					{ID: 2000, CategoryID: 200, Score: 0.93},
				},
			},
		},
	}

	stats := applyPage(t, s, b, page, nil, Options{})

	if stats.Records != 2 {
		t.Errorf("expected 2 records, got %d", stats.Records)
	}
	if s.Total() != 2 {
		t.Errorf("expected total 2, got %d", s.Total())
	}

	rec := s.Record(1)
	if rec == nil {
		t.Fatal("record 1 missing")
	}
	// Duplicate nested tags dedup to one reference.
	if !reflect.DeepEqual(rec.TagIDs, []int64{100}) {
		t.Errorf("expected deduped tags [100], got %v", rec.TagIDs)
	}

	ds := s.Dataset(10)
	if ds == nil || ds.Stub {
		t.Fatal("expected real dataset 10")
	}
	if !reflect.DeepEqual(ds.RecordIDs, []int64{1, 2}) {
		t.Errorf("expected dataset reverse index [1 2], got %v", ds.RecordIDs)
	}

	cat := s.Category(200)
	if cat == nil {
		t.Fatal("category 200 missing")
	}
	// Referenced by record 1 (annotation) and record 2 (inference).
	if !reflect.DeepEqual(cat.RecordIDs, []int64{1, 2}) {
		t.Errorf("expected category reverse index [1 2], got %v", cat.RecordIDs)
	}
}

func TestBuildMerge_DanglingFKCreatesStub(t *testing.T) {
	s := store.New()
	b := NewBatcher(s)

	page := &RawPage{Records: []RawRecord{
		{ID: 1, DatasetID: 10, ResourceID: 5},
	}}
	stats := applyPage(t, s, b, page, nil, Options{})

	if stats.Stubs == 0 {
		t.Error("expected stub entities to be counted")
	}
	ds := s.Dataset(10)
	if ds == nil || !ds.Stub {
		t.Fatal("expected stub dataset 10")
	}
	res := s.Resource(5)
	if res == nil || !res.Stub {
		t.Fatal("expected stub resource 5")
	}

	// The dataset's own page arrives later and replaces the stub, keeping the
	// reverse index.
	page2 := &RawPage{Records: []RawRecord{
		{ID: 2, Dataset: &RawDataset{ID: 10, Name: "corpus-a"}},
	}}
	applyPage(t, s, b, page2, nil, Options{})

	ds = s.Dataset(10)
	if ds.Stub {
		t.Error("expected stub resolved after entity page arrived")
	}
	if ds.Name != "corpus-a" {
		t.Errorf("expected name corpus-a, got %q", ds.Name)
	}
	if !reflect.DeepEqual(ds.RecordIDs, []int64{1, 2}) {
		t.Errorf("expected reverse index [1 2] to survive, got %v", ds.RecordIDs)
	}
}

func TestBuildMerge_Idempotent(t *testing.T) {
	s := store.New()
	b := NewBatcher(s)

	page := &RawPage{Records: []RawRecord{
		{ID: 1, Dataset: &RawDataset{ID: 10, Name: "corpus-a"}, Tags: []RawTag{{ID: 100}}},
	}}
	projs := []RawProjection{{ID: 500, X: 1, Y: 2, RecordID: 1}}

	applyPage(t, s, b, page, projs, Options{})
	before := s.Dataset(10).RecordIDs

	// Re-ingesting the identical page must not duplicate reverse-index
	// entries or lose the projection link.
	applyPage(t, s, b, page, nil, Options{})

	after := s.Dataset(10).RecordIDs
	if !reflect.DeepEqual(before, after) {
		t.Errorf("reverse index changed on re-ingest: %v -> %v", before, after)
	}
	tag := s.Tag(100)
	if !reflect.DeepEqual(tag.RecordIDs, []int64{1}) {
		t.Errorf("expected tag reverse index [1], got %v", tag.RecordIDs)
	}
	if s.Record(1).ProjectionID != 500 {
		t.Errorf("expected projection link to survive re-ingest, got %d", s.Record(1).ProjectionID)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 record, got %d", s.Len())
	}
}

func TestBuildMerge_RemapIDs(t *testing.T) {
	s := store.New()
	b := NewBatcher(s)

	// Resident data occupies ids 1..5.
	applyPage(t, s, b, &RawPage{Records: []RawRecord{
		{ID: 5, Dataset: &RawDataset{ID: 10, Name: "resident"}},
	}}, []RawProjection{{ID: 3, X: 0, Y: 0, RecordID: 5}}, Options{})

	// A locally generated page reuses ids 1 and 2; remapping shifts them past
	// the resident maximums.
	page := &RawPage{Records: []RawRecord{
		{ID: 1, Dataset: &RawDataset{ID: 10, Name: "resident"}},
		{ID: 2, Resource: &RawResource{ID: 1, URI: "file:///a.png"}},
	}}
	projs := []RawProjection{
		{ID: 1, X: 1, Y: 1, RecordID: 1},
		{ID: 2, X: 2, Y: 2, RecordID: 2},
	}
	stats := applyPage(t, s, b, page, projs, Options{RemapIDs: true})

	if stats.RecordOffset != 6 {
		t.Errorf("expected record offset 6, got %d", stats.RecordOffset)
	}
	if s.Record(5) == nil {
		t.Fatal("resident record 5 clobbered")
	}
	rec := s.Record(7) // raw id 1 shifted by offset 6
	if rec == nil {
		t.Fatalf("expected remapped record 7, resident ids: %v", s.RecordIDs())
	}
	if rec.ProjectionID == 0 {
		t.Error("remapped record lost its projection link")
	}
	p := s.Projection(rec.ProjectionID)
	if p == nil || p.RecordID != rec.ID {
		t.Error("remapped projection does not point back at its record")
	}

	// Entity ids (datasets) are shared vocabulary and never remapped.
	ds := s.Dataset(10)
	if ds == nil {
		t.Fatal("dataset 10 missing")
	}
	if len(ds.RecordIDs) != 3 {
		t.Errorf("expected 3 dataset references, got %v", ds.RecordIDs)
	}
}

func TestBuildMerge_ProjectionBackfillsResidentRecord(t *testing.T) {
	s := store.New()
	b := NewBatcher(s)

	applyPage(t, s, b, &RawPage{Records: []RawRecord{{ID: 1}}}, nil, Options{})
	if s.Record(1).ProjectionID != 0 {
		t.Fatal("setup: record should have no projection yet")
	}

	// Projection payload trails its page.
	applyPage(t, s, b, nil, []RawProjection{{ID: 9, X: 1, Y: 1, RecordID: 1}}, Options{})

	if s.Record(1).ProjectionID != 9 {
		t.Errorf("expected back-filled projection id 9, got %d", s.Record(1).ProjectionID)
	}
}

func TestBuildMerge_NilPage(t *testing.T) {
	s := store.New()
	b := NewBatcher(s)

	m, stats, err := b.BuildMerge(nil, []RawProjection{{ID: 1, X: 0, Y: 0, RecordID: 42}}, Options{})
	if err != nil {
		t.Fatalf("BuildMerge failed: %v", err)
	}
	if stats.Projections != 1 {
		t.Errorf("expected 1 projection, got %d", stats.Projections)
	}
	if len(m.Records) != 0 {
		t.Errorf("expected no record entries for an unknown owner, got %d", len(m.Records))
	}
}
