package filter

import (
	"testing"

	"github.com/embedview/server/internal/store"
)

// threeRecords is the canonical small collection: record 1 in dataset A with
// tag X, record 2 in dataset A with tag Y, record 3 in dataset B untagged.
func threeRecords() map[int64]*store.Record {
	return map[int64]*store.Record{
		1: {ID: 1, DatasetID: 10, TagIDs: []int64{100}},
		2: {ID: 2, DatasetID: 10, TagIDs: []int64{101}},
		3: {ID: 3, DatasetID: 11},
	}
}

func TestRebuildDiscrete_Options(t *testing.T) {
	records := threeRecords()
	names := map[int64]string{10: "corpus-a", 11: "corpus-b"}

	f := RebuildDiscrete("dataset", SourceDataset, names, records, nil)

	if len(f.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(f.Options))
	}
	// Deterministic order by entity id.
	if f.Options[0].EntityID != 10 || f.Options[1].EntityID != 11 {
		t.Errorf("unexpected option order: %v, %v", f.Options[0].EntityID, f.Options[1].EntityID)
	}
	if f.Options[0].Label != "corpus-a" {
		t.Errorf("expected label corpus-a, got %q", f.Options[0].Label)
	}
	if f.Options[0].Count != 2 || f.Options[1].Count != 1 {
		t.Errorf("unexpected counts: %d, %d", f.Options[0].Count, f.Options[1].Count)
	}
	for i := range f.Options {
		if !f.Options[i].Visible {
			t.Errorf("option %d should default to visible", i)
		}
		if f.Options[i].Color == "" {
			t.Errorf("option %d missing color", i)
		}
	}
	if f.Active() {
		t.Error("filter with all options visible should be inactive")
	}
}

func TestRebuildDiscrete_SkipsZeroDataset(t *testing.T) {
	records := map[int64]*store.Record{
		1: {ID: 1},
		2: {ID: 2, DatasetID: 10},
	}
	f := RebuildDiscrete("dataset", SourceDataset, nil, records, nil)
	if len(f.Options) != 1 {
		t.Fatalf("expected 1 option, got %d", len(f.Options))
	}
	if f.Options[0].EntityID != 10 {
		t.Errorf("expected entity 10, got %d", f.Options[0].EntityID)
	}
}

func TestRebuildDiscrete_PreservesToggles(t *testing.T) {
	records := threeRecords()

	f := RebuildDiscrete("dataset", SourceDataset, nil, records, nil)
	if err := f.SetOptionVisible(10, false); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	// New record arrives, filter rebuilds from the larger snapshot.
	records[4] = &store.Record{ID: 4, DatasetID: 12}
	f2 := RebuildDiscrete("dataset", SourceDataset, nil, records, f)

	opt := f2.Option(10)
	if opt == nil {
		t.Fatal("option 10 missing after rebuild")
	}
	if opt.Visible {
		t.Error("expected toggled-off option to stay hidden after rebuild")
	}
	if newOpt := f2.Option(12); newOpt == nil || !newOpt.Visible {
		t.Error("expected new option to default to visible")
	}
}

func TestDiscreteHides(t *testing.T) {
	records := threeRecords()
	f := RebuildDiscrete("tag", SourceTag, nil, records, nil)

	if err := f.SetOptionVisible(100, false); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	if !f.Hides(records[1]) {
		t.Error("record with hidden tag should be hidden")
	}
	if f.Hides(records[2]) {
		t.Error("record with a different tag should stay visible")
	}
	// Record 3 has no tags at all: fails open.
	if f.Hides(records[3]) {
		t.Error("record with no tags should fail open")
	}
}

func TestContinuous_FailOpen(t *testing.T) {
	records := map[int64]*store.Record{
		1: {ID: 1, Metadata: map[string]interface{}{"score": 10.0}},
		2: {ID: 2, Metadata: map[string]interface{}{"score": 20.0}},
		3: {ID: 3},
	}

	f := RebuildContinuous("score", "score", records, nil)
	if !f.HasBounds {
		t.Fatal("expected bounds from records 1 and 2")
	}
	if f.Min != 10.0 || f.Max != 20.0 {
		t.Fatalf("expected bounds [10, 20], got [%v, %v]", f.Min, f.Max)
	}
	if f.Active() {
		t.Error("fully open range should be inactive")
	}

	f.CommitRange(15, 25)
	if f.MaxVisible != 20.0 {
		t.Errorf("expected max clamped to 20, got %v", f.MaxVisible)
	}

	if !f.Hides(records[1]) {
		t.Error("value 10 below visible min 15 should be hidden")
	}
	if f.Hides(records[2]) {
		t.Error("value 20 inside range should be visible")
	}
	if f.Hides(records[3]) {
		t.Error("record without the key should fail open")
	}
}

func TestContinuous_NoValues(t *testing.T) {
	records := map[int64]*store.Record{1: {ID: 1}, 2: {ID: 2}}
	f := RebuildContinuous("score", "score", records, nil)

	if f.HasBounds {
		t.Error("expected no bounds when no record carries the key")
	}
	if f.Active() {
		t.Error("boundless filter should be inactive")
	}
	if f.Hides(records[1]) {
		t.Error("boundless filter should hide nothing")
	}
}

func TestContinuous_RebuildPreservesRange(t *testing.T) {
	records := map[int64]*store.Record{
		1: {ID: 1, Metadata: map[string]interface{}{"score": 10.0}},
		2: {ID: 2, Metadata: map[string]interface{}{"score": 20.0}},
	}

	f := RebuildContinuous("score", "score", records, nil)
	f.CommitRange(12, 18)

	// New record widens the bounds.
	records[3] = &store.Record{ID: 3, Metadata: map[string]interface{}{"score": 30.0}}
	f2 := RebuildContinuous("score", "score", records, f)

	if f2.Max != 30.0 {
		t.Errorf("expected new max 30, got %v", f2.Max)
	}
	if f2.MinVisible != 12 || f2.MaxVisible != 18 {
		t.Errorf("expected committed range [12, 18] to survive, got [%v, %v]", f2.MinVisible, f2.MaxVisible)
	}
	if !f2.Active() {
		t.Error("narrowed filter should stay active after rebuild")
	}
}

func TestStageAndCommit(t *testing.T) {
	records := map[int64]*store.Record{
		1: {ID: 1, Metadata: map[string]interface{}{"score": 0.0}},
		2: {ID: 2, Metadata: map[string]interface{}{"score": 100.0}},
	}
	f := RebuildContinuous("score", "score", records, nil)

	f.StageRange(40, 60)
	if f.Active() {
		t.Error("staged range must not affect visibility")
	}
	if f.Hides(records[1]) {
		t.Error("staged range must not hide records")
	}

	if !f.CommitStaged() {
		t.Fatal("expected a staged range to commit")
	}
	if f.MinVisible != 40 || f.MaxVisible != 60 {
		t.Errorf("expected [40, 60], got [%v, %v]", f.MinVisible, f.MaxVisible)
	}
	if !f.Hides(records[1]) {
		t.Error("value 0 should be hidden after commit")
	}

	if f.CommitStaged() {
		t.Error("second CommitStaged should report nothing staged")
	}
}

func TestCommitRange_SwapsInverted(t *testing.T) {
	records := map[int64]*store.Record{
		1: {ID: 1, Metadata: map[string]interface{}{"score": 5.0}},
		2: {ID: 2, Metadata: map[string]interface{}{"score": 50.0}},
	}
	f := RebuildContinuous("score", "score", records, nil)

	f.CommitRange(40, 10)
	if f.MinVisible != 10 || f.MaxVisible != 40 {
		t.Errorf("expected inverted range swapped to [10, 40], got [%v, %v]", f.MinVisible, f.MaxVisible)
	}
}

func TestPredicateMatches(t *testing.T) {
	rec := &store.Record{
		ID:          1,
		DatasetID:   10,
		TagIDs:      []int64{100},
		Annotations: []store.Annotation{{ID: 1, CategoryID: 200}},
		Metadata:    map[string]interface{}{"score": 15.0},
	}

	tests := []struct {
		name string
		p    Predicate
		want bool
	}{
		{"dataset match", Predicate{Op: DatasetEquals, EntityID: 10}, true},
		{"dataset mismatch", Predicate{Op: DatasetEquals, EntityID: 11}, false},
		{"tag match", Predicate{Op: TagReferenced, EntityID: 100}, true},
		{"tag mismatch", Predicate{Op: TagReferenced, EntityID: 101}, false},
		{"category match", Predicate{Op: CategoryReferenced, EntityID: 200}, true},
		{"category mismatch", Predicate{Op: CategoryReferenced, EntityID: 201}, false},
		{"range match", Predicate{Op: MetadataRange, Key: "score", Min: 10, Max: 20}, true},
		{"range miss", Predicate{Op: MetadataRange, Key: "score", Min: 16, Max: 20}, false},
		{"range missing key", Predicate{Op: MetadataRange, Key: "other", Min: 0, Max: 100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Matches(rec); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if (Predicate{Op: DatasetEquals, EntityID: 10}).Matches(nil) {
		t.Error("nil record should never match")
	}
}

func TestSetOptionVisible_Unknown(t *testing.T) {
	f := RebuildDiscrete("dataset", SourceDataset, nil, threeRecords(), nil)
	if err := f.SetOptionVisible(999, false); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
