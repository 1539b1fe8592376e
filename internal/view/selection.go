package view

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// SelectionState names the state machine over the selected set.
type SelectionState string

const (
	// SelectionEmpty: nothing selected; downstream consumers fall back to the
	// visible set. An empty selection never means "display nothing".
	SelectionEmpty SelectionState = "empty"
	// SelectionUser: entered from a renderer lasso/click, expressed in dense
	// indices and translated through the render set.
	SelectionUser SelectionState = "user"
	// SelectionFilter: entered from a "select by filter option" action, which
	// already knows record ids and bypasses index translation.
	SelectionFilter SelectionState = "filter"
)

// Selection owns the canonical selected-record set shared by the scatter
// plot, the grid panel and the detail modal, so none of them re-derive it.
type Selection struct {
	state SelectionState
	ids   map[int64]struct{}
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{state: SelectionEmpty}
}

// State returns the current state.
func (s *Selection) State() SelectionState {
	return s.state
}

// SelectIndices replaces the selection with the records behind the given
// dense indices. Unknown or sentinel indices are ignored. An empty lasso
// clears the selection.
func (s *Selection) SelectIndices(indices []int, rs *RenderSet) {
	ids := make(map[int64]struct{}, len(indices))
	for _, idx := range indices {
		if id, ok := rs.ToRecord(idx); ok {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		s.Clear()
		return
	}
	s.state = SelectionUser
	s.ids = ids
}

// SelectRecords replaces the selection with explicit record ids (the
// filter-driven path). An empty id list clears the selection.
func (s *Selection) SelectRecords(ids []int64) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		s.Clear()
		return
	}
	s.state = SelectionFilter
	s.ids = set
}

// Clear returns the selection to the empty state (explicit deselect: ESC or
// an empty lasso).
func (s *Selection) Clear() {
	s.state = SelectionEmpty
	s.ids = nil
}

// Reconcile drops every selected record no longer in the visible set. The
// renderer has no point index for hidden records, so a selection referencing
// one is a hard invariant violation, not a cosmetic leak. A selection that
// empties out returns to the empty state.
func (s *Selection) Reconcile(visible *roaring64.Bitmap) {
	if s.state == SelectionEmpty || len(s.ids) == 0 {
		return
	}
	for id := range s.ids {
		if visible == nil || !visible.Contains(uint64(id)) {
			delete(s.ids, id)
		}
	}
	if len(s.ids) == 0 {
		s.Clear()
	}
}

// Contains reports whether a record is selected.
func (s *Selection) Contains(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// IDs returns the selected record ids, sorted. Empty for the empty state.
func (s *Selection) IDs() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the selected record count.
func (s *Selection) Len() int {
	return len(s.ids)
}

// Effective returns the record set downstream consumers should display: the
// selection when non-empty, otherwise the whole visible set.
func (s *Selection) Effective(visible *roaring64.Bitmap) []int64 {
	if s.state != SelectionEmpty && len(s.ids) > 0 {
		return s.IDs()
	}
	if visible == nil {
		return []int64{}
	}
	out := make([]int64, 0, visible.GetCardinality())
	it := visible.Iterator()
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out
}
