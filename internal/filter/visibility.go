package filter

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/embedview/server/internal/store"
)

// ComputeVisible recomputes the full visible set: records hidden by no active
// filter. Filters combine as a pure AND of "not hidden by any", so the
// iteration order below is only a short-circuit optimization, never a
// semantic choice. Cost is O(records × active filters × references per
// record); option membership inside a filter is a hash probe.
func ComputeVisible(records map[int64]*store.Record, filters []*Filter) *roaring64.Bitmap {
	active := filters[:0:0]
	for _, f := range filters {
		if f != nil && f.Active() {
			active = append(active, f)
		}
	}

	visible := roaring64.New()
	for id, r := range records {
		hidden := false
		for _, f := range active {
			if f.Hides(r) {
				hidden = true
				break
			}
		}
		if !hidden {
			visible.Add(uint64(id))
		}
	}
	return visible
}
