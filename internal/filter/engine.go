package filter

import (
	"sort"

	"github.com/embedview/server/internal/store"
	"github.com/embedview/server/pkg/palette"
)

// RebuildDiscrete builds a discrete filter from the current entity snapshot.
// Only entities actually referenced by at least one record become options;
// ordering is deterministic by entity id, and each option gets a color from a
// palette sized to the option count. prev, when non-nil, carries the user's
// visible toggles forward for options that survive the rebuild.
func RebuildDiscrete(name string, source Source, names map[int64]string, records map[int64]*store.Record, prev *Filter) *Filter {
	counts := make(map[int64]int)
	for _, r := range records {
		for _, id := range referencedIDs(source, r) {
			counts[id]++
		}
	}

	ids := make([]int64, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var prevVisible map[int64]bool
	if prev != nil {
		prevVisible = make(map[int64]bool, len(prev.Options))
		for i := range prev.Options {
			prevVisible[prev.Options[i].EntityID] = prev.Options[i].Visible
		}
	}

	colors := palette.Distinct(len(ids))
	options := make([]Option, len(ids))
	for i, id := range ids {
		visible := true
		if prevVisible != nil {
			if v, ok := prevVisible[id]; ok {
				visible = v
			}
		}
		options[i] = Option{
			EntityID:  id,
			Label:     names[id],
			Visible:   visible,
			Color:     palette.Hex(colors[i]),
			Count:     counts[id],
			Predicate: predicateFor(source, id),
		}
	}

	f := &Filter{
		Name:    name,
		Kind:    Discrete,
		Source:  source,
		Options: options,
	}
	f.rebuildHidden()
	return f
}

// RebuildContinuous builds a continuous filter over a numeric metadata key.
// Bounds come from a full scan of the record set; records without a numeric
// value contribute nothing. The default visible range is fully open. prev
// carries a user-narrowed range forward, clamped to the new bounds.
func RebuildContinuous(name, key string, records map[int64]*store.Record, prev *Filter) *Filter {
	f := &Filter{
		Name:     name,
		Kind:     Continuous,
		Key:      key,
		Colormap: "viridis",
	}
	if prev != nil && prev.Colormap != "" {
		f.Colormap = prev.Colormap
	}

	first := true
	for _, r := range records {
		v, ok := r.MetadataNumber(key)
		if !ok {
			continue
		}
		if first {
			f.Min, f.Max = v, v
			first = false
			continue
		}
		if v < f.Min {
			f.Min = v
		}
		if v > f.Max {
			f.Max = v
		}
	}
	f.HasBounds = !first
	f.MinVisible, f.MaxVisible = f.Min, f.Max

	// A previously narrowed range survives the rebuild, clamped to the new
	// bounds.
	if prev != nil && prev.HasBounds && f.HasBounds {
		if prev.MinVisible > prev.Min || prev.MaxVisible < prev.Max {
			f.CommitRange(prev.MinVisible, prev.MaxVisible)
		}
	}
	return f
}

func referencedIDs(source Source, r *store.Record) []int64 {
	switch source {
	case SourceDataset:
		if r.DatasetID == 0 {
			return nil
		}
		return []int64{r.DatasetID}
	case SourceTag:
		return r.TagIDs
	case SourceCategory:
		return r.CategoryIDs()
	default:
		return nil
	}
}

func predicateFor(source Source, entityID int64) Predicate {
	switch source {
	case SourceDataset:
		return Predicate{Op: DatasetEquals, EntityID: entityID}
	case SourceTag:
		return Predicate{Op: TagReferenced, EntityID: entityID}
	default:
		return Predicate{Op: CategoryReferenced, EntityID: entityID}
	}
}

// DatasetNames extracts the id→name map a dataset filter rebuild needs.
func DatasetNames(datasets map[int64]*store.Dataset) map[int64]string {
	out := make(map[int64]string, len(datasets))
	for id, d := range datasets {
		out[id] = d.Name
	}
	return out
}

// TagNames extracts the id→name map a tag filter rebuild needs.
func TagNames(tags map[int64]*store.Tag) map[int64]string {
	out := make(map[int64]string, len(tags))
	for id, t := range tags {
		out[id] = t.Name
	}
	return out
}

// CategoryNames extracts the id→name map a category filter rebuild needs.
func CategoryNames(categories map[int64]*store.Category) map[int64]string {
	out := make(map[int64]string, len(categories))
	for id, c := range categories {
		out[id] = c.Name
	}
	return out
}
