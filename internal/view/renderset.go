// Package view bridges the normalized store to the external point renderer:
// it owns the dense-index mapping, the render payload, the camera hint and
// the selection state machine.
package view

import (
	"image/color"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/embedview/server/internal/filter"
	"github.com/embedview/server/internal/store"
	"github.com/embedview/server/pkg/palette"
)

// Point is one renderer tuple: [x, y, visibleFlag, colorIndex, recordID].
// The external renderer understands nothing but these.
type Point [5]float64

// Camera is the initial view hint derived from the projection bounding box.
type Camera struct {
	Target   [2]float64 `json:"target"`
	Distance float64    `json:"distance"`
}

// RenderSet couples the point array with the dense-index bijection. Both are
// produced by the one constructor below and never rebuilt independently: a
// one-off mismatch between them silently attributes clicks to the wrong
// record, which is the worst bug this layer can have.
//
// Dense indices run 1..N; index 0 is the reserved "no point" sentinel at the
// origin.
type RenderSet struct {
	Points  []Point  `json:"points"`
	Palette []string `json:"palette"`
	Camera  Camera   `json:"camera"`

	toIndex  map[int64]int
	toRecord []int64
}

// BuildRenderSet builds the point array, index maps, palette and camera for
// the given record order. ids is the full render order (typically all
// resident record ids, sorted); records without a resident projection are
// skipped until their projection payload arrives. visible flags each point,
// and colorBy (may be nil) assigns color indices: palette slot 0 is the
// fallback for unmatched records; discrete filters contribute one slot per
// option, continuous filters a quantized colormap gradient.
func BuildRenderSet(
	ids []int64,
	records map[int64]*store.Record,
	projection func(id int64) *store.Projection,
	visible *roaring64.Bitmap,
	colorBy *filter.Filter,
) *RenderSet {
	rs := &RenderSet{
		Points:   make([]Point, 1, len(ids)+1),
		toIndex:  make(map[int64]int, len(ids)),
		toRecord: make([]int64, 1, len(ids)+1),
	}
	// Index 0: origin sentinel.
	rs.Points[0] = Point{0, 0, 0, 0, 0}
	rs.toRecord[0] = 0

	rs.Palette = buildPalette(colorBy)
	colorIdx := colorIndexer(colorBy)

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)

	for _, id := range ids {
		r := records[id]
		if r == nil {
			continue
		}
		p := projection(r.ProjectionID)
		if p == nil {
			continue
		}

		visFlag := 0.0
		if visible == nil || visible.Contains(uint64(id)) {
			visFlag = 1.0
		}

		idx := len(rs.Points)
		rs.Points = append(rs.Points, Point{p.X, p.Y, visFlag, float64(colorIdx(r)), float64(id)})
		rs.toIndex[id] = idx
		rs.toRecord = append(rs.toRecord, id)

		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	rs.Camera = cameraFor(minX, minY, maxX, maxY, len(rs.Points) > 1)
	return rs
}

// Recolor updates visibility flags and color indices in place without
// touching the index maps or point order. Recoloring is the hot path and
// orders of magnitude cheaper than a rebuild, so filter toggles go through
// here; only membership or order changes warrant BuildRenderSet.
func (rs *RenderSet) Recolor(records map[int64]*store.Record, visible *roaring64.Bitmap, colorBy *filter.Filter) {
	rs.Palette = buildPalette(colorBy)
	colorIdx := colorIndexer(colorBy)

	for i := 1; i < len(rs.Points); i++ {
		id := rs.toRecord[i]
		visFlag := 0.0
		if visible == nil || visible.Contains(uint64(id)) {
			visFlag = 1.0
		}
		rs.Points[i][2] = visFlag
		rs.Points[i][3] = float64(colorIdx(records[id]))
	}
}

// ToIndex returns the dense index for a record id.
func (rs *RenderSet) ToIndex(recordID int64) (int, bool) {
	idx, ok := rs.toIndex[recordID]
	return idx, ok
}

// ToRecord returns the record id for a dense index. Index 0 and out-of-range
// indices resolve to nothing.
func (rs *RenderSet) ToRecord(idx int) (int64, bool) {
	if idx <= 0 || idx >= len(rs.toRecord) {
		return 0, false
	}
	return rs.toRecord[idx], true
}

// Len returns the number of real points (excluding the sentinel).
func (rs *RenderSet) Len() int {
	return len(rs.Points) - 1
}

// continuousBins is the quantization of a colormap gradient for continuous
// coloring. 64 steps read as smooth at typical point sizes.
const continuousBins = 64

func buildPalette(colorBy *filter.Filter) []string {
	if colorBy == nil {
		return []string{"#9e9e9e"}
	}
	switch colorBy.Kind {
	case filter.Discrete:
		out := make([]string, 0, len(colorBy.Options)+1)
		out = append(out, "#9e9e9e")
		for i := range colorBy.Options {
			out = append(out, colorBy.Options[i].Color)
		}
		return out
	case filter.Continuous:
		if !colorBy.HasBounds {
			return []string{"#9e9e9e"}
		}
		cm := palette.ByName(colorBy.Colormap)
		out := make([]string, 0, continuousBins+1)
		out = append(out, "#9e9e9e")
		for i := 0; i < continuousBins; i++ {
			c := cm.At(float64(i) / float64(continuousBins-1))
			r, g, b, _ := c.RGBA()
			out = append(out, palette.Hex(color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}))
		}
		return out
	default:
		return []string{"#9e9e9e"}
	}
}

// colorIndexer returns a function mapping a record to its palette slot.
// Discrete: 1+position of the first option the record references. Continuous:
// the metadata value's bin along the colormap gradient. 0 (the gray fallback)
// when nothing matches.
func colorIndexer(colorBy *filter.Filter) func(*store.Record) int {
	if colorBy == nil {
		return func(*store.Record) int { return 0 }
	}
	if colorBy.Kind == filter.Continuous {
		if !colorBy.HasBounds {
			return func(*store.Record) int { return 0 }
		}
		key := colorBy.Key
		min, span := colorBy.Min, colorBy.Max-colorBy.Min
		return func(r *store.Record) int {
			if r == nil {
				return 0
			}
			v, ok := r.MetadataNumber(key)
			if !ok {
				return 0
			}
			t := 0.0
			if span > 0 {
				t = (v - min) / span
			}
			if t < 0 {
				t = 0
			}
			if t > 1 {
				t = 1
			}
			return 1 + int(t*float64(continuousBins-1))
		}
	}
	if colorBy.Kind != filter.Discrete {
		return func(*store.Record) int { return 0 }
	}
	pos := make(map[int64]int, len(colorBy.Options))
	for i := range colorBy.Options {
		pos[colorBy.Options[i].EntityID] = i + 1
	}
	source := colorBy.Source
	return func(r *store.Record) int {
		if r == nil {
			return 0
		}
		switch source {
		case filter.SourceDataset:
			return pos[r.DatasetID]
		case filter.SourceTag:
			for _, id := range r.TagIDs {
				if p, ok := pos[id]; ok {
					return p
				}
			}
		case filter.SourceCategory:
			for _, id := range r.CategoryIDs() {
				if p, ok := pos[id]; ok {
					return p
				}
			}
		}
		return 0
	}
}

// cameraFor centers on the bounding box midpoint and zooms proportionally to
// the half-extent of the larger axis.
func cameraFor(minX, minY, maxX, maxY float64, hasPoints bool) Camera {
	if !hasPoints {
		return Camera{Target: [2]float64{0, 0}, Distance: 1}
	}
	halfX := (maxX - minX) / 2
	halfY := (maxY - minY) / 2
	half := halfX
	if halfY > half {
		half = halfY
	}
	if half <= 0 {
		half = 1
	}
	return Camera{
		Target:   [2]float64{minX + halfX, minY + halfY},
		Distance: half * 1.2,
	}
}
