package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/embedview/server/internal/store"
	"github.com/embedview/server/internal/view"
)

func testRenderSet() *view.RenderSet {
	records := map[int64]*store.Record{
		1: {ID: 1, ProjectionID: 11},
		2: {ID: 2, ProjectionID: 12},
		3: {ID: 3, ProjectionID: 13},
	}
	projections := map[int64]*store.Projection{
		11: {ID: 11, X: -5, Y: -5, RecordID: 1},
		12: {ID: 12, X: 0, Y: 0, RecordID: 2},
		13: {ID: 13, X: 5, Y: 5, RecordID: 3},
	}
	visible := roaring64.New()
	visible.Add(1)
	visible.Add(2)

	return view.BuildRenderSet(
		[]int64{1, 2, 3}, records,
		func(id int64) *store.Projection { return projections[id] },
		visible, nil)
}

func decodePNG(t *testing.T, data []byte) (width, height int) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not valid PNG: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestRenderPreview(t *testing.T) {
	r := NewPreviewRenderer(Config{ImageSize: 128})

	data, err := r.RenderPreview(testRenderSet(), 2.0)
	if err != nil {
		t.Fatalf("RenderPreview failed: %v", err)
	}
	w, h := decodePNG(t, data)
	if w != 128 || h != 128 {
		t.Errorf("expected 128x128 image, got %dx%d", w, h)
	}
}

func TestRenderPreview_EmptySet(t *testing.T) {
	r := NewPreviewRenderer(Config{ImageSize: 64})

	data, err := r.RenderPreview(nil, 0)
	if err != nil {
		t.Fatalf("RenderPreview failed on nil set: %v", err)
	}
	decodePNG(t, data)

	empty, err := r.CreateEmptyPreview()
	if err != nil {
		t.Fatalf("CreateEmptyPreview failed: %v", err)
	}
	w, h := decodePNG(t, empty)
	if w != 64 || h != 64 {
		t.Errorf("expected 64x64 image, got %dx%d", w, h)
	}
}

func TestRenderPreview_PooledBuffersIndependent(t *testing.T) {
	r := NewPreviewRenderer(Config{ImageSize: 32})

	first, err := r.RenderPreview(testRenderSet(), 1.0)
	if err != nil {
		t.Fatal(err)
	}
	snapshot := make([]byte, len(first))
	copy(snapshot, first)

	if _, err := r.RenderPreview(nil, 0); err != nil {
		t.Fatal(err)
	}

	// The first result must not alias the pooled buffer.
	if !bytes.Equal(first, snapshot) {
		t.Error("earlier render result mutated by later render")
	}
}

func TestClampPointSize(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{-1, 0},
		{0.1, 0.5},
		{1.23456, 1.235},
		{100, 8.0},
	}
	for _, tt := range tests {
		if got := ClampPointSize(tt.in); got != tt.want {
			t.Errorf("ClampPointSize(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestParseHex(t *testing.T) {
	c := parseHex("#ff8000")
	if c.R != 0xff || c.G != 0x80 || c.B != 0x00 || c.A != 0xff {
		t.Errorf("unexpected color: %+v", c)
	}

	fallback := parseHex("not-a-color")
	if fallback.R != 158 || fallback.G != 158 || fallback.B != 158 {
		t.Errorf("expected gray fallback, got %+v", fallback)
	}
}
