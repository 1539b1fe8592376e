package palette

import (
	"image/color"
	"reflect"
	"testing"
)

func TestLinearColormapBounds(t *testing.T) {
	c := Viridis.At(-0.5)
	if c != (color.RGBA{68, 1, 84, 255}) {
		t.Errorf("expected first color for t<0, got %v", c)
	}

	c = Viridis.At(1.5)
	if c != (color.RGBA{253, 231, 37, 255}) {
		t.Errorf("expected last color for t>1, got %v", c)
	}
}

func TestLinearColormapAtIndex(t *testing.T) {
	if Viridis.AtIndex(0) != Viridis.At(0) {
		t.Error("expected index 0 to match the first stop")
	}
	// Wraps past the end.
	n := len(Viridis.colors)
	if Viridis.AtIndex(n+1) != Viridis.AtIndex(1) {
		t.Error("expected index to wrap around the stop count")
	}
}

func TestByNameFallback(t *testing.T) {
	if !reflect.DeepEqual(ByName("nonexistent"), Colormap(Viridis)) {
		t.Errorf("expected viridis fallback for unknown name")
	}
	if !reflect.DeepEqual(ByName("plasma"), Colormap(Plasma)) {
		t.Errorf("expected plasma")
	}
}

func TestDistinct(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		colors := Distinct(0)
		if colors == nil || len(colors) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", colors)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a := Distinct(12)
		b := Distinct(12)
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("color %d differs between calls: %v vs %v", i, a[i], b[i])
			}
		}
	})

	t.Run("unique", func(t *testing.T) {
		colors := Distinct(50)
		if len(colors) != 50 {
			t.Fatalf("expected 50 colors, got %d", len(colors))
		}
		seen := make(map[color.RGBA]int)
		for i, c := range colors {
			if prev, ok := seen[c]; ok {
				t.Fatalf("colors %d and %d are identical: %v", prev, i, c)
			}
			seen[c] = i
		}
	})

	t.Run("opaque", func(t *testing.T) {
		for i, c := range Distinct(20) {
			if c.A != 255 {
				t.Fatalf("color %d not opaque: %v", i, c)
			}
		}
	})
}

func TestHex(t *testing.T) {
	got := Hex(color.RGBA{255, 0, 128, 255})
	if got != "#ff0080" {
		t.Errorf("expected #ff0080, got %s", got)
	}
}
