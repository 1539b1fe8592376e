// Package render provides server-side overview rendering of the point cloud
// using fogleman/gg. The interactive GPU renderer lives in the client; this
// produces static PNG previews (thumbnails, link unfurls).
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"sync"

	"github.com/fogleman/gg"

	"github.com/embedview/server/internal/view"
)

// Config contains renderer configuration.
type Config struct {
	ImageSize        int
	DefaultPointSize float64
}

// PreviewRenderer renders point-cloud previews.
type PreviewRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg Config) *PreviewRenderer {
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = 512
	}
	if cfg.DefaultPointSize <= 0 {
		cfg.DefaultPointSize = 1.5
	}
	return &PreviewRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.ImageSize, cfg.ImageSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// RenderPreview renders the render set's visible points to a PNG. Hidden
// points are omitted entirely; colors come from the set's palette.
func (r *PreviewRenderer) RenderPreview(rs *view.RenderSet, pointSize float64) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if rs == nil || rs.Len() == 0 {
		return r.encodeContext(dc)
	}

	if pointSize <= 0 {
		pointSize = r.config.DefaultPointSize
	}

	palette := make([]color.RGBA, len(rs.Palette))
	for i, hex := range rs.Palette {
		palette[i] = parseHex(hex)
	}

	// Map plot coordinates into image space with a small margin, preserving
	// aspect ratio around the camera target.
	size := float64(r.config.ImageSize)
	margin := size * 0.04
	span := rs.Camera.Distance / 1.2 * 2 // full extent of the larger axis
	if span <= 0 {
		span = 1
	}
	scale := (size - 2*margin) / span
	cx, cy := rs.Camera.Target[0], rs.Camera.Target[1]

	for i := 1; i < len(rs.Points); i++ {
		p := rs.Points[i]
		if p[2] == 0 {
			continue
		}

		px := size/2 + (p[0]-cx)*scale
		// Flip Y so larger plot values render toward the top, matching the
		// Cartesian orientation of the interactive view.
		py := size/2 - (p[1]-cy)*scale
		if px < 0 || px >= size || py < 0 || py >= size {
			continue
		}

		ci := int(p[3])
		if ci < 0 || ci >= len(palette) {
			ci = 0
		}
		dc.SetColor(palette[ci])
		dc.DrawCircle(px, py, pointSize)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

// CreateEmptyPreview returns a blank preview.
func (r *PreviewRenderer) CreateEmptyPreview() ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)
	dc.SetColor(color.White)
	dc.Clear()
	return r.encodeContext(dc)
}

func (r *PreviewRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer r.bufferPool.Put(buf)
	buf.Reset()

	if err := png.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// parseHex decodes "#rrggbb"; malformed values fall back to gray rather than
// failing the render.
func parseHex(s string) color.RGBA {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{158, 158, 158, 255}
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{158, 158, 158, 255}
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}
}

// ClampPointSize bounds a requested point radius to a sane range and
// quantizes it for stable cache keys.
func ClampPointSize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	if v < 0.5 {
		v = 0.5
	}
	if v > 8.0 {
		v = 8.0
	}
	return math.Round(v*1000) / 1000
}
