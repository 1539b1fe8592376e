// Package pages reads raw page and projection payloads from disk. Payloads
// are JSON files, optionally zstd-compressed (".zst" suffix), matching what
// the preprocessing pipeline emits.
package pages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/embedview/server/internal/ingest"
)

// Reader reads page payloads from a base directory.
type Reader struct {
	baseDir string
	decoder *zstd.Decoder
}

// NewReader creates a reader rooted at baseDir.
func NewReader(baseDir string) (*Reader, error) {
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("page directory not found at %s: %w", baseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("page path %s is not a directory", baseDir)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Reader{baseDir: baseDir, decoder: decoder}, nil
}

// ListPages returns the page payload filenames under the base directory,
// sorted, so pages ingest in a stable order.
func (r *Reader) ListPages() ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.zst") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadPage reads and decodes one page payload.
func (r *Reader) ReadPage(name string) (*ingest.RawPage, error) {
	data, err := r.readFile(name)
	if err != nil {
		return nil, err
	}
	var page ingest.RawPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode page %s: %w", name, err)
	}
	return &page, nil
}

// projectionPayload is the wire shape of a projection-set payload.
type projectionPayload struct {
	Projections []ingest.RawProjection `json:"projections"`
}

// ReadProjections reads and decodes one projection-set payload.
func (r *Reader) ReadProjections(name string) ([]ingest.RawProjection, error) {
	data, err := r.readFile(name)
	if err != nil {
		return nil, err
	}
	var payload projectionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// Tolerate a bare array payload.
		var bare []ingest.RawProjection
		if arrErr := json.Unmarshal(data, &bare); arrErr == nil {
			return bare, nil
		}
		return nil, fmt.Errorf("failed to decode projections %s: %w", name, err)
	}
	return payload.Projections, nil
}

func (r *Reader) readFile(name string) ([]byte, error) {
	path := filepath.Join(r.baseDir, filepath.Clean(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if strings.HasSuffix(name, ".zst") {
		decoded, err := r.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", name, err)
		}
		return decoded, nil
	}
	return data, nil
}
