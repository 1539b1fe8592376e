//go:build !tiledb

package tiledbproj

import (
	"github.com/embedview/server/internal/ingest"
)

// Reader is a stub when built without "-tags tiledb".
type Reader struct {
	arrayURI string
}

// NewReader creates a projection reader (stub). It still resolves and
// validates the array path, so config issues surface early, but reads return
// ErrUnsupported.
func NewReader(arrayPath string) (*Reader, error) {
	uri, err := ResolveArrayURI(arrayPath)
	if err != nil {
		return nil, err
	}
	return &Reader{arrayURI: uri}, nil
}

func (r *Reader) Supported() bool { return false }

func (r *Reader) ArrayURI() string { return r.arrayURI }

// ReadProjections reads all projection tuples from the array.
func (r *Reader) ReadProjections() ([]ingest.RawProjection, error) {
	return nil, ErrUnsupported
}

// Close releases array resources.
func (r *Reader) Close() error { return nil }
