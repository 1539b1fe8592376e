// Package tiledbproj reads pre-computed projection coordinates from a TileDB
// array. The TileDB-backed implementation is behind the "tiledb" build tag
// because it needs cgo and the TileDB shared library; default builds get a
// stub whose read methods return ErrUnsupported.
package tiledbproj

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsupported is returned by read methods when the binary was built
// without the tiledb tag.
var ErrUnsupported = errors.New("tiledbproj: built without tiledb support")

// ResolveArrayURI normalizes a configured projection array path. Local paths
// are cleaned and must exist; remote URIs pass through untouched.
func ResolveArrayURI(path string) (string, error) {
	if path == "" {
		return "", errors.New("tiledbproj: empty array path")
	}
	if hasRemoteScheme(path) {
		return path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("tiledbproj: resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("tiledbproj: array not found at %s: %w", abs, err)
	}
	return abs, nil
}

func hasRemoteScheme(path string) bool {
	for _, prefix := range []string{"s3://", "azure://", "gcs://", "tiledb://"} {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
