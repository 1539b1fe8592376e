//go:build tiledb

package tiledbproj

import (
	"fmt"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/embedview/server/internal/ingest"
)

// Reader reads projection tuples from a sparse TileDB array with dimension
// "id" (int64) and attributes "x", "y" (float64) and "record_id" (int64).
type Reader struct {
	arrayURI string
	ctx      *tiledb.Context
}

// NewReader creates a projection reader over a TileDB array.
func NewReader(arrayPath string) (*Reader, error) {
	uri, err := ResolveArrayURI(arrayPath)
	if err != nil {
		return nil, err
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to create TileDB context: %w", err)
	}

	return &Reader{arrayURI: uri, ctx: ctx}, nil
}

func (r *Reader) Supported() bool { return true }

func (r *Reader) ArrayURI() string { return r.arrayURI }

// ReadProjections reads all projection tuples from the array.
func (r *Reader) ReadProjections() ([]ingest.RawProjection, error) {
	arr, err := tiledb.NewArray(r.ctx, r.arrayURI)
	if err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to open array (%s): %w", r.arrayURI, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to open array for read: %w", err)
	}
	defer arr.Close()

	// Non-empty domain bounds the id dimension; an empty array yields none.
	domain, isEmpty, err := arr.NonEmptyDomain()
	if err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to read non-empty domain: %w", err)
	}
	if isEmpty || len(domain) == 0 {
		return []ingest.RawProjection{}, nil
	}
	bounds, ok := domain[0].Bounds.([]int64)
	if !ok || len(bounds) < 2 {
		return nil, fmt.Errorf("tiledbproj: unexpected id domain type %T", domain[0].Bounds)
	}
	lo, hi := bounds[0], bounds[1]

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to create subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName("id", tiledb.MakeRange[int64](lo, hi)); err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to add id range: %w", err)
	}

	q, err := tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to create query: %w", err)
	}
	defer q.Free()

	if err := q.SetSubarray(sub); err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to set subarray: %w", err)
	}
	_ = q.SetLayout(tiledb.TILEDB_UNORDERED)

	n := int(hi-lo) + 1
	ids := make([]int64, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	recordIDs := make([]int64, n)

	if _, err := q.SetDataBuffer("id", ids); err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to set buffer id: %w", err)
	}
	if _, err := q.SetDataBuffer("x", xs); err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to set buffer x: %w", err)
	}
	if _, err := q.SetDataBuffer("y", ys); err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to set buffer y: %w", err)
	}
	if _, err := q.SetDataBuffer("record_id", recordIDs); err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to set buffer record_id: %w", err)
	}

	if err := q.Submit(); err != nil {
		return nil, fmt.Errorf("tiledbproj: query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return nil, fmt.Errorf("tiledbproj: query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED {
		return nil, fmt.Errorf("tiledbproj: unexpected query status: %v", status)
	}

	elems, err := q.ResultBufferElements()
	if err != nil {
		return nil, fmt.Errorf("tiledbproj: failed to get result buffer elements: %w", err)
	}
	got := int(elems["id"][1])
	if got > n {
		got = n
	}

	out := make([]ingest.RawProjection, got)
	for i := 0; i < got; i++ {
		out[i] = ingest.RawProjection{
			ID:       ids[i],
			X:        xs[i],
			Y:        ys[i],
			RecordID: recordIDs[i],
		}
	}
	return out, nil
}

// Close releases array resources.
func (r *Reader) Close() error {
	r.ctx.Free()
	return nil
}
