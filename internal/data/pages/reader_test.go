package pages

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zstd"
)

const pagePayload = `{
	"page": 1,
	"total": 2,
	"records": [
		{"id": 1, "dataset": {"id": 10, "name": "corpus-a"}},
		{"id": 2, "dataset_id": 10}
	]
}`

const projectionPayloadJSON = `{"projections": [{"id": 5, "x": 1.5, "y": -2.5, "record_id": 1}]}`

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewReader_Validates(t *testing.T) {
	if _, err := NewReader("/nonexistent/dir"); err == nil {
		t.Error("expected error for missing directory")
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(file); err == nil {
		t.Error("expected error for non-directory path")
	}
}

func TestListPages_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page_002.json", []byte("{}"))
	writeFile(t, dir, "page_001.json", []byte("{}"))
	writeFile(t, dir, "page_003.json.zst", []byte("x"))
	writeFile(t, dir, "notes.txt", []byte("ignored"))

	r, err := NewReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	names, err := r.ListPages()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"page_001.json", "page_002.json", "page_003.json.zst"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestReadPage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page_001.json", []byte(pagePayload))

	r, err := NewReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	page, err := r.ReadPage("page_001.json")
	if err != nil {
		t.Fatal(err)
	}

	if page.Page != 1 || page.Total != 2 {
		t.Errorf("unexpected page header: %+v", page)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.Records[0].Dataset == nil || page.Records[0].Dataset.Name != "corpus-a" {
		t.Error("nested dataset not decoded")
	}
	if page.Records[1].DatasetID != 10 {
		t.Error("bare dataset foreign key not decoded")
	}
}

func TestReadPage_Zstd(t *testing.T) {
	dir := t.TempDir()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll([]byte(pagePayload), nil)
	enc.Close()
	writeFile(t, dir, "page_001.json.zst", compressed)

	r, err := NewReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	page, err := r.ReadPage("page_001.json.zst")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 2 {
		t.Errorf("expected 2 records from compressed page, got %d", len(page.Records))
	}
}

func TestReadProjections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "projections.json", []byte(projectionPayloadJSON))
	// Bare-array form is tolerated.
	writeFile(t, dir, "bare.json", []byte(`[{"id": 6, "x": 0, "y": 0, "record_id": 2}]`))

	r, err := NewReader(dir)
	if err != nil {
		t.Fatal(err)
	}

	projs, err := r.ReadProjections("projections.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(projs) != 1 || projs[0].X != 1.5 || projs[0].RecordID != 1 {
		t.Errorf("unexpected projections: %+v", projs)
	}

	bare, err := r.ReadProjections("bare.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(bare) != 1 || bare[0].ID != 6 {
		t.Errorf("unexpected bare projections: %+v", bare)
	}
}
