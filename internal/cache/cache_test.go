package cache

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		PreviewCacheSizeMB: 16,
		PreviewTTL:         5 * time.Minute,
		QueryCacheSize:     4,
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestPreviewCache(t *testing.T) {
	m := newTestManager(t)

	key := PreviewKey("records", 1, "dataset", 1.5)
	if _, ok := m.GetPreview(key); ok {
		t.Error("expected miss on empty cache")
	}

	data := []byte{0x89, 'P', 'N', 'G'}
	if err := m.SetPreview(key, data); err != nil {
		t.Fatalf("SetPreview failed: %v", err)
	}

	got, ok := m.GetPreview(key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(got) != string(data) {
		t.Error("cached data mismatch")
	}
}

func TestQueryCache_Eviction(t *testing.T) {
	m := newTestManager(t)

	for rev := uint64(0); rev < 8; rev++ {
		m.SetQuery(QueryKey("records", rev, "points"), []byte{byte(rev)})
	}

	// Capacity is 4: the oldest entries are gone, the newest survive.
	if _, ok := m.GetQuery(QueryKey("records", 0, "points")); ok {
		t.Error("expected oldest entry evicted")
	}
	if got, ok := m.GetQuery(QueryKey("records", 7, "points")); !ok || got[0] != 7 {
		t.Error("expected newest entry to survive")
	}
}

func TestKeys_DisambiguateState(t *testing.T) {
	a := PreviewKey("records", 1, "dataset", 1.5)
	tests := []string{
		PreviewKey("objects", 1, "dataset", 1.5),
		PreviewKey("records", 2, "dataset", 1.5),
		PreviewKey("records", 1, "tag", 1.5),
		PreviewKey("records", 1, "dataset", 2.0),
	}
	for _, k := range tests {
		if k == a {
			t.Errorf("key collision: %q", k)
		}
	}

	if QueryKey("records", 1, "points") == QueryKey("records", 2, "points") {
		t.Error("query keys must differ across revisions")
	}
}
