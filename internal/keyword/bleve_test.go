package keyword

import (
	"context"
	"path/filepath"
	"testing"
)

func testIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "kw"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_IndexSearchDelete(t *testing.T) {
	idx := testIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, 1, "rice grows in flooded paddies", "agronomy"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, 2, "wheat prefers dry climates", "agronomy"); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "rice paddies", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].ID != 1 {
		t.Fatalf("hits = %v, want chunk 1 first", hits)
	}

	if err := idx.Delete(ctx, []int64{1, 99}); err != nil {
		t.Fatal(err)
	}
	hits, err = idx.Search(ctx, "rice paddies", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.ID == 1 {
			t.Error("deleted chunk still returned")
		}
	}

	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("DocCount = %d, want 1", n)
	}
}

func TestBleveIndex_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kw")
	ctx := context.Background()

	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, 3, "persistent entry", "src"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()
	hits, err := idx2.Search(ctx, "persistent", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != 3 {
		t.Errorf("hits after reopen = %v, want chunk 3", hits)
	}
}
