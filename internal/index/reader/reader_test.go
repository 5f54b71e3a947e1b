package reader_test

import (
	"context"
	"testing"

	"github.com/strata-search/strata/internal/index/indextest"
	"github.com/strata-search/strata/internal/index/reader"
)

func openToy(t *testing.T, positions bool, variant reader.CacheVariant) *reader.Reader {
	t.Helper()
	prefix := indextest.Build(t, t.TempDir(), indextest.ToyCollection(), indextest.Options{Positions: positions})
	r, err := reader.Open(prefix, reader.Options{
		Cache:        variant,
		UsePositions: positions,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCursorTraversal(t *testing.T) {
	for name, variant := range map[string]reader.CacheVariant{
		"resident": reader.CacheResident,
		"mapped":   reader.CacheMapped,
		"lru":      reader.CacheLRU,
	} {
		t.Run(name, func(t *testing.T) {
			r := openToy(t, false, variant)
			ctx := context.Background()

			alpha := r.Lexicon().GetEntry("alpha")
			if alpha == nil {
				t.Fatal("alpha missing from lexicon")
			}
			ld, err := r.OpenList(ctx, alpha, 0, false, 0)
			if err != nil {
				t.Fatal(err)
			}
			defer r.CloseList(ld)

			// A fresh cursor with target 0 must return the first docID, 0,
			// without advancing past it.
			doc, err := ld.NextGEQ(0)
			if err != nil || doc != 0 {
				t.Fatalf("NextGEQ(0) = %d, %v; want 0", doc, err)
			}
			if freq, err := ld.GetFreq(); err != nil || freq != 1 {
				t.Fatalf("GetFreq = %d, %v; want 1", freq, err)
			}
			if doc, err = ld.NextGEQ(1); err != nil || doc != 1 {
				t.Fatalf("NextGEQ(1) = %d, %v; want 1", doc, err)
			}
			if doc, err = ld.NextGEQ(2); err != nil || doc != reader.NoMoreDocs {
				t.Fatalf("NextGEQ(2) = %d, %v; want sentinel", doc, err)
			}
			// Once exhausted, the cursor stays exhausted.
			if doc, err = ld.NextGEQ(0); err != nil || doc != reader.NoMoreDocs {
				t.Fatalf("NextGEQ after exhaustion = %d, %v; want sentinel", doc, err)
			}
		})
	}
}

func TestFrequenciesAndDocLens(t *testing.T) {
	r := openToy(t, false, reader.CacheResident)
	ctx := context.Background()

	beta := r.Lexicon().GetEntry("beta")
	ld, err := r.OpenList(ctx, beta, 0, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.CloseList(ld)
	doc, err := ld.NextGEQ(0)
	if err != nil || doc != 0 {
		t.Fatalf("NextGEQ(0) = %d, %v; want 0", doc, err)
	}
	if freq, _ := ld.GetFreq(); freq != 2 {
		t.Fatalf("beta frequency in doc 0 = %d, want 2", freq)
	}
	if got := r.GetDocLen(0); got != 3 {
		t.Fatalf("GetDocLen(0) = %d, want 3", got)
	}
	if got := r.GetDocLen(1); got != 2 {
		t.Fatalf("GetDocLen(1) = %d, want 2", got)
	}
	if got := r.GetDocURL(1); got != "doc://2" {
		t.Fatalf("GetDocURL(1) = %q, want doc://2", got)
	}
}

func TestPositions(t *testing.T) {
	r := openToy(t, true, reader.CacheResident)
	ctx := context.Background()

	beta := r.Lexicon().GetEntry("beta")
	ld, err := r.OpenList(ctx, beta, 0, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.CloseList(ld)
	if _, err := ld.NextGEQ(0); err != nil {
		t.Fatal(err)
	}
	pos, err := ld.GetPositions()
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 2 || pos[0] != 1 || pos[1] != 2 {
		t.Fatalf("beta positions in doc 0 = %v, want [1 2]", pos)
	}
}

func TestResetList(t *testing.T) {
	r := openToy(t, false, reader.CacheResident)
	ctx := context.Background()
	alpha := r.Lexicon().GetEntry("alpha")
	ld, err := r.OpenList(ctx, alpha, 0, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.CloseList(ld)
	if _, err := ld.NextGEQ(1); err != nil {
		t.Fatal(err)
	}
	ld.ResetList(false)
	doc, err := ld.NextGEQ(0)
	if err != nil || doc != 0 {
		t.Fatalf("NextGEQ after reset = %d, %v; want 0", doc, err)
	}
}

func TestNextGEQInvariant(t *testing.T) {
	// Strictly increasing targets yield non-decreasing docIDs, each >= its
	// target, over a multi-block synthetic list.
	prefix := indextest.BuildSynthetic(t, t.TempDir(), "term", 200000)
	r, err := reader.Open(prefix, reader.Options{Cache: reader.CacheResident})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()
	e := r.Lexicon().GetEntry("term")
	ld, err := r.OpenList(ctx, e, 0, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.CloseList(ld)

	prev := uint32(0)
	for _, target := range []uint32{0, 1, 127, 128, 129, 4096, 50000, 131071, 199999} {
		doc, err := ld.NextGEQ(target)
		if err != nil {
			t.Fatalf("NextGEQ(%d): %v", target, err)
		}
		if doc < target {
			t.Fatalf("NextGEQ(%d) = %d, below target", target, doc)
		}
		if doc < prev {
			t.Fatalf("NextGEQ(%d) = %d went backwards from %d", target, doc, prev)
		}
		if doc != target {
			t.Fatalf("dense list: NextGEQ(%d) = %d, want exact", target, doc)
		}
		prev = doc
	}
	if doc, err := ld.NextGEQ(200000); err != nil || doc != reader.NoMoreDocs {
		t.Fatalf("NextGEQ past end = %d, %v; want sentinel", doc, err)
	}
}

func TestBlockSkipping(t *testing.T) {
	const numDocs = 200000
	prefix := indextest.BuildSynthetic(t, t.TempDir(), "term", numDocs)
	r, err := reader.Open(prefix, reader.Options{Cache: reader.CacheResident})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()
	if r.TotalIndexBlocks() < 3 {
		t.Fatalf("synthetic list spans %d blocks, need at least 3 for a skipping test", r.TotalIndexBlocks())
	}
	if err := r.BuildBlockLevelIndex(ctx); err != nil {
		t.Fatal(err)
	}

	e := r.Lexicon().GetEntry("term")
	ld, err := r.OpenList(ctx, e, 0, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.CloseList(ld)

	target := uint32(numDocs * 3 / 4)
	doc, err := ld.NextGEQ(target)
	if err != nil {
		t.Fatal(err)
	}
	if doc != target {
		t.Fatalf("NextGEQ(%d) = %d", target, doc)
	}
	if ld.BlocksSkipped() == 0 {
		t.Error("expected skipped blocks when jumping into the list tail")
	}
	if ld.BlocksRead() > 2 {
		t.Errorf("read %d blocks to reach the target, want at most 2", ld.BlocksRead())
	}
}
