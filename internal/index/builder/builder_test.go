package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-search/strata/internal/index/files"
	"github.com/strata-search/strata/internal/index/postings"
)

func newTestBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "idx")
	b, err := New(prefix, DefaultCoders(), false)
	if err != nil {
		t.Fatal(err)
	}
	return b, prefix
}

func flatScore(Posting) float32 { return 1.0 }

func TestBlocksAreFixedSize(t *testing.T) {
	b, prefix := newTestBuilder(t)
	if err := b.BeginList("term", flatScore); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100000; i++ {
		if err := b.Add(Posting{DocID: uint32(i * 3), Frequency: uint32(i%7 + 1)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.EndLayer(1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Finalize(); err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(files.ForPrefix(prefix).Index)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() == 0 || st.Size()%postings.BlockSize != 0 {
		t.Fatalf("index file size %d is not a whole number of %d-byte blocks", st.Size(), postings.BlockSize)
	}
	if st.Size()/postings.BlockSize < 2 {
		t.Fatal("expected the list to span multiple blocks")
	}
}

func TestRejectsOutOfOrderTerms(t *testing.T) {
	b, _ := newTestBuilder(t)
	if err := b.BeginList("zebra", flatScore); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(Posting{DocID: 1, Frequency: 1}); err != nil {
		t.Fatal(err)
	}
	if err := b.EndLayer(1.0); err != nil {
		t.Fatal(err)
	}
	if err := b.BeginList("aardvark", flatScore); err == nil {
		t.Fatal("expected error for out-of-order term")
	}
}

func TestRejectsDuplicateDocIDs(t *testing.T) {
	b, _ := newTestBuilder(t)
	if err := b.BeginList("term", flatScore); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(Posting{DocID: 5, Frequency: 1}); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(Posting{DocID: 5, Frequency: 1}); err == nil {
		t.Fatal("expected error for duplicate docID")
	}
}

func TestRejectsZeroFrequency(t *testing.T) {
	b, _ := newTestBuilder(t)
	if err := b.BeginList("term", flatScore); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(Posting{DocID: 1, Frequency: 0}); err == nil {
		t.Fatal("expected error for zero frequency")
	}
}
