package lexicon

import (
	"fmt"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, terms []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.lexicon")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	for i, term := range terms {
		layers := []Layer{{
			NumDocs:        uint32(i + 1),
			NumChunks:      1,
			NumBlocks:      1,
			ScoreThreshold: float32(i) * 0.5,
		}}
		if err := w.WriteEntry(term, layers); err != nil {
			t.Fatalf("WriteEntry(%q): %v", term, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStreamOrder(t *testing.T) {
	terms := []string{"alpha", "beta", "gamma"}
	path := writeFixture(t, terms)
	lex, err := OpenStream(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lex.Close()
	for _, want := range terms {
		e, err := lex.NextEntry()
		if err != nil {
			t.Fatal(err)
		}
		if e == nil || e.Term != want {
			t.Fatalf("NextEntry = %+v, want term %q", e, want)
		}
	}
	if e, err := lex.NextEntry(); err != nil || e != nil {
		t.Fatalf("expected end of stream, got %+v, %v", e, err)
	}
}

func TestRandomAccessWithCollisions(t *testing.T) {
	var terms []string
	for i := 0; i < 50; i++ {
		terms = append(terms, fmt.Sprintf("term%02d", i))
	}
	path := writeFixture(t, terms)
	// A single bucket forces every lookup through the move-to-front chain.
	lex, err := OpenRandom(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	for pass := 0; pass < 2; pass++ {
		for i, term := range terms {
			e := lex.GetEntry(term)
			if e == nil {
				t.Fatalf("GetEntry(%q) = nil", term)
			}
			if got := e.Layers[0].NumDocs; got != uint32(i+1) {
				t.Fatalf("GetEntry(%q).NumDocs = %d, want %d", term, got, i+1)
			}
		}
	}
	if lex.GetEntry("absent") != nil {
		t.Fatal("GetEntry for unknown term should be nil")
	}
}

func TestNumDocsCompleteList(t *testing.T) {
	e := &Entry{Layers: []Layer{{NumDocs: 10}, {NumDocs: 90}}}
	if got := e.NumDocsCompleteList(true); got != 90 {
		t.Errorf("overlapping complete list = %d, want 90", got)
	}
	if got := e.NumDocsCompleteList(false); got != 100 {
		t.Errorf("partitioned complete list = %d, want 100", got)
	}
}
