package query_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/strata-search/strata/internal/index/diff"
	"github.com/strata-search/strata/internal/index/indextest"
	"github.com/strata-search/strata/internal/index/layered"
	"github.com/strata-search/strata/internal/index/meta"
	"github.com/strata-search/strata/internal/index/reader"
	"github.com/strata-search/strata/internal/query"
)

// corpus builds a collection large enough for dual-layer lists: "common"
// occurs in every document with varying frequency, "rare" in the first
// 150. The pad count keeps every document profile distinct, so scores are
// unique and rankings deterministic.
func corpus() []indextest.Doc {
	docs := make([]indextest.Doc, 400)
	for i := range docs {
		var tokens []string
		for c := 0; c <= i%4; c++ {
			tokens = append(tokens, "common")
		}
		if i < 150 {
			tokens = append(tokens, "rare")
		}
		for f := 0; f < i%97; f++ {
			tokens = append(tokens, "pad")
		}
		docs[i] = indextest.Doc{URL: fmt.Sprintf("doc://%d", i), Tokens: tokens}
	}
	return docs
}

// buildLayered writes the base index and a layered rewrite of it,
// returning open readers for both.
func buildLayered(t *testing.T, overlapping bool) (base, lay *reader.Reader) {
	t.Helper()
	dir := t.TempDir()
	basePrefix := indextest.Build(t, dir, corpus(), indextest.Options{})
	base, err := reader.Open(basePrefix, reader.Options{Cache: reader.CacheResident})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { base.Close() })

	outPrefix := basePrefix + "_layered"
	gen, err := layered.New(base, basePrefix, outPrefix, 2, overlapping, layered.SplitPercentageFixedBounded)
	if err != nil {
		t.Fatal(err)
	}
	if err := gen.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	lay, err = reader.Open(outPrefix, reader.Options{Cache: reader.CacheResident, LoadExternalIndex: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lay.Close() })
	return base, lay
}

func TestLayeredMetadata(t *testing.T) {
	base, lay := buildLayered(t, true)
	if !lay.Layered() || !lay.Overlapping() || lay.NumLayers() != 2 {
		t.Fatalf("layered=%t overlapping=%t layers=%d", lay.Layered(), lay.Overlapping(), lay.NumLayers())
	}
	e := lay.Lexicon().GetEntry("common")
	if e == nil {
		t.Fatal("common missing from layered lexicon")
	}
	if e.NumLayers() != 2 {
		t.Fatalf("common has %d layers, want 2", e.NumLayers())
	}
	if e.Layers[0].ScoreThreshold <= e.Layers[1].ScoreThreshold {
		t.Fatalf("layer thresholds not strictly decreasing: %v vs %v",
			e.Layers[0].ScoreThreshold, e.Layers[1].ScoreThreshold)
	}
	// Collection counters survive the rewrite.
	for _, key := range []string{meta.KeyTotalNumDocs, meta.KeyTotalDocumentLengths,
		meta.KeyFirstDocID, meta.KeyLastDocID} {
		baseVal, err := base.Meta.GetString(key)
		if err != nil {
			t.Fatalf("base meta %s: %v", key, err)
		}
		layVal, err := lay.Meta.GetString(key)
		if err != nil || layVal != baseVal {
			t.Errorf("meta %s = %q, want %q (%v)", key, layVal, baseVal, err)
		}
	}
}

func TestOverlappingLayersPreservePostings(t *testing.T) {
	base, lay := buildLayered(t, true)
	rep, err := diff.Compare(context.Background(), base, lay, diff.Options{CompareFreqs: true})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Identical() {
		t.Fatalf("layered index diverges from its input: %v", rep.Differences)
	}
}

func TestNonOverlappingRoundTrip(t *testing.T) {
	base, lay := buildLayered(t, false)
	rep, err := diff.Compare(context.Background(), base, lay, diff.Options{CompareFreqs: true})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Identical() {
		t.Fatalf("partitioned layers lose postings: %v", rep.Differences)
	}
	basePostings, _ := base.Meta.GetInt(meta.KeyIndexPostingCount)
	layPostings, _ := lay.Meta.GetInt(meta.KeyIndexPostingCount)
	if basePostings != layPostings {
		t.Fatalf("posting count changed: %d -> %d", basePostings, layPostings)
	}
}

func compareRankings(t *testing.T, want, got []query.Result, label string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: %d results, want %d", label, len(got), len(want))
	}
	for i := range want {
		if want[i].DocID != got[i].DocID {
			t.Fatalf("%s rank %d: doc %d, want %d", label, i, got[i].DocID, want[i].DocID)
		}
		if math.Abs(float64(want[i].Score-got[i].Score)) > 1e-4 {
			t.Errorf("%s rank %d: score %v, want %v", label, i, got[i].Score, want[i].Score)
		}
	}
}

func TestLayeredScoreAgreement(t *testing.T) {
	base, lay := buildLayered(t, true)
	ctx := context.Background()

	baseAnd := newProcessor(t, base, query.AlgDaatAnd, 10)
	want, err := baseAnd.ExecuteQuery(ctx, "common rare", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != 10 {
		t.Fatalf("base intersection returned %d results", len(want))
	}
	layAnd := newProcessor(t, lay, query.AlgDaatAnd, 10)
	got, err := layAnd.ExecuteQuery(ctx, "common rare", 0)
	if err != nil {
		t.Fatal(err)
	}
	compareRankings(t, want, got, "DAAT-AND on last layers")
}

func TestLayeredOverlapEvaluators(t *testing.T) {
	base, lay := buildLayered(t, true)
	ctx := context.Background()

	baseAnd := newProcessor(t, base, query.AlgDaatAnd, 10)
	wantAnd, err := baseAnd.ExecuteQuery(ctx, "common rare pad", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, alg := range []query.Algorithm{query.AlgLayeredOverlap, query.AlgLayeredOverlapMerge} {
		p := newProcessor(t, lay, alg, 10)
		got, err := p.ExecuteQuery(ctx, "common rare pad", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(wantAnd) {
			t.Fatalf("%s: %d results, want %d", alg, len(got), len(wantAnd))
		}
		for i := range got {
			if got[i].DocID != wantAnd[i].DocID {
				t.Fatalf("%s rank %d: doc %d, want %d", alg, i, got[i].DocID, wantAnd[i].DocID)
			}
		}
	}
}

func TestLayeredEarlyTermination(t *testing.T) {
	_, lay := buildLayered(t, true)
	p := newProcessor(t, lay, query.AlgLayeredOverlap, 1)
	results, err := p.ExecuteQuery(context.Background(), "common", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if p.Stats().EarlyTerminated != 1 {
		t.Fatalf("early terminated = %d, want 1", p.Stats().EarlyTerminated)
	}
}

func TestTwoTierEvaluatorsMatchUnion(t *testing.T) {
	base, lay := buildLayered(t, true)
	ctx := context.Background()

	or := newProcessor(t, base, query.AlgDaatOr, 10)
	want, err := or.ExecuteQuery(ctx, "common rare", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, alg := range []query.Algorithm{query.AlgWand, query.AlgWand2, query.AlgMaxScore, query.AlgMaxScore2} {
		p := newProcessor(t, lay, alg, 10)
		got, err := p.ExecuteQuery(ctx, "common rare", 0)
		if err != nil {
			t.Fatal(err)
		}
		compareRankings(t, want, got, string(alg))
	}
}

func TestPrunedTaatIsRankSafe(t *testing.T) {
	base, lay := buildLayered(t, false)
	ctx := context.Background()

	or := newProcessor(t, base, query.AlgDaatOr, 10)
	want, err := or.ExecuteQuery(ctx, "common rare", 0)
	if err != nil {
		t.Fatal(err)
	}
	p := newProcessor(t, lay, query.AlgLayeredTaat, 10)
	got, err := p.ExecuteQuery(ctx, "common rare", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("TAAT returned %d results, union %d", len(got), len(want))
	}
	for i := range want {
		if got[i].DocID != want[i].DocID {
			t.Fatalf("TAAT rank %d: doc %d, want %d", i, got[i].DocID, want[i].DocID)
		}
		if math.Abs(float64(got[i].Score-want[i].Score)) > 1e-4 {
			t.Errorf("TAAT rank %d score %v, want %v", i, got[i].Score, want[i].Score)
		}
	}
}
