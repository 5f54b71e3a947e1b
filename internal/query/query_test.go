package query_test

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/strata-search/strata/internal/index/indextest"
	"github.com/strata-search/strata/internal/index/reader"
	"github.com/strata-search/strata/internal/query"
	"github.com/strata-search/strata/internal/score"
	"github.com/strata-search/strata/pkg/config"
)

func openToy(t *testing.T) *reader.Reader {
	t.Helper()
	prefix := indextest.Build(t, t.TempDir(), indextest.ToyCollection(), indextest.Options{})
	r, err := reader.Open(prefix, reader.Options{Cache: reader.CacheResident})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func testConfig(k int) *config.Config {
	cfg := config.Default()
	cfg.Query.MaxNumberResults = k
	return cfg
}

func newProcessor(t *testing.T, r *reader.Reader, alg query.Algorithm, k int) *query.Processor {
	t.Helper()
	p, err := query.NewProcessor(r, testConfig(k), alg, query.ModeBatch, query.FormatDiscard)
	if err != nil {
		t.Fatal(err)
	}
	p.SetOutput(io.Discard)
	return p
}

// Toy collection scores: N=2, avg_doc_len=2.5, every term occurs in the
// doc with frequency as tokenized.
func toyScorer() score.BM25 { return score.New(2, 2.5) }

func approx(t *testing.T, got, want float32, msg string) {
	t.Helper()
	if math.Abs(float64(got-want)) > 1e-5 {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}

func TestSingleTermUnion(t *testing.T) {
	r := openToy(t)
	p := newProcessor(t, r, query.AlgDaatOr, 10)
	results, err := p.ExecuteQuery(context.Background(), "alpha", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	s := toyScorer()
	idf := s.IDF(2) // alpha occurs in both docs
	want0 := s.Partial(idf, 1, 3)
	want1 := s.Partial(idf, 1, 2)
	// The shorter document ranks first under length normalization.
	if results[0].DocID != 1 || results[1].DocID != 0 {
		t.Fatalf("ranking = %v, want doc 1 before doc 0", results)
	}
	approx(t, results[0].Score, want1, "doc 1 score")
	approx(t, results[1].Score, want0, "doc 0 score")
}

func TestIntersectionEmpty(t *testing.T) {
	r := openToy(t)
	p := newProcessor(t, r, query.AlgDaatAnd, 10)
	results, err := p.ExecuteQuery(context.Background(), "beta gamma", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("disjoint terms returned %v", results)
	}
}

func TestIntersection(t *testing.T) {
	r := openToy(t)
	p := newProcessor(t, r, query.AlgDaatAnd, 10)
	results, err := p.ExecuteQuery(context.Background(), "alpha beta", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != 0 {
		t.Fatalf("results = %v, want only doc 0", results)
	}
	s := toyScorer()
	want := s.Partial(s.IDF(2), 1, 3) + s.Partial(s.IDF(1), 2, 3)
	approx(t, results[0].Score, want, "alpha+beta score on doc 0")
}

func TestMissingTermSemantics(t *testing.T) {
	r := openToy(t)
	and := newProcessor(t, r, query.AlgDaatAnd, 10)
	results, err := and.ExecuteQuery(context.Background(), "alpha nosuchterm", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("AND with a missing term returned %v", results)
	}

	or := newProcessor(t, r, query.AlgDaatOr, 10)
	results, err = or.ExecuteQuery(context.Background(), "alpha nosuchterm", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("OR should elide the missing term, got %v", results)
	}
}

func TestWandMatchesUnionTopOne(t *testing.T) {
	r := openToy(t)
	or := newProcessor(t, r, query.AlgDaatOr, 1)
	wantResults, err := or.ExecuteQuery(context.Background(), "alpha beta gamma", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(wantResults) != 1 {
		t.Fatalf("union top-1 missing: %v", wantResults)
	}

	wand := newProcessor(t, r, query.AlgWand, 1)
	got, err := wand.ExecuteQuery(context.Background(), "alpha beta gamma", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DocID != wantResults[0].DocID {
		t.Fatalf("WAND top-1 = %v, union top-1 = %v", got, wantResults)
	}
	approx(t, got[0].Score, wantResults[0].Score, "WAND top-1 score")

	// Doc 0 carries both alpha and beta; its combined score must win.
	s := toyScorer()
	want := s.Partial(s.IDF(2), 1, 3) + s.Partial(s.IDF(1), 2, 3)
	approx(t, got[0].Score, want, "expected alpha+beta score on doc 0")
	if got[0].DocID != 0 {
		t.Fatalf("WAND top-1 docID = %d, want 0", got[0].DocID)
	}
}

func TestMaxScoreMatchesUnion(t *testing.T) {
	r := openToy(t)
	or := newProcessor(t, r, query.AlgDaatOr, 10)
	want, err := or.ExecuteQuery(context.Background(), "alpha beta gamma", 0)
	if err != nil {
		t.Fatal(err)
	}
	ms := newProcessor(t, r, query.AlgMaxScore, 10)
	got, err := ms.ExecuteQuery(context.Background(), "alpha beta gamma", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("MaxScore returned %d results, union %d", len(got), len(want))
	}
	for i := range want {
		if got[i].DocID != want[i].DocID {
			t.Errorf("rank %d: MaxScore doc %d, union doc %d", i, got[i].DocID, want[i].DocID)
		}
		approx(t, got[i].Score, want[i].Score, "MaxScore score")
	}
}

func TestTopPositionsIntersection(t *testing.T) {
	prefix := indextest.Build(t, t.TempDir(), indextest.ToyCollection(), indextest.Options{Positions: true})
	r, err := reader.Open(prefix, reader.Options{Cache: reader.CacheResident, UsePositions: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	cfg := testConfig(10)
	cfg.Index.UsePositions = true
	p, err := query.NewProcessor(r, cfg, query.AlgDaatAndTopPositions, query.ModeBatch, query.FormatDiscard)
	if err != nil {
		t.Fatal(err)
	}
	p.SetOutput(io.Discard)
	results, err := p.ExecuteQuery(context.Background(), "alpha beta", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != 0 {
		t.Fatalf("results = %v, want only doc 0", results)
	}
	// Score agrees with the plain intersection.
	and := newProcessor(t, r, query.AlgDaatAnd, 10)
	want, err := and.ExecuteQuery(context.Background(), "alpha beta", 0)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, results[0].Score, want[0].Score, "top-positions score")
}

func TestDuplicateTermsScoreOnce(t *testing.T) {
	r := openToy(t)
	p := newProcessor(t, r, query.AlgDaatOr, 10)
	// Duplicate terms must not double-score.
	results, err := p.ExecuteQuery(context.Background(), "alpha alpha ALPHA", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	s := toyScorer()
	approx(t, results[0].Score, s.Partial(s.IDF(2), 1, 2), "deduplicated score")
}
