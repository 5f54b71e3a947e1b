// Package indextest builds small on-disk indices for tests: a tokenized
// toy collection or a synthetic single-term list, written through the real
// builder so every test exercises the production block layout.
package indextest

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/strata-search/strata/internal/index/builder"
	"github.com/strata-search/strata/internal/index/docmap"
	"github.com/strata-search/strata/internal/index/files"
	"github.com/strata-search/strata/internal/index/meta"
	"github.com/strata-search/strata/internal/score"
)

// Doc is one input document.
type Doc struct {
	URL    string
	Tokens []string
}

// Options tweaks the built index.
type Options struct {
	Positions bool
	Coders    builder.Coders
}

// Build writes a complete single-layer index for docs under dir and
// returns its prefix. Document i gets docID i.
func Build(tb testing.TB, dir string, docs []Doc, opts Options) string {
	tb.Helper()
	if opts.Coders == (builder.Coders{}) {
		opts.Coders = builder.DefaultCoders()
	}
	prefix := filepath.Join(dir, "idx")

	type posting struct {
		docID     uint32
		freq      uint32
		positions []uint32
	}
	lists := make(map[string][]posting)
	lengths := make([]uint32, len(docs))
	urls := make([]string, len(docs))
	var totalLen uint64
	for i, d := range docs {
		lengths[i] = uint32(len(d.Tokens))
		urls[i] = d.URL
		totalLen += uint64(len(d.Tokens))
		perTerm := make(map[string][]uint32)
		for pos, tok := range d.Tokens {
			perTerm[tok] = append(perTerm[tok], uint32(pos))
		}
		for term, positions := range perTerm {
			lists[term] = append(lists[term], posting{
				docID:     uint32(i),
				freq:      uint32(len(positions)),
				positions: positions,
			})
		}
	}
	terms := make([]string, 0, len(lists))
	for term := range lists {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	scorer := score.New(uint32(len(docs)), float64(totalLen)/float64(len(docs)))
	b, err := builder.New(prefix, opts.Coders, opts.Positions)
	if err != nil {
		tb.Fatalf("builder.New: %v", err)
	}
	var postingCount uint64
	for _, term := range terms {
		ps := lists[term]
		idf := scorer.IDF(len(ps))
		scoreFn := func(p builder.Posting) float32 {
			return scorer.Partial(idf, p.Frequency, lengths[p.DocID])
		}
		if err := b.BeginList(term, scoreFn); err != nil {
			tb.Fatalf("BeginList(%q): %v", term, err)
		}
		var threshold float32
		for i, pt := range ps {
			bp := builder.Posting{DocID: pt.docID, Frequency: pt.freq}
			if opts.Positions {
				bp.Positions = pt.positions
			}
			if s := scoreFn(bp); i == 0 || s > threshold {
				threshold = s
			}
			if err := b.Add(bp); err != nil {
				tb.Fatalf("Add(%q, %d): %v", term, pt.docID, err)
			}
			postingCount++
		}
		if err := b.EndLayer(threshold); err != nil {
			tb.Fatalf("EndLayer(%q): %v", term, err)
		}
	}
	m, err := b.Finalize()
	if err != nil {
		tb.Fatalf("Finalize: %v", err)
	}
	m.Set(meta.KeyTotalNumDocs, len(docs))
	m.Set(meta.KeyTotalUniqueNumDocs, len(docs))
	m.Set(meta.KeyTotalDocumentLengths, totalLen)
	m.Set(meta.KeyFirstDocID, 0)
	m.Set(meta.KeyLastDocID, len(docs)-1)
	m.Set(meta.KeyDocumentPostingCount, postingCount)
	m.Set(meta.KeyLayeredIndex, false)
	m.Set(meta.KeyNumLayers, 1)
	m.Set(meta.KeyOverlappingLayers, false)
	fs := files.ForPrefix(prefix)
	if err := m.Write(fs.Meta); err != nil {
		tb.Fatalf("meta.Write: %v", err)
	}
	if err := docmap.Write(fs.DocMapBasic, fs.DocMapExt, lengths, urls); err != nil {
		tb.Fatalf("docmap.Write: %v", err)
	}
	return prefix
}

// BuildSynthetic writes an index with one term whose list holds numDocs
// consecutive docIDs starting at 0, frequency 1 each, and returns the
// prefix.
func BuildSynthetic(tb testing.TB, dir, term string, numDocs int) string {
	tb.Helper()
	prefix := filepath.Join(dir, "synth")
	scorer := score.New(uint32(numDocs), 1)
	idf := scorer.IDF(numDocs)
	b, err := builder.New(prefix, builder.DefaultCoders(), false)
	if err != nil {
		tb.Fatalf("builder.New: %v", err)
	}
	scoreFn := func(p builder.Posting) float32 {
		return scorer.Partial(idf, p.Frequency, 1)
	}
	if err := b.BeginList(term, scoreFn); err != nil {
		tb.Fatalf("BeginList: %v", err)
	}
	for i := 0; i < numDocs; i++ {
		if err := b.Add(builder.Posting{DocID: uint32(i), Frequency: 1}); err != nil {
			tb.Fatalf("Add(%d): %v", i, err)
		}
	}
	if err := b.EndLayer(scoreFn(builder.Posting{DocID: 0, Frequency: 1})); err != nil {
		tb.Fatalf("EndLayer: %v", err)
	}
	m, err := b.Finalize()
	if err != nil {
		tb.Fatalf("Finalize: %v", err)
	}
	lengths := make([]uint32, numDocs)
	urls := make([]string, numDocs)
	for i := range lengths {
		lengths[i] = 1
		urls[i] = ""
	}
	m.Set(meta.KeyTotalNumDocs, numDocs)
	m.Set(meta.KeyTotalUniqueNumDocs, numDocs)
	m.Set(meta.KeyTotalDocumentLengths, numDocs)
	m.Set(meta.KeyFirstDocID, 0)
	m.Set(meta.KeyLastDocID, numDocs-1)
	m.Set(meta.KeyDocumentPostingCount, numDocs)
	m.Set(meta.KeyLayeredIndex, false)
	m.Set(meta.KeyNumLayers, 1)
	m.Set(meta.KeyOverlappingLayers, false)
	fs := files.ForPrefix(prefix)
	if err := m.Write(fs.Meta); err != nil {
		tb.Fatalf("meta.Write: %v", err)
	}
	if err := docmap.Write(fs.DocMapBasic, fs.DocMapExt, lengths, urls); err != nil {
		tb.Fatalf("docmap.Write: %v", err)
	}
	return prefix
}

// ToyCollection is the two-document collection used across the evaluator
// tests: doc 0 = "alpha beta beta", doc 1 = "alpha gamma".
func ToyCollection() []Doc {
	return []Doc{
		{URL: "doc://1", Tokens: []string{"alpha", "beta", "beta"}},
		{URL: "doc://2", Tokens: []string{"alpha", "gamma"}},
	}
}
