// Package diff compares two indices term by term and reports the first
// divergences, used to validate that a rewritten index preserves the
// original postings.
package diff

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/reader"
)

// maxDifferences bounds the report size.
const maxDifferences = 100

// Options controls which differences are reported.
type Options struct {
	// CompareFreqs also compares per-posting frequencies.
	CompareFreqs bool
}

// Report describes the outcome of a comparison.
type Report struct {
	TermsCompared int
	Differences   []string
}

// Identical reports whether no differences were found.
func (r *Report) Identical() bool { return len(r.Differences) == 0 }

// Compare walks index a's lexicon and compares the complete postings of
// every term against index b.
func Compare(ctx context.Context, a, b *reader.Reader, opts Options) (*Report, error) {
	rep := &Report{}
	var firstErr error

	a.Lexicon().ForEach(func(ae *lexicon.Entry) {
		if firstErr != nil || len(rep.Differences) >= maxDifferences {
			return
		}
		be := b.Lexicon().GetEntry(ae.Term)
		if be == nil {
			rep.Differences = append(rep.Differences,
				fmt.Sprintf("term %q missing from second index", ae.Term))
			return
		}
		rep.TermsCompared++
		aDocs, aFreqs, err := readList(ctx, a, ae)
		if err != nil {
			firstErr = err
			return
		}
		bDocs, bFreqs, err := readList(ctx, b, be)
		if err != nil {
			firstErr = err
			return
		}
		if !aDocs.Equals(bDocs) {
			onlyA := roaring.AndNot(aDocs, bDocs)
			onlyB := roaring.AndNot(bDocs, aDocs)
			rep.Differences = append(rep.Differences,
				fmt.Sprintf("term %q: %d docIDs only in first, %d only in second",
					ae.Term, onlyA.GetCardinality(), onlyB.GetCardinality()))
			return
		}
		if opts.CompareFreqs {
			for docID, f := range aFreqs {
				if bf := bFreqs[docID]; bf != f {
					rep.Differences = append(rep.Differences,
						fmt.Sprintf("term %q doc %d: frequency %d vs %d", ae.Term, docID, f, bf))
					break
				}
			}
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return rep, nil
}

// readList decodes the complete list of a term (its last layer on an
// overlapping index, the union of layers otherwise).
func readList(ctx context.Context, r *reader.Reader, e *lexicon.Entry) (*roaring.Bitmap, map[uint32]uint32, error) {
	docs := roaring.New()
	freqs := make(map[uint32]uint32)
	layers := []int{e.NumLayers() - 1}
	if r.Layered() && !r.Overlapping() {
		layers = layers[:0]
		for i := 0; i < e.NumLayers(); i++ {
			layers = append(layers, i)
		}
	}
	for _, layerNum := range layers {
		ld, err := r.OpenList(ctx, e, layerNum, false, 0)
		if err != nil {
			return nil, nil, err
		}
		target := uint32(0)
		for {
			docID, err := ld.NextGEQ(target)
			if err != nil {
				r.CloseList(ld)
				return nil, nil, err
			}
			if docID == reader.NoMoreDocs {
				break
			}
			freq, err := ld.GetFreq()
			if err != nil {
				r.CloseList(ld)
				return nil, nil, err
			}
			docs.Add(docID)
			freqs[docID] = freq
			target = docID + 1
		}
		r.CloseList(ld)
	}
	return docs, freqs, nil
}
