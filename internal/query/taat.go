package query

import (
	"context"
	"sort"

	"github.com/huandu/skiplist"

	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/reader"
)

// accumulator carries a document's partial score and a bitmap of the terms
// already folded into it. In a non-overlapping layered index a docID occurs
// in exactly one layer per term, so a set bit means that term is final.
type accumulator struct {
	score  float32
	bitmap uint32
}

// processLayeredTaat is TAAT over a non-overlapping layered index, after
// Anh/Moffat with the Strohman/Croft accumulator trimming, scored with
// BM25 rather than impacts. Layers from all terms are processed in
// descending score-threshold order; processing starts in OR mode and
// switches to AND once no unseen document can reach the threshold.
func (p *Processor) processLayeredTaat(ctx context.Context, entries []*lexicon.Entry) ([]Result, bool, error) {
	single := len(entries) == 1

	// One cursor per layer of every term.
	type layerCursor struct {
		*listCursor
		term int
	}
	var layerCursors []layerCursor
	var all []*listCursor
	for t, e := range entries {
		for j := 0; j < e.NumLayers(); j++ {
			c, err := p.openCursor(ctx, e, j, single, t)
			if err != nil {
				p.closeCursors(all)
				return nil, false, err
			}
			layerCursors = append(layerCursors, layerCursor{listCursor: c, term: t})
			all = append(all, c)
		}
	}
	defer p.closeCursors(all)

	sort.SliceStable(layerCursors, func(i, j int) bool {
		return layerCursors[i].ld.ScoreThreshold() > layerCursors[j].ld.ScoreThreshold()
	})

	// Accumulators keyed by docID; the skiplist keeps them ordered for the
	// AND passes and the docID-ordered pruning sweeps.
	accums := skiplist.New(skiplist.Uint32)
	threshold := lowestScore
	earlyTerminated := false

	numTerms := len(entries)
	remainingBound := func(fromLayer int) []float32 {
		// Highest unprocessed threshold per term, starting at fromLayer.
		bounds := make([]float32, numTerms)
		for t := 0; t < numTerms; t++ {
			for l := fromLayer; l < len(layerCursors); l++ {
				if layerCursors[l].term == t {
					bounds[t] = layerCursors[l].ld.ScoreThreshold()
					break
				}
			}
		}
		return bounds
	}

	andMode := false
	for li := 0; li < len(layerCursors); li++ {
		// Upper bound for a document not seen yet: the best remaining layer
		// of every term.
		var totalRemainder float32
		for _, b := range remainingBound(li) {
			totalRemainder += b
		}
		if totalRemainder < threshold {
			andMode = true
		}

		layer := layerCursors[li]
		var err error
		if andMode {
			err = p.taatProcessLayerAnd(accums, layer.listCursor, layer.term)
		} else {
			err = p.taatProcessLayerOr(accums, layer.listCursor, layer.term)
		}
		if err != nil {
			return nil, false, err
		}

		// Recompute the k-th best accumulator score.
		kth := newKthScores(p.k)
		threshold = lowestScore
		for el := accums.Front(); el != nil; el = el.Next() {
			threshold = kth.insert(el.Value.(*accumulator).score)
		}

		// Prune accumulators whose upper bound cannot reach the threshold,
		// and check the first early-termination condition: no accumulator
		// below the threshold can cross it.
		termBounds := remainingBound(li + 1)
		conditionOne := true
		var doomed []uint32
		for el := accums.Front(); el != nil; el = el.Next() {
			acc := el.Value.(*accumulator)
			upper := acc.score
			for t := 0; t < numTerms; t++ {
				if acc.bitmap>>uint(t)&1 == 0 {
					upper += termBounds[t]
				}
			}
			if acc.score < threshold && upper > threshold {
				conditionOne = false
			}
			if upper < threshold {
				doomed = append(doomed, el.Key().(uint32))
			}
		}
		for _, docID := range doomed {
			accums.Remove(docID)
		}

		// Second condition: documents above the threshold cannot reorder.
		conditionTwo := false
		if conditionOne {
			conditionTwo = true
			type scored struct {
				score float32
				upper float32
			}
			ordered := make([]scored, 0, accums.Len())
			for el := accums.Front(); el != nil; el = el.Next() {
				acc := el.Value.(*accumulator)
				var upper float32
				for t := 0; t < numTerms; t++ {
					if acc.bitmap>>uint(t)&1 == 0 {
						upper += termBounds[t]
					}
				}
				ordered = append(ordered, scored{score: acc.score, upper: upper})
			}
			sort.Slice(ordered, func(i, j int) bool { return ordered[i].score < ordered[j].score })
			for i := 0; i+1 < len(ordered); i++ {
				if ordered[i].score == ordered[i+1].score && ordered[i].upper > 0 {
					conditionTwo = false
					break
				}
				if ordered[i].upper > ordered[i+1].score-ordered[i].score {
					conditionTwo = false
					break
				}
			}
		}
		if conditionOne && conditionTwo {
			if li < len(layerCursors)-1 {
				earlyTerminated = true
			}
			break
		}
	}

	// Rank the surviving accumulators.
	final := make([]Result, 0, accums.Len())
	for el := accums.Front(); el != nil; el = el.Next() {
		acc := el.Value.(*accumulator)
		final = append(final, Result{Score: acc.score, DocID: el.Key().(uint32)})
	}
	sort.Slice(final, func(i, j int) bool {
		if final[i].Score != final[j].Score {
			return final[i].Score > final[j].Score
		}
		return final[i].DocID < final[j].DocID
	})
	if len(final) > p.k {
		final = final[:p.k]
	}
	return final, earlyTerminated, nil
}

// taatProcessLayerOr walks a whole layer, creating or updating an
// accumulator for every posting.
func (p *Processor) taatProcessLayerOr(accums *skiplist.SkipList, c *listCursor, term int) error {
	target := uint32(0)
	for {
		docID, err := c.ld.NextGEQ(target)
		if err != nil {
			return err
		}
		if docID == reader.NoMoreDocs {
			return nil
		}
		partial, err := p.partialScore(c, docID)
		if err != nil {
			return err
		}
		if el := accums.Get(docID); el != nil {
			acc := el.Value.(*accumulator)
			acc.score += partial
			acc.bitmap |= 1 << uint(term)
		} else {
			accums.Set(docID, &accumulator{score: partial, bitmap: 1 << uint(term)})
		}
		target = docID + 1
	}
}

// taatProcessLayerAnd only updates existing accumulators, skipping through
// the layer with NextGEQ driven by the accumulator table.
func (p *Processor) taatProcessLayerAnd(accums *skiplist.SkipList, c *listCursor, term int) error {
	for el := accums.Front(); el != nil; el = el.Next() {
		docID := el.Key().(uint32)
		acc := el.Value.(*accumulator)
		if acc.bitmap>>uint(term)&1 == 1 {
			continue
		}
		found, err := c.ld.NextGEQ(docID)
		if err != nil {
			return err
		}
		if found == reader.NoMoreDocs {
			return nil
		}
		if found != docID {
			p.stats.PostingsSkipped++
			if p.metrics != nil {
				p.metrics.PostingsSkippedTotal.Inc()
			}
			continue
		}
		partial, err := p.partialScore(c, docID)
		if err != nil {
			return err
		}
		acc.score += partial
		acc.bitmap |= 1 << uint(term)
	}
	return nil
}
