package query

import (
	"context"
	"sort"

	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/reader"
)

// processMaxScore runs MaxScore over the complete lists. Where WAND moves
// every pointer to a common docID before scoring, MaxScore scores each
// candidate as soon as it is reached and stops drawing candidates from
// lists whose combined upper bound can no longer reach the top-k; a list
// is dropped only once it is exhausted. Block score bounds from the
// external index cut off scoring of individual documents early.
func (p *Processor) processMaxScore(ctx context.Context, entries []*lexicon.Entry, twoTiered bool) ([]Result, error) {
	if len(entries) == 1 {
		return p.singleTermLayered(ctx, entries[0])
	}

	listUBs := make([]float32, len(entries))
	for i, e := range entries {
		listUBs[i] = e.Layers[0].ScoreThreshold
	}

	cursors, threshold, top, err := p.seedTwoTier(ctx, entries, twoTiered)
	if err != nil {
		return nil, err
	}
	defer p.closeCursors(cursors)

	// Current docID of each cursor, indexed by list.
	currDocs := make([]uint32, len(cursors))
	type bound struct {
		suffix float32 // this list's bound plus all bounds after it
		list   int
	}
	var bounds []bound
	for i, c := range cursors {
		d, err := c.ld.NextGEQ(0)
		if err != nil {
			return nil, err
		}
		currDocs[i] = d
		if d != reader.NoMoreDocs {
			bounds = append(bounds, bound{suffix: listUBs[i], list: i})
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].suffix > bounds[j].suffix })
	for i := len(bounds) - 2; i >= 0; i-- {
		bounds[i].suffix += bounds[i+1].suffix
	}

	// dropList removes entry i from the bounds array and deducts its own
	// upper bound from every suffix before it.
	dropList := func(i int) {
		own := listUBs[bounds[i].list]
		copy(bounds[i:], bounds[i+1:])
		bounds = bounds[:len(bounds)-1]
		for j := 0; j < i; j++ {
			bounds[j].suffix -= own
		}
	}

	suffixAfter := func(i int) float32 {
		if i+1 < len(bounds) {
			return bounds[i+1].suffix
		}
		return 0
	}

	for len(bounds) > 0 {
		// The candidate is the lowest docID among the prefix of lists whose
		// suffix bound still clears the threshold.
		best := 0
		for i := 1; i < len(bounds); i++ {
			if threshold > bounds[i].suffix {
				break
			}
			if currDocs[bounds[i].list] < currDocs[bounds[best].list] {
				best = i
			}
		}
		if threshold > bounds[0].suffix {
			break // no remaining list combination can reach the top-k
		}
		candidate := currDocs[bounds[best].list]
		if candidate == reader.NoMoreDocs {
			break
		}

		var sum float32
		for i := 0; i < len(bounds); i++ {
			listIdx := bounds[i].list
			if threshold > sum+bounds[i].suffix {
				// Even full contributions from the remaining lists cannot
				// lift this document into the top-k.
				p.stats.PostingsSkipped++
				if p.metrics != nil {
					p.metrics.PostingsSkippedTotal.Inc()
				}
				break
			}
			c := cursors[listIdx]
			d, err := c.ld.NextGEQ(candidate)
			if err != nil {
				return nil, err
			}
			currDocs[listIdx] = d

			// The block score bound is tighter than the list bound; when
			// even it cannot lift the candidate, skip decoding this list's
			// frequency for it.
			if d == candidate && threshold > sum+c.ld.GetBlockScoreBound()+suffixAfter(i) {
				p.stats.PostingsSkipped++
				if p.metrics != nil {
					p.metrics.PostingsSkippedTotal.Inc()
				}
				if currDocs[listIdx], err = c.ld.NextGEQ(candidate + 1); err != nil {
					return nil, err
				}
				if currDocs[listIdx] == reader.NoMoreDocs {
					dropList(i)
					i--
				}
				continue
			}

			if d == candidate {
				partial, err := p.partialScore(c, candidate)
				if err != nil {
					return nil, err
				}
				sum += partial
				if currDocs[listIdx], err = c.ld.NextGEQ(candidate + 1); err != nil {
					return nil, err
				}
			}
			if currDocs[listIdx] == reader.NoMoreDocs {
				dropList(i)
				i--
			}
		}

		if top.insert(sum, candidate) {
			threshold = top.threshold()
		}
	}
	return top.results(), nil
}
