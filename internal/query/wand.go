package query

import (
	"context"
	"sort"

	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/reader"
)

// processWand runs WAND over the complete lists. Term upper bounds come
// from the first layer's score threshold, which bounds the whole list.
// With twoTiered set (dual-layer overlapping index), the top-docs layers
// are first merged in OR mode to seed the pivot threshold.
func (p *Processor) processWand(ctx context.Context, entries []*lexicon.Entry, twoTiered bool) ([]Result, error) {
	single := len(entries) == 1
	if single {
		return p.singleTermLayered(ctx, entries[0])
	}

	ubs := make([]float32, len(entries))
	for i, e := range entries {
		ubs[i] = e.Layers[0].ScoreThreshold
	}

	cursors, threshold, top, err := p.seedTwoTier(ctx, entries, twoTiered)
	if err != nil {
		return nil, err
	}
	defer p.closeCursors(cursors)

	type posting struct {
		docID uint32
		list  int
	}
	current := make([]posting, 0, len(cursors))
	for i, c := range cursors {
		d, err := c.ld.NextGEQ(0)
		if err != nil {
			return nil, err
		}
		if d < reader.NoMoreDocs {
			current = append(current, posting{docID: d, list: i})
		}
	}

	for len(current) > 0 {
		sort.Slice(current, func(i, j int) bool { return current[i].docID < current[j].docID })

		// Pivot selection: the first cursor where the cumulative upper
		// bound reaches the threshold.
		pivot := -1
		var pivotWeight float32
		for i := range current {
			pivotWeight += ubs[current[i].list]
			if pivotWeight >= threshold {
				pivot = i
				break
			}
		}
		if pivot < 0 {
			break // no unseen docID can enter the top-k
		}
		pivotDoc := current[pivot].docID
		if pivotDoc == reader.NoMoreDocs {
			break
		}

		if pivotDoc == current[0].docID {
			// Enough cumulative weight on the pivot docID: score every
			// cursor positioned on it.
			var sum float32
			for i := 0; i < len(current) && current[i].docID == pivotDoc; i++ {
				c := cursors[current[i].list]
				partial, err := p.partialScore(c, pivotDoc)
				if err != nil {
					return nil, err
				}
				sum += partial
				next, err := c.ld.NextGEQ(pivotDoc + 1)
				if err != nil {
					return nil, err
				}
				if next == reader.NoMoreDocs {
					current = append(current[:i], current[i+1:]...)
					i--
				} else {
					current[i].docID = next
				}
			}
			if top.insert(sum, pivotDoc) {
				threshold = top.threshold()
			}
		} else {
			// Not enough weight yet: advance every cursor before the pivot
			// to at least the pivot docID (the mWAND variant; cheaper
			// pointer sorting at the cost of fewer skips).
			for i := 0; i < len(current) && i <= pivot; i++ {
				c := cursors[current[i].list]
				next, err := c.ld.NextGEQ(pivotDoc)
				if err != nil {
					return nil, err
				}
				if next == reader.NoMoreDocs {
					current = append(current[:i], current[i+1:]...)
					pivot--
					i--
				} else {
					current[i].docID = next
				}
			}
		}
	}
	return top.results(), nil
}

// singleTermLayered answers a one-term query: DAAT-OR over the top layer,
// falling back to the full layer when it yields fewer than k results.
func (p *Processor) singleTermLayered(ctx context.Context, e *lexicon.Entry) ([]Result, error) {
	c, err := p.openCursor(ctx, e, 0, true, 0)
	if err != nil {
		return nil, err
	}
	results, _, err := p.mergeLists([]*listCursor{c}, p.k)
	p.r.CloseList(c.ld)
	if err != nil {
		return nil, err
	}
	if len(results) >= p.k || e.NumLayers() == 1 {
		return results, nil
	}
	full, err := p.openCursor(ctx, e, e.NumLayers()-1, true, 0)
	if err != nil {
		return nil, err
	}
	defer p.r.CloseList(full.ld)
	results, _, err = p.mergeLists([]*listCursor{full}, p.k)
	return results, err
}

// seedTwoTier opens the traversal cursors for WAND/MaxScore. In two-tier
// mode the top-docs layers are merged first; the k-th score of that union
// is a lower bound for entering the final top-k, though not a final result
// set, because a docID absent from some top layer may still outrank it.
func (p *Processor) seedTwoTier(ctx context.Context, entries []*lexicon.Entry, twoTiered bool) ([]*listCursor, float32, *topK, error) {
	threshold := lowestScore
	if twoTiered {
		topLayers := make([]*listCursor, 0, len(entries))
		for i, e := range entries {
			c, err := p.openCursor(ctx, e, 0, false, i)
			if err != nil {
				p.closeCursors(topLayers)
				return nil, 0, nil, err
			}
			topLayers = append(topLayers, c)
		}
		results, _, err := p.mergeLists(topLayers, p.k)
		p.closeCursors(topLayers)
		if err != nil {
			return nil, 0, nil, err
		}
		if len(results) >= p.k {
			threshold = results[p.k-1].Score
		}
	}

	cursors := make([]*listCursor, 0, len(entries))
	for i, e := range entries {
		c, err := p.openCursor(ctx, e, e.NumLayers()-1, false, i)
		if err != nil {
			p.closeCursors(cursors)
			return nil, 0, nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, threshold, newTopK(p.k), nil
}
