package query

import (
	"context"

	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/reader"
)

// processAndOr opens the last layer of each term and runs ranked
// intersection or union.
func (p *Processor) processAndOr(ctx context.Context, entries []*lexicon.Entry, or bool) ([]Result, error) {
	cursors, err := p.openLastLayers(ctx, entries)
	if err != nil {
		return nil, err
	}
	defer p.closeCursors(cursors)
	if or {
		results, _, err := p.mergeLists(cursors, p.k)
		return results, err
	}
	sortByLength(cursors)
	results, _, err := p.intersectLists(nil, cursors, p.k)
	return results, err
}

// intersectLists is ranked DAAT intersection. When mergeLists is non-nil,
// the union of those cursors drives the docIDs looked up in lists; the
// layered merge variant uses this to treat the first layers as one virtual
// list. Returns the capped results and the total intersection size.
func (p *Processor) intersectLists(mergeLists, lists []*listCursor, k int) ([]Result, int, error) {
	top := newTopK(k)
	total := 0

	var did uint32
	for did < reader.NoMoreDocs {
		var i int
		if mergeLists != nil {
			// The lowest docID across the merge lists drives the lookup;
			// duplicates and anything skipped by AND traversal fall out
			// naturally.
			minDoc := reader.NoMoreDocs
			for _, m := range mergeLists {
				d, err := m.ld.NextGEQ(did)
				if err != nil {
					return nil, 0, err
				}
				if d < minDoc {
					minDoc = d
				}
			}
			did = minDoc
			i = 0
		} else {
			d, err := lists[0].ld.NextGEQ(did)
			if err != nil {
				return nil, 0, err
			}
			did = d
			i = 1
		}
		if did == reader.NoMoreDocs {
			break
		}

		d := did
		for ; i < len(lists); i++ {
			var err error
			if d, err = lists[i].ld.NextGEQ(did); err != nil {
				return nil, 0, err
			}
			if d != did {
				break
			}
		}
		if d > did {
			did = d
			continue
		}

		var sum float32
		for _, c := range lists {
			partial, err := p.partialScore(c, did)
			if err != nil {
				return nil, 0, err
			}
			sum += partial
		}
		top.insert(sum, did)
		total++
		did++
	}
	return top.results(), total, nil
}

// processTopPositions is ranked intersection that also retains the position
// lists of the top-k documents.
func (p *Processor) processTopPositions(ctx context.Context, entries []*lexicon.Entry) ([]Result, error) {
	cursors, err := p.openLastLayers(ctx, entries)
	if err != nil {
		return nil, err
	}
	defer p.closeCursors(cursors)
	sortByLength(cursors)
	hits, err := p.intersectTopPositions(cursors, p.k)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(hits))
	for i := range hits {
		results[i] = hits[i].Result
	}
	return results, nil
}

// PositionsResult is a ranked document plus the position lists contributed
// by each query term, pooled for downstream consumers.
type PositionsResult struct {
	Result
	TermPositions [][]uint32
}

// intersectTopPositions mirrors intersectLists but copies each candidate's
// positions; the copies of documents that fall out of the top-k are
// reclaimed when the heap replaces them.
func (p *Processor) intersectTopPositions(lists []*listCursor, k int) ([]PositionsResult, error) {
	heap := make([]PositionsResult, 0, k)
	less := func(a, b PositionsResult) bool { return a.Score < b.Score }
	siftUp := func(i int) {
		for i > 0 {
			parent := (i - 1) / 2
			if less(heap[i], heap[parent]) {
				heap[i], heap[parent] = heap[parent], heap[i]
				i = parent
			} else {
				break
			}
		}
	}
	siftDown := func(i int) {
		for {
			l, r := 2*i+1, 2*i+2
			smallest := i
			if l < len(heap) && less(heap[l], heap[smallest]) {
				smallest = l
			}
			if r < len(heap) && less(heap[r], heap[smallest]) {
				smallest = r
			}
			if smallest == i {
				return
			}
			heap[i], heap[smallest] = heap[smallest], heap[i]
			i = smallest
		}
	}

	var did uint32
	for did < reader.NoMoreDocs {
		d, err := lists[0].ld.NextGEQ(did)
		if err != nil {
			return nil, err
		}
		did = d
		if did == reader.NoMoreDocs {
			break
		}
		matched := true
		for i := 1; i < len(lists); i++ {
			if d, err = lists[i].ld.NextGEQ(did); err != nil {
				return nil, err
			}
			if d != did {
				did = d
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		var sum float32
		termPositions := make([][]uint32, len(lists))
		for i, c := range lists {
			partial, err := p.partialScore(c, did)
			if err != nil {
				return nil, err
			}
			sum += partial
			pos, err := c.ld.GetPositions()
			if err != nil {
				return nil, err
			}
			termPositions[i] = append([]uint32(nil), pos...)
		}

		if len(heap) < k {
			heap = append(heap, PositionsResult{Result: Result{Score: sum, DocID: did}, TermPositions: termPositions})
			siftUp(len(heap) - 1)
		} else if sum > heap[0].Score {
			heap[0] = PositionsResult{Result: Result{Score: sum, DocID: did}, TermPositions: termPositions}
			siftDown(0)
		}
		did++
	}

	// Drain ascending, emit descending.
	out := make([]PositionsResult, len(heap))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap[0]
		heap[0] = heap[len(heap)-1]
		heap = heap[:len(heap)-1]
		siftDown(0)
	}
	return out, nil
}
