package query

import (
	"github.com/strata-search/strata/internal/index/reader"
)

// mergeLists is ranked DAAT union. Each iteration finds the lowest current
// docID across the cursors, scores the full document by scanning every
// cursor positioned on it, and advances those cursors past it. Scoring the
// complete document in one pass beats accumulating partials whenever
// docIDs appear in more than one list.
func (p *Processor) mergeLists(lists []*listCursor, k int) ([]Result, int, error) {
	top := newTopK(k)
	total := 0

	type posting struct {
		docID uint32
		list  int
	}
	current := make([]posting, 0, len(lists))
	for i, c := range lists {
		d, err := c.ld.NextGEQ(0)
		if err != nil {
			return nil, 0, err
		}
		if d < reader.NoMoreDocs {
			current = append(current, posting{docID: d, list: i})
		}
	}

	for len(current) > 0 {
		lowest := 0
		for i := 1; i < len(current); i++ {
			if current[i].docID < current[lowest].docID {
				lowest = i
			}
		}
		docID := current[lowest].docID

		var sum float32
		for i := lowest; i < len(current); i++ {
			if current[i].docID != docID {
				continue
			}
			c := lists[current[i].list]
			partial, err := p.partialScore(c, docID)
			if err != nil {
				return nil, 0, err
			}
			sum += partial
			next, err := c.ld.NextGEQ(docID + 1)
			if err != nil {
				return nil, 0, err
			}
			if next == reader.NoMoreDocs {
				current[i] = current[len(current)-1]
				current = current[:len(current)-1]
				i--
			} else {
				current[i].docID = next
			}
		}

		top.insert(sum, docID)
		total++
	}
	return top.results(), total, nil
}
