package query

import (
	"context"
	"sort"

	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/reader"
)

// listCursor pairs an open list layer with its term's IDF, computed once at
// open from the complete list length.
type listCursor struct {
	ld  *reader.ListData
	idf float32
}

func (p *Processor) openCursor(ctx context.Context, e *lexicon.Entry, layer int, singleTerm bool, termNum int) (*listCursor, error) {
	ld, err := p.r.OpenList(ctx, e, layer, singleTerm, termNum)
	if err != nil {
		return nil, err
	}
	return &listCursor{
		ld:  ld,
		idf: p.scorer.IDF(ld.NumDocsCompleteList()),
	}, nil
}

func (p *Processor) closeCursors(cursors []*listCursor) {
	for _, c := range cursors {
		if c != nil {
			p.r.CloseList(c.ld)
		}
	}
}

// partialScore computes the cursor's BM25 contribution for the posting it
// is positioned on.
func (p *Processor) partialScore(c *listCursor, docID uint32) (float32, error) {
	freq, err := c.ld.GetFreq()
	if err != nil {
		return 0, err
	}
	p.stats.PostingsScored++
	if p.metrics != nil {
		p.metrics.PostingsScoredTotal.Inc()
	}
	return p.scorer.Partial(c.idf, freq, p.r.GetDocLen(docID)), nil
}

// openLastLayers opens the final layer of every term; on an overlapping
// layered index the final layer holds the complete list, so standard
// processing works unchanged.
func (p *Processor) openLastLayers(ctx context.Context, entries []*lexicon.Entry) ([]*listCursor, error) {
	single := len(entries) == 1
	cursors := make([]*listCursor, 0, len(entries))
	for i, e := range entries {
		c, err := p.openCursor(ctx, e, e.NumLayers()-1, single, i)
		if err != nil {
			p.closeCursors(cursors)
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, nil
}

// sortByLength orders cursors from shortest list to longest, the required
// order for intersection.
func sortByLength(cursors []*listCursor) {
	sort.Slice(cursors, func(i, j int) bool {
		return cursors[i].ld.NumDocs() < cursors[j].ld.NumDocs()
	})
}
