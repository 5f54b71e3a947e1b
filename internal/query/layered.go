package query

import (
	"context"
	"sort"

	"github.com/strata-search/strata/internal/index/lexicon"
)

// processLayered runs the dual-layer overlapping DAAT evaluators. The top
// layer of each term holds its best-scoring documents; layer 1 holds the
// complete list. Results built from the top layers are final when the k-th
// score beats the sum of the last-layer thresholds; otherwise the query
// reruns as a plain intersection over the last layers.
func (p *Processor) processLayered(ctx context.Context, entries []*lexicon.Entry) ([]Result, bool, error) {
	single := len(entries) == 1

	// Open every layer of every term; terms with a single layer reuse it in
	// both slots.
	layers := make([][2]*listCursor, len(entries))
	var all []*listCursor
	singleLayerTerm := false
	for i, e := range entries {
		for j := 0; j < 2; j++ {
			layerNum := j
			if layerNum >= e.NumLayers() {
				layerNum = e.NumLayers() - 1
			}
			c, err := p.openCursor(ctx, e, layerNum, single, i)
			if err != nil {
				p.closeCursors(all)
				return nil, false, err
			}
			layers[i][j] = c
			all = append(all, c)
		}
		if e.NumLayers() == 1 {
			singleLayerTerm = true
		}
	}
	defer p.closeCursors(all)

	var results []Result
	total := 0
	needFallback := false
	earlyTerminated := false

	if singleLayerTerm {
		// A term with one layer already exposes its complete list, so one
		// intersection over the last layers answers the query.
		p.stats.SingleLayerTermHits++
		earlyTerminated = true
		needFallback = true
	} else {
		var err error
		if p.algorithm == AlgLayeredOverlapMerge && len(entries) > 2 {
			results, total, err = p.layeredMerge(layers)
		} else {
			results, total, err = p.layeredPerTerm(layers)
		}
		if err != nil {
			return nil, false, err
		}

		if len(results) >= p.k {
			// The candidate set is final only when no unseen document can
			// beat the k-th score.
			var bound float32
			for _, e := range entries {
				bound += e.Layers[e.NumLayers()-1].ScoreThreshold
			}
			kth := results[min(p.k, len(results))-1]
			if kth.Score > bound {
				p.stats.KthMeetingThreshold++
				earlyTerminated = true
			} else {
				p.stats.KthBelowThreshold++
				needFallback = true
			}
		} else {
			if total < p.k {
				p.stats.NotEnoughResultsSure++
			} else {
				p.stats.NotEnoughResultsMaybe++
			}
			needFallback = true
		}
	}

	if needFallback {
		lastLayers := make([]*listCursor, len(entries))
		for i, e := range entries {
			c := layers[i][min(1, e.NumLayers()-1)]
			c.ld.ResetList(single)
			lastLayers[i] = c
		}
		sortByLength(lastLayers)
		var err error
		results, _, err = p.intersectLists(nil, lastLayers, p.k)
		if err != nil {
			return nil, false, err
		}
	}
	if len(results) > p.k {
		results = results[:p.k]
	}
	return results, earlyTerminated, nil
}

// layeredMerge treats the union of all top layers as one virtual list
// driving an intersection with every term's full layer.
func (p *Processor) layeredMerge(layers [][2]*listCursor) ([]Result, int, error) {
	mergeDrivers := make([]*listCursor, len(layers))
	fullLayers := make([]*listCursor, len(layers))
	for i := range layers {
		mergeDrivers[i] = layers[i][0]
		fullLayers[i] = layers[i][1]
	}
	sortByLength(fullLayers)
	return p.intersectLists(mergeDrivers, fullLayers, p.k)
}

// layeredPerTerm intersects, for every term t, the top layer of t with the
// full layers of the other terms, then merges the per-term result sets
// with docID-level deduplication.
func (p *Processor) layeredPerTerm(layers [][2]*listCursor) ([]Result, int, error) {
	n := len(layers)
	perTerm := make([][]Result, n)
	total := 0
	for t := 0; t < n; t++ {
		intersection := make([]*listCursor, n)
		for i := range layers {
			if i == t {
				intersection[i] = layers[i][0]
			} else {
				intersection[i] = layers[i][1]
			}
		}
		sortByLength(intersection)
		results, subTotal, err := p.intersectLists(nil, intersection, p.k)
		if err != nil {
			return nil, 0, err
		}
		perTerm[t] = results
		total += subTotal

		// The full layers are traversed again by the next intersection.
		for _, c := range intersection {
			if c.ld.LayerNum() == 1 {
				c.ld.ResetList(false)
			}
		}
	}

	// Merge the per-term rankings, dropping duplicate docIDs; scores of the
	// same document can differ across intersections only by float rounding.
	merged := make([]Result, 0, n*p.k)
	for _, rs := range perTerm {
		merged = append(merged, rs...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].DocID < merged[j].DocID
	})
	seen := make(map[uint32]struct{}, len(merged))
	out := merged[:0]
	for _, r := range merged {
		if _, dup := seen[r.DocID]; dup {
			continue
		}
		seen[r.DocID] = struct{}{}
		out = append(out, r)
		if len(out) == p.k {
			break
		}
	}
	return out, total, nil
}
