// Package layered rewrites a single-layer index into one with up to
// MaxListLayers layers per term, each carrying a score threshold and
// per-chunk/per-block score bounds. The input index is never mutated.
package layered

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/strata-search/strata/internal/index/builder"
	"github.com/strata-search/strata/internal/index/files"
	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/meta"
	"github.com/strata-search/strata/internal/index/postings"
	"github.com/strata-search/strata/internal/index/reader"
	"github.com/strata-search/strata/internal/score"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// SplitStrategy selects how postings are divided among layers.
type SplitStrategy int

const (
	// SplitPercentage assigns a fixed percentage of the list to each layer.
	SplitPercentage SplitStrategy = iota
	// SplitPercentageFixedBounded caps each percentage layer at an
	// absolute maximum size.
	SplitPercentageFixedBounded
	// SplitExponentiallyIncreasing sizes layer i as (b-1)*b^i with
	// b = n^(1/L), floored by per-layer minimums.
	SplitExponentiallyIncreasing
)

// ParseStrategy maps the configuration string to a strategy.
func ParseStrategy(name string) (SplitStrategy, error) {
	switch name {
	case "percentage":
		return SplitPercentage, nil
	case "", "percentage-fixed-bounded":
		return SplitPercentageFixedBounded, nil
	case "exponential":
		return SplitExponentiallyIncreasing, nil
	}
	return 0, apperrors.Newf(apperrors.ErrConfig, "unknown layer split strategy %q", name)
}

// Per-layer split parameters, indexed by layer number. A zero means
// unbounded for the size arrays.
var (
	layerPercentages = [lexicon.MaxListLayers]int{5, 5, 10, 15, 25, 40, 0, 0}
	layerMaxSizes    = [lexicon.MaxListLayers]int{1024, 8192, 0, 0, 0, 0, 0, 0}
	layerMinSizes    = [lexicon.MaxListLayers]int{1024, 2048, 4096, 8192, 16384, 32768, 65536, 131072}
)

// layerMinSize is the minimum posting count of any non-final layer.
const layerMinSize = postings.ChunkSize

// Generator drives the rewrite of one index.
type Generator struct {
	in        *reader.Reader
	inPrefix  string
	outPrefix string

	numLayers   int
	overlapping bool
	strategy    SplitStrategy

	scorer score.BM25
	logger *slog.Logger
}

// New prepares a generator. The input index must be single-layered.
func New(in *reader.Reader, inPrefix, outPrefix string, numLayers int, overlapping bool, strategy SplitStrategy) (*Generator, error) {
	if numLayers < 1 || numLayers > lexicon.MaxListLayers {
		return nil, apperrors.Newf(apperrors.ErrConfig, "num_layers %d out of range", numLayers)
	}
	if in.IncludesPositions() {
		return nil, apperrors.New(apperrors.ErrConfig, "layered indices cannot carry positions")
	}
	totalDocs, err := in.Meta.GetInt(meta.KeyTotalNumDocs)
	if err != nil {
		return nil, err
	}
	totalLens, err := in.Meta.GetInt(meta.KeyTotalDocumentLengths)
	if err != nil {
		return nil, err
	}
	return &Generator{
		in:          in,
		inPrefix:    inPrefix,
		outPrefix:   outPrefix,
		numLayers:   numLayers,
		overlapping: overlapping,
		strategy:    strategy,
		scorer:      score.New(uint32(totalDocs), float64(totalLens)/float64(totalDocs)),
		logger:      slog.Default().With("component", "layer-generator"),
	}, nil
}

// entry is one posting held in memory during layering.
type entry struct {
	docID uint32
	freq  uint32
	score float32
}

// Run rewrites the whole index and writes the output files.
func (g *Generator) Run(ctx context.Context) error {
	inFiles := files.ForPrefix(g.inPrefix)
	stream, err := lexicon.OpenStream(inFiles.Lexicon)
	if err != nil {
		return err
	}
	defer stream.Close()

	names := builder.Coders{}
	names.DocID, _ = g.in.Meta.GetString(meta.KeyDocIDCoding)
	names.Frequency, _ = g.in.Meta.GetString(meta.KeyFrequencyCoding)
	names.Position, _ = g.in.Meta.GetString(meta.KeyPositionCoding)
	names.BlockHeader, _ = g.in.Meta.GetString(meta.KeyBlockHeaderCoding)
	bldr, err := builder.New(g.outPrefix, names, false)
	if err != nil {
		return err
	}

	for {
		lexEntry, err := stream.NextEntry()
		if err != nil {
			return err
		}
		if lexEntry == nil {
			break
		}
		if err := g.layerTerm(ctx, bldr, lexEntry); err != nil {
			return err
		}
	}

	m, err := bldr.Finalize()
	if err != nil {
		return err
	}
	if err := g.writeMeta(m, bldr); err != nil {
		return err
	}
	outFiles := files.ForPrefix(g.outPrefix)
	if err := copyFile(inFiles.DocMapBasic, outFiles.DocMapBasic); err != nil {
		return err
	}
	if err := copyFile(inFiles.DocMapExt, outFiles.DocMapExt); err != nil {
		return err
	}
	if _, err := os.Stat(inFiles.Remap); err == nil {
		if err := copyFile(inFiles.Remap, outFiles.Remap); err != nil {
			return err
		}
	}
	g.logger.Info("layered index written", "prefix", g.outPrefix,
		"layers", g.numLayers, "overlapping", g.overlapping)
	return nil
}

// layerTerm loads one term's full list, splits it, and emits the layers.
func (g *Generator) layerTerm(ctx context.Context, bldr *builder.Builder, lexEntry *lexicon.Entry) error {
	if lexEntry.NumLayers() != 1 {
		return apperrors.Newf(apperrors.ErrConfig, "input term %q already has %d layers",
			lexEntry.Term, lexEntry.NumLayers())
	}
	list, err := g.in.OpenList(ctx, lexEntry, 0, false, 0)
	if err != nil {
		return err
	}
	defer g.in.CloseList(list)

	idf := g.scorer.IDF(list.NumDocsCompleteList())
	entries := make([]entry, 0, list.NumDocs())
	target := uint32(0)
	for {
		docID, err := list.NextGEQ(target)
		if err != nil {
			return err
		}
		if docID == reader.NoMoreDocs {
			break
		}
		freq, err := list.GetFreq()
		if err != nil {
			return err
		}
		entries = append(entries, entry{
			docID: docID,
			freq:  freq,
			score: g.scorer.Partial(idf, freq, g.in.GetDocLen(docID)),
		})
		target = docID + 1
	}

	// Highest scoring postings first; ties broken by docID so the split is
	// deterministic.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].docID < entries[j].docID
	})

	bounds, thresholds := g.splitList(entries)

	if err := bldr.BeginList(lexEntry.Term, func(p builder.Posting) float32 {
		return g.scorer.Partial(idf, p.Frequency, g.in.GetDocLen(p.DocID))
	}); err != nil {
		return err
	}
	layerSets := make([]*roaring.Bitmap, len(bounds))
	for i, end := range bounds {
		start := 0
		if !g.overlapping && i > 0 {
			start = bounds[i-1]
		}
		layer := make([]entry, end-start)
		copy(layer, entries[start:end])
		sort.Slice(layer, func(a, b int) bool { return layer[a].docID < layer[b].docID })
		set := roaring.New()
		for _, e := range layer {
			if err := bldr.Add(builder.Posting{DocID: e.docID, Frequency: e.freq}); err != nil {
				return err
			}
			set.Add(e.docID)
		}
		layerSets[i] = set
		if err := bldr.EndLayer(thresholds[i]); err != nil {
			return err
		}
	}
	g.validateLayers(lexEntry.Term, entries, layerSets)
	return nil
}

// splitList returns the exclusive end offset of each layer within the
// score-sorted postings, plus the layer score thresholds. Thresholds are
// strictly decreasing; equal-scoring postings migrate into the higher
// layer.
func (g *Generator) splitList(entries []entry) (bounds []int, thresholds []float32) {
	total := len(entries)
	left := total
	base := math.Pow(float64(total), 1.0/float64(g.numLayers))

	for i := 0; i < g.numLayers && left > 0; i++ {
		var n int
		switch g.strategy {
		case SplitPercentage:
			n = layerPercentages[i] * total / 100
		case SplitPercentageFixedBounded:
			n = layerPercentages[i] * total / 100
			if layerMaxSizes[i] != 0 && n > layerMaxSizes[i] {
				n = layerMaxSizes[i]
			}
		case SplitExponentiallyIncreasing:
			n = int((base - 1.0) * math.Pow(base, float64(i)))
			if layerMinSizes[i] != 0 && n < layerMinSizes[i] {
				n = layerMinSizes[i]
			}
		}
		if n > left {
			n = left
		}
		if n < layerMinSize && left >= layerMinSize {
			n = layerMinSize
		}
		left -= n
		if i == g.numLayers-1 && left > 0 {
			n += left
			left = 0
		}

		// Keep the next layer's top score strictly below this layer's
		// threshold by absorbing equal-scoring postings upward.
		start := total - left - n
		for left > 0 && i < g.numLayers-1 &&
			entries[start].score <= entries[total-left].score {
			n++
			left--
		}

		threshold := entries[start].score
		bounds = append(bounds, total-left)
		thresholds = append(thresholds, threshold)
	}
	return bounds, thresholds
}

// validateLayers checks the layer set invariants: overlapping layers nest,
// non-overlapping layers partition the original list.
func (g *Generator) validateLayers(term string, entries []entry, sets []*roaring.Bitmap) {
	full := roaring.New()
	for _, e := range entries {
		full.Add(e.docID)
	}
	if g.overlapping {
		for i := 1; i < len(sets); i++ {
			if !roaring.AndNot(sets[i-1], sets[i]).IsEmpty() {
				g.logger.Error("overlapping layer does not contain its predecessor",
					"term", term, "layer", i)
			}
		}
		if last := sets[len(sets)-1]; !last.Equals(full) {
			g.logger.Error("final overlapping layer does not cover the full list", "term", term)
		}
		return
	}
	union := roaring.New()
	for i, s := range sets {
		if union.Intersects(s) {
			g.logger.Error("non-overlapping layers intersect", "term", term, "layer", i)
		}
		union.Or(s)
	}
	if !union.Equals(full) {
		g.logger.Error("non-overlapping layers do not cover the full list", "term", term)
	}
}

// writeMeta fills the output meta file from the builder counters and the
// input collection statistics, logging count mismatches.
func (g *Generator) writeMeta(m *meta.File, bldr *builder.Builder) error {
	m.Set(meta.KeyLayeredIndex, true)
	m.Set(meta.KeyNumLayers, g.numLayers)
	m.Set(meta.KeyOverlappingLayers, g.overlapping)
	for _, key := range []string{
		meta.KeyTotalDocumentLengths, meta.KeyTotalNumDocs, meta.KeyTotalUniqueNumDocs,
		meta.KeyFirstDocID, meta.KeyLastDocID, meta.KeyDocumentPostingCount,
		meta.KeyRemappedIndex,
	} {
		if v, err := g.in.Meta.GetString(key); err == nil {
			m.Set(key, v)
		}
	}
	inPostings := g.in.Meta.IntOr(meta.KeyIndexPostingCount, -1)
	outPostings := int64(bldr.PostingCount())
	if inPostings >= 0 {
		if !g.overlapping && inPostings != outPostings {
			g.logger.Error("posting count mismatch after layering",
				"input", inPostings, "output", outPostings)
		}
		if g.overlapping && outPostings < inPostings {
			// Overlapping layers duplicate postings, so the output count
			// exceeding the input is expected; falling short is not.
			g.logger.Error("overlapping layered index lost postings",
				"input", inPostings, "output", outPostings)
		}
	}
	return m.Write(files.ForPrefix(g.outPrefix).Meta)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "opening %s: %v", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return apperrors.Newf(apperrors.ErrIO, "creating %s: %v", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "copying %s to %s: %v", src, dst, err)
	}
	return out.Sync()
}
