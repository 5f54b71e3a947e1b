// Package builder writes inverted index files: it packs coded chunks into
// fixed 64 KiB blocks, records per-layer lexicon metadata, accumulates the
// external score-bound index, and fills the meta file counters. Both the
// test fixtures and the layered index generator emit indices through it.
package builder

import (
	"encoding/binary"
	"log/slog"
	"os"

	"github.com/strata-search/strata/internal/index/coding"
	"github.com/strata-search/strata/internal/index/extindex"
	"github.com/strata-search/strata/internal/index/files"
	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/meta"
	"github.com/strata-search/strata/internal/index/postings"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Coders names the policies each stream is written with.
type Coders struct {
	DocID       string
	Frequency   string
	Position    string
	BlockHeader string
}

// DefaultCoders returns the policy names new indices are written with.
func DefaultCoders() Coders {
	return Coders{DocID: "vbyte", Frequency: "vbyte", Position: "vbyte", BlockHeader: "vbyte"}
}

// Posting is one (docID, freq, positions) triple fed to the builder.
type Posting struct {
	DocID     uint32
	Frequency uint32
	Positions []uint32
}

type layerState struct {
	meta              lexicon.Layer
	open              bool
	sawFirstChunk     bool
	chunksInCurrBlock uint32
	lastBlockChunks   uint32
	blocksTouched     uint32
	prevDocID         uint32
	firstPosting      bool

	// chunk under construction
	gaps      []uint32
	freqs     []uint32
	positions []uint32
	chunkMax  float32

	// score bounds for the block under construction
	blockChunkMaxes []float32
}

type lexEntry struct {
	term   string
	layers []lexicon.Layer
}

// Builder assembles one index. Terms must be added in lexicographic order,
// postings within a layer in ascending docID order.
type Builder struct {
	fs    files.Set
	f     *os.File
	names Coders

	docCoder, freqCoder, posCoder, hdrCoder coding.Policy

	includePositions bool

	pending      []postings.EncodedChunk
	pendingWords int
	blockNum     uint64

	entries []lexEntry
	curr    *lexEntry
	layer   layerState
	scoreFn func(Posting) float32

	ext *extindex.Writer

	hdrScratch []uint32

	// meta counters
	totalChunks        uint64
	totalPerTermBlocks uint64
	postingCount       uint64
	headerBytes        uint64
	docIDBytes         uint64
	freqBytes          uint64
	posBytes           uint64
	wastedBytes        uint64

	logger *slog.Logger
}

// New creates the index file for prefix. includePositions controls whether
// position streams are written.
func New(prefix string, names Coders, includePositions bool) (*Builder, error) {
	fs := files.ForPrefix(prefix)
	f, err := os.Create(fs.Index)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "creating index file %s: %v", fs.Index, err)
	}
	b := &Builder{
		fs:               fs,
		f:                f,
		names:            names,
		includePositions: includePositions,
		ext:              extindex.NewWriter(),
		hdrScratch:       make([]uint32, coding.EncodeBound(2*postings.BlockWords/2)),
		logger:           slog.Default().With("component", "index-builder"),
	}
	for _, load := range []struct {
		name string
		dst  *coding.Policy
	}{
		{names.DocID, &b.docCoder},
		{names.Frequency, &b.freqCoder},
		{names.Position, &b.posCoder},
		{names.BlockHeader, &b.hdrCoder},
	} {
		p, err := coding.Get(load.name)
		if err != nil {
			f.Close()
			return nil, err
		}
		*load.dst = p
	}
	if bs := b.docCoder.BlockSize(); bs != 0 && bs != postings.ChunkSize {
		f.Close()
		return nil, apperrors.Newf(apperrors.ErrConfig,
			"doc-id coder %q has block size %d, want 0 or %d", names.DocID, bs, postings.ChunkSize)
	}
	if bs := b.freqCoder.BlockSize(); bs != 0 && bs != postings.ChunkSize {
		f.Close()
		return nil, apperrors.Newf(apperrors.ErrConfig,
			"frequency coder %q has block size %d, want 0 or %d", names.Frequency, bs, postings.ChunkSize)
	}
	return b, nil
}

// BeginList starts a new term. scoreFn yields the BM25 partial score of a
// posting and feeds the chunk and block score bounds.
func (b *Builder) BeginList(term string, scoreFn func(Posting) float32) error {
	if b.layer.open && (b.layer.meta.NumDocs > 0 || len(b.layer.gaps) > 0) {
		return apperrors.Newf(apperrors.ErrFormat,
			"term %q begun while a layer of the previous term is open", term)
	}
	if len(b.entries) > 0 && term <= b.entries[len(b.entries)-1].term {
		return apperrors.Newf(apperrors.ErrFormat,
			"term %q out of order after %q", term, b.entries[len(b.entries)-1].term)
	}
	b.entries = append(b.entries, lexEntry{term: term})
	b.curr = &b.entries[len(b.entries)-1]
	b.scoreFn = scoreFn
	b.openLayer()
	return nil
}

func (b *Builder) openLayer() {
	b.layer = layerState{
		open:         true,
		firstPosting: true,
	}
	b.layer.meta.ExternalIndexOff = b.ext.Offset()
}

// Add appends one posting to the current layer.
func (b *Builder) Add(p Posting) error {
	if !b.layer.open {
		return apperrors.New(apperrors.ErrFormat, "posting added outside a list")
	}
	if p.Frequency == 0 {
		return apperrors.Newf(apperrors.ErrInvariant, "posting for docID %d has zero frequency", p.DocID)
	}
	layer := &b.layer
	gap := p.DocID - layer.prevDocID
	if p.DocID <= layer.prevDocID && !(layer.firstPosting && p.DocID == 0) {
		return apperrors.Newf(apperrors.ErrInvariant, "duplicate or descending docID %d", p.DocID)
	}
	layer.gaps = append(layer.gaps, gap)
	layer.freqs = append(layer.freqs, p.Frequency)
	if b.includePositions {
		if len(p.Positions) != int(p.Frequency) {
			return apperrors.Newf(apperrors.ErrInvariant,
				"docID %d has frequency %d but %d positions", p.DocID, p.Frequency, len(p.Positions))
		}
		if len(p.Positions) > postings.MaxDocProperties {
			return apperrors.Newf(apperrors.ErrFormat,
				"docID %d has %d positions, limit is %d", p.DocID, len(p.Positions), postings.MaxDocProperties)
		}
		layer.positions = append(layer.positions, p.Positions...)
	}
	if score := b.scoreFn(p); len(layer.gaps) == 1 || score > layer.chunkMax {
		layer.chunkMax = score
	}
	layer.prevDocID = p.DocID
	layer.firstPosting = false
	layer.meta.NumDocs++
	b.postingCount++
	if len(layer.gaps) == postings.ChunkSize {
		return b.emitChunk()
	}
	return nil
}

// emitChunk codes the buffered postings and places the chunk into a block.
func (b *Builder) emitChunk() error {
	layer := &b.layer
	chunk, err := postings.EncodeChunk(layer.gaps, layer.freqs, layer.positions,
		layer.prevDocID, layer.chunkMax, b.docCoder, b.freqCoder, b.posCoder)
	if err != nil {
		return err
	}
	if err := b.placeChunk(chunk); err != nil {
		return err
	}
	b.docIDBytes += uint64(chunk.DocIDWords) * 4
	b.freqBytes += uint64(chunk.FreqWords) * 4
	b.posBytes += uint64(chunk.PositionWords) * 4
	b.totalChunks++
	layer.meta.NumChunks++
	layer.chunksInCurrBlock++
	layer.blockChunkMaxes = append(layer.blockChunkMaxes, chunk.MaxScore)
	if !layer.sawFirstChunk {
		layer.sawFirstChunk = true
		layer.meta.BlockNumber = uint32(b.blockNum)
		layer.meta.ChunkNumber = uint32(len(b.pending) - 1)
	}
	layer.gaps = layer.gaps[:0]
	layer.freqs = layer.freqs[:0]
	layer.positions = layer.positions[:0]
	layer.chunkMax = 0
	return nil
}

// placeChunk adds the chunk to the pending block, flushing first when it
// would not fit.
func (b *Builder) placeChunk(chunk postings.EncodedChunk) error {
	for attempt := 0; attempt < 2; attempt++ {
		hdrWords, err := b.encodeHeader(append(b.pending, chunk))
		if err != nil {
			return err
		}
		if 2+hdrWords+b.pendingWords+len(chunk.Words) <= postings.BlockWords {
			b.pending = append(b.pending, chunk)
			b.pendingWords += len(chunk.Words)
			return nil
		}
		if len(b.pending) == 0 {
			return apperrors.Newf(apperrors.ErrFormat,
				"chunk of %d words cannot fit an empty block", len(chunk.Words))
		}
		if err := b.flushBlock(); err != nil {
			return err
		}
	}
	return apperrors.New(apperrors.ErrFormat, "chunk placement did not converge")
}

// encodeHeader codes the interleaved (last_doc_id, size) pairs, returning
// the word count. The coded words stay in hdrScratch.
func (b *Builder) encodeHeader(chunks []postings.EncodedChunk) (int, error) {
	pairs := make([]uint32, 0, 2*len(chunks))
	for _, c := range chunks {
		pairs = append(pairs, c.LastDocID, uint32(len(c.Words)))
	}
	return b.hdrCoder.Encode(b.hdrScratch, pairs)
}

// flushBlock writes the pending block, zero-padded to BlockSize, and closes
// the per-layer score-bound records for it.
func (b *Builder) flushBlock() error {
	if len(b.pending) == 0 {
		return nil
	}
	hdrWords, err := b.encodeHeader(b.pending)
	if err != nil {
		return err
	}
	words := make([]uint32, postings.BlockWords)
	words[0] = uint32(len(b.pending))
	words[1] = uint32(hdrWords)
	copy(words[2:], b.hdrScratch[:hdrWords])
	off := 2 + hdrWords
	for _, c := range b.pending {
		copy(words[off:], c.Words)
		off += len(c.Words)
	}
	raw := make([]byte, postings.BlockSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[4*i:], w)
	}
	if _, err := b.f.Write(raw); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing block %d: %v", b.blockNum, err)
	}
	b.headerBytes += uint64(2+hdrWords) * 4
	b.wastedBytes += uint64(postings.BlockWords-off) * 4
	b.blockNum++
	b.pending = b.pending[:0]
	b.pendingWords = 0
	b.closeLayerBlock()
	return nil
}

// closeLayerBlock finishes the open layer's bookkeeping for the block that
// just flushed.
func (b *Builder) closeLayerBlock() {
	layer := &b.layer
	if !layer.open || layer.chunksInCurrBlock == 0 {
		return
	}
	layer.blocksTouched++
	layer.lastBlockChunks = layer.chunksInCurrBlock
	blockMax := layer.blockChunkMaxes[0]
	for _, s := range layer.blockChunkMaxes[1:] {
		if s > blockMax {
			blockMax = s
		}
	}
	b.ext.AddBlock(blockMax, layer.blockChunkMaxes)
	layer.chunksInCurrBlock = 0
	layer.blockChunkMaxes = layer.blockChunkMaxes[:0]
}

// EndLayer closes the current layer with its score threshold. Another layer
// of the same term opens unless BeginList or Finalize follows.
func (b *Builder) EndLayer(scoreThreshold float32) error {
	if !b.layer.open {
		return apperrors.New(apperrors.ErrFormat, "EndLayer without an open layer")
	}
	if len(b.layer.gaps) > 0 {
		if err := b.emitChunk(); err != nil {
			return err
		}
	}
	b.closeLayerBlock()
	layer := &b.layer
	layer.meta.NumChunksLastBlock = layer.lastBlockChunks
	layer.meta.NumBlocks = layer.blocksTouched
	layer.meta.ScoreThreshold = scoreThreshold
	if layer.meta.NumDocs == 0 {
		return apperrors.New(apperrors.ErrFormat, "layer closed with no postings")
	}
	b.totalPerTermBlocks += uint64(layer.blocksTouched)
	b.curr.layers = append(b.curr.layers, layer.meta)
	b.openLayer()
	return nil
}

// Finalize flushes the last block and writes the lexicon and external index
// files. The returned meta file carries the builder's counters; the caller
// adds collection statistics and writes it.
func (b *Builder) Finalize() (*meta.File, error) {
	if b.layer.open && (b.layer.meta.NumDocs > 0 || len(b.layer.gaps) > 0) {
		return nil, apperrors.New(apperrors.ErrFormat, "Finalize with an unclosed layer")
	}
	b.layer.open = false
	if err := b.flushBlock(); err != nil {
		return nil, err
	}
	if err := b.f.Sync(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "syncing index file: %v", err)
	}
	if err := b.f.Close(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "closing index file: %v", err)
	}

	lw, err := lexicon.NewWriter(b.fs.Lexicon)
	if err != nil {
		return nil, err
	}
	for i := range b.entries {
		if err := lw.WriteEntry(b.entries[i].term, b.entries[i].layers); err != nil {
			lw.Close()
			return nil, err
		}
	}
	if err := lw.Close(); err != nil {
		return nil, err
	}
	if err := b.ext.WriteFile(b.fs.External); err != nil {
		return nil, err
	}

	m := meta.New()
	m.Set(meta.KeyDocIDCoding, b.names.DocID)
	m.Set(meta.KeyFrequencyCoding, b.names.Frequency)
	m.Set(meta.KeyPositionCoding, b.names.Position)
	m.Set(meta.KeyBlockHeaderCoding, b.names.BlockHeader)
	m.Set(meta.KeyIncludesPositions, b.includePositions)
	m.Set(meta.KeyIncludesContexts, false)
	m.Set(meta.KeyTotalNumChunks, b.totalChunks)
	m.Set(meta.KeyTotalPerTermBlocks, b.totalPerTermBlocks)
	m.Set(meta.KeyNumUniqueTerms, len(b.entries))
	m.Set(meta.KeyIndexPostingCount, b.postingCount)
	m.Set(meta.KeyTotalHeaderBytes, b.headerBytes)
	m.Set(meta.KeyTotalDocIDBytes, b.docIDBytes)
	m.Set(meta.KeyTotalFrequencyBytes, b.freqBytes)
	m.Set(meta.KeyTotalPositionBytes, b.posBytes)
	m.Set(meta.KeyTotalWastedBytes, b.wastedBytes)
	b.logger.Debug("index finalized",
		"blocks", b.blockNum, "chunks", b.totalChunks, "postings", b.postingCount,
		"terms", len(b.entries))
	return m, nil
}

// PostingCount returns the number of postings written so far.
func (b *Builder) PostingCount() uint64 { return b.postingCount }

// NumUniqueTerms returns the number of terms begun so far.
func (b *Builder) NumUniqueTerms() int { return len(b.entries) }
