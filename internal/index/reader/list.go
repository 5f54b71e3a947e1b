package reader

import (
	"context"
	"sort"

	"github.com/strata-search/strata/internal/index/extindex"
	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/postings"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// NoMoreDocs is the sentinel NextGEQ returns when a list layer is
// exhausted.
const NoMoreDocs = postings.NoMoreDocs

// ListData is a cursor over one layer of one term's inverted list. It owns
// one block decoder and one chunk decoder and borrows the reader's cache,
// coders, and document map for its lifetime.
type ListData struct {
	r    *Reader
	ctx  context.Context
	term string

	layerNum           int
	numDocs            int
	numDocsComplete    int
	numChunks          int
	numChunksLastBlock int
	numBlocks          int
	initialBlockNum    uint64
	initialChunkNum    int
	scoreThreshold     float32
	lastDocIDs         []uint32
	blockSkipping      bool
	singleTerm         bool
	usePositions       bool
	termNum            int

	blk *postings.BlockDecoder
	chk *postings.ChunkDecoder

	currBlockIdx int    // block index within the layer
	blockBase    uint32 // last list docID of the previous block
	blockLoaded  bool
	blockHeld    bool
	chunkPrimed  bool
	exhausted    bool

	extCur         *extindex.Cursor
	extStartOffset uint32
	extPendingAdv  int

	cachedBytesRead uint64
	diskBytesRead   uint64
	blocksRead      int
	blocksSkipped   uint32
}

// OpenList opens a cursor over one layer of the term's list. The
// singleTerm hint disables block skipping machinery that a single-term
// query can never benefit from.
func (r *Reader) OpenList(ctx context.Context, e *lexicon.Entry, layerNum int, singleTerm bool, termNum int) (*ListData, error) {
	if layerNum < 0 || layerNum >= e.NumLayers() {
		return nil, apperrors.Newf(apperrors.ErrFormat,
			"layer %d out of range for term %q with %d layers", layerNum, e.Term, e.NumLayers())
	}
	layer := &e.Layers[layerNum]
	ld := &ListData{
		r:                  r,
		ctx:                ctx,
		term:               e.Term,
		layerNum:           layerNum,
		numDocs:            int(layer.NumDocs),
		numDocsComplete:    e.NumDocsCompleteList(r.overlapping),
		numChunks:          int(layer.NumChunks),
		numChunksLastBlock: int(layer.NumChunksLastBlock),
		numBlocks:          int(layer.NumBlocks),
		initialBlockNum:    uint64(layer.BlockNumber),
		initialChunkNum:    int(layer.ChunkNumber),
		scoreThreshold:     layer.ScoreThreshold,
		lastDocIDs:         layer.LastDocIDs,
		blockSkipping:      r.blockSkipping && layer.LastDocIDs != nil && !singleTerm,
		singleTerm:         singleTerm,
		usePositions:       r.usePositions,
		termNum:            termNum,
		blk:                postings.NewBlockDecoder(),
		chk:                postings.NewChunkDecoder(),
	}
	if r.ext != nil {
		ld.extStartOffset = layer.ExternalIndexOff
		ld.extCur = r.ext.Cursor(layer.ExternalIndexOff)
		ld.extPendingAdv = 1
	}
	r.cache.QueueBlock(ld.initialBlockNum)
	return ld, nil
}

// CloseList releases the cursor's block and folds its counters into the
// reader totals.
func (r *Reader) CloseList(ld *ListData) {
	ld.freeCurrentBlock()
	r.totalCachedBytes += ld.cachedBytesRead
	r.totalDiskBytes += ld.diskBytesRead
	r.totalListsAccessed++
	r.totalBlocksSkipped += ld.blocksSkipped
}

// ResetList restores the cursor to the layer's starting block and chunk for
// re-traversal. Traversal statistics are preserved.
func (ld *ListData) ResetList(singleTerm bool) {
	ld.freeCurrentBlock()
	ld.singleTerm = singleTerm
	ld.currBlockIdx = 0
	ld.blockBase = 0
	ld.blockLoaded = false
	ld.chunkPrimed = false
	ld.exhausted = false
	if ld.extCur != nil {
		ld.extCur = ld.r.ext.Cursor(ld.extStartOffset)
		ld.extPendingAdv = 1
	}
	ld.r.cache.QueueBlock(ld.initialBlockNum)
}

// Accessors used by the evaluators.

func (ld *ListData) Term() string             { return ld.term }
func (ld *ListData) LayerNum() int            { return ld.layerNum }
func (ld *ListData) NumDocs() int             { return ld.numDocs }
func (ld *ListData) NumDocsCompleteList() int { return ld.numDocsComplete }
func (ld *ListData) ScoreThreshold() float32  { return ld.scoreThreshold }
func (ld *ListData) TermNum() int             { return ld.termNum }
func (ld *ListData) SetTermNum(n int)         { ld.termNum = n }
func (ld *ListData) BlocksSkipped() uint32    { return ld.blocksSkipped }
func (ld *ListData) BlocksRead() int          { return ld.blocksRead }
func (ld *ListData) CachedBytesRead() uint64  { return ld.cachedBytesRead }
func (ld *ListData) DiskBytesRead() uint64    { return ld.diskBytesRead }

func (ld *ListData) currentBlockNum() uint64 {
	return ld.initialBlockNum + uint64(ld.currBlockIdx)
}

func (ld *ListData) freeCurrentBlock() {
	if ld.blockHeld {
		ld.r.cache.FreeBlock(ld.currentBlockNum())
		ld.blockHeld = false
	}
	ld.blockLoaded = false
}

// startChunkOfCurrBlock returns the block-relative index of the first chunk
// belonging to this list in the current block.
func (ld *ListData) startChunkOfCurrBlock() int {
	if ld.currBlockIdx == 0 {
		return ld.initialChunkNum
	}
	return 0
}

// lastListChunkInCurrBlock returns the block-relative index of the final
// chunk of this list within the current block.
func (ld *ListData) lastListChunkInCurrBlock() int {
	if ld.currBlockIdx == ld.numBlocks-1 {
		return ld.startChunkOfCurrBlock() + ld.numChunksLastBlock - 1
	}
	return ld.blk.NumChunks() - 1
}

// docsInCurrChunk returns the posting count of the chunk under the block
// cursor. Only the final chunk of the layer is short.
func (ld *ListData) docsInCurrChunk() int {
	if ld.currBlockIdx == ld.numBlocks-1 {
		idxInBlock := ld.blk.CurrChunk() - ld.startChunkOfCurrBlock()
		listIdx := ld.numChunks - ld.numChunksLastBlock + idxInBlock
		if listIdx == ld.numChunks-1 {
			if tail := ld.numDocs - postings.ChunkSize*(ld.numChunks-1); tail > 0 {
				return tail
			}
		}
	}
	return postings.ChunkSize
}

// loadBlock fetches and parses the current block, positioning the block
// cursor on the list's first chunk in it.
func (ld *ListData) loadBlock() error {
	blockNum := ld.currentBlockNum()
	ld.r.cache.QueueBlock(blockNum)
	raw, fromCache, err := ld.r.cache.GetBlock(ld.ctx, blockNum)
	if err != nil {
		return apperrors.At(apperrors.ErrIO, ld.term, ld.layerNum, blockNum, err.Error())
	}
	ld.blockHeld = true
	ld.blocksRead++
	if fromCache {
		ld.cachedBytesRead += postings.BlockSize
	} else {
		ld.diskBytesRead += postings.BlockSize
	}
	if err := ld.blk.Init(raw, ld.r.hdrCoder, ld.startChunkOfCurrBlock()); err != nil {
		return apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, blockNum, err.Error())
	}
	ld.blockLoaded = true
	ld.chunkPrimed = false
	if ld.extCur != nil {
		for i := 0; i < ld.extPendingAdv; i++ {
			if err := ld.extCur.NextBlock(); err != nil {
				return apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, blockNum, err.Error())
			}
		}
		ld.extPendingAdv = 0
	}
	return nil
}

// advanceToBlock moves the cursor to block index next within the layer,
// releasing the current block.
func (ld *ListData) advanceToBlock(next int, base uint32) {
	ld.freeCurrentBlock()
	if ld.extCur != nil {
		ld.extPendingAdv += next - ld.currBlockIdx
	}
	ld.currBlockIdx = next
	ld.blockBase = base
	ld.chunkPrimed = false
}

// NextGEQ returns the smallest docID in the layer >= target, or NoMoreDocs.
// Within one cursor, returned docIDs are non-decreasing.
func (ld *ListData) NextGEQ(target uint32) (uint32, error) {
	if ld.exhausted {
		return NoMoreDocs, nil
	}
	for {
		if err := ld.ctx.Err(); err != nil {
			return 0, apperrors.Newf(apperrors.ErrTimeout, "list traversal cancelled: %v", err)
		}
		if !ld.blockLoaded {
			if err := ld.loadBlock(); err != nil {
				return 0, err
			}
		}
		blockLast := ld.blk.ChunkLastDocID(ld.lastListChunkInCurrBlock())
		if target > blockLast {
			if ld.currBlockIdx == ld.numBlocks-1 {
				ld.exhausted = true
				ld.freeCurrentBlock()
				return NoMoreDocs, nil
			}
			next := ld.currBlockIdx + 1
			base := blockLast
			if ld.blockSkipping {
				// First block past the current one whose last docID covers
				// the target.
				j := next + sort.Search(ld.numBlocks-next, func(i int) bool {
					return ld.lastDocIDs[next+i] >= target
				})
				if j == ld.numBlocks {
					ld.exhausted = true
					ld.freeCurrentBlock()
					return NoMoreDocs, nil
				}
				ld.blocksSkipped += uint32(j - next)
				base = ld.lastDocIDs[j-1]
				next = j
			}
			ld.advanceToBlock(next, base)
			continue
		}
		// The target falls inside this block: advance chunks until the
		// header's last docID covers it.
		for ld.blk.ChunkLastDocID(ld.blk.CurrChunk()) < target {
			if err := ld.blk.AdvanceCurrChunk(); err != nil {
				return 0, apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, ld.currentBlockNum(), err.Error())
			}
			ld.chunkPrimed = false
		}
		if !ld.chunkPrimed {
			base := ld.blockBase
			if curr := ld.blk.CurrChunk(); curr > ld.startChunkOfCurrBlock() {
				base = ld.blk.ChunkLastDocID(curr - 1)
			}
			ld.chk.Reset(ld.docsInCurrChunk(), ld.blk.CurrChunkData(), base)
			if err := ld.chk.DecodeDocIDs(ld.r.docCoder); err != nil {
				return 0, apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, ld.currentBlockNum(), err.Error())
			}
			ld.chunkPrimed = true
		}
		doc, err := ld.chk.NextGEQ(target)
		if err != nil {
			return 0, apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, ld.currentBlockNum(), err.Error())
		}
		return doc, nil
	}
}

// GetFreq returns the frequency of the current posting, decoding the
// frequency stream on first use per chunk.
func (ld *ListData) GetFreq() (uint32, error) {
	if err := ld.chk.DecodeFrequencies(ld.r.freqCoder); err != nil {
		return 0, apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, ld.currentBlockNum(), err.Error())
	}
	return ld.chk.CurrentFrequency(), nil
}

// GetNumDocProperties returns the number of per-document properties
// (positions) for the current posting; it equals the frequency.
func (ld *ListData) GetNumDocProperties() (uint32, error) {
	return ld.GetFreq()
}

// GetPositions returns the position list of the current posting. Valid
// until the cursor advances to another chunk.
func (ld *ListData) GetPositions() ([]uint32, error) {
	if !ld.usePositions {
		return nil, nil
	}
	if err := ld.chk.DecodeFrequencies(ld.r.freqCoder); err != nil {
		return nil, apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, ld.currentBlockNum(), err.Error())
	}
	if err := ld.chk.DecodePositions(ld.r.posCoder); err != nil {
		return nil, apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, ld.currentBlockNum(), err.Error())
	}
	ld.chk.UpdatePropertiesOffset()
	return ld.chk.CurrentPositions(), nil
}

// GetBlockScoreBound returns the precomputed score bound of the current
// block, or the layer threshold when no external index is loaded.
func (ld *ListData) GetBlockScoreBound() float32 {
	if ld.extCur == nil || !ld.blockLoaded {
		return ld.scoreThreshold
	}
	return ld.extCur.BlockMaxScore()
}

// GetChunkScoreBound returns the precomputed score bound of the current
// chunk, or the layer threshold when no external index is loaded.
func (ld *ListData) GetChunkScoreBound() float32 {
	if ld.extCur == nil || !ld.blockLoaded {
		return ld.scoreThreshold
	}
	return ld.extCur.ChunkMaxScore(ld.blk.CurrChunk() - ld.startChunkOfCurrBlock())
}

// NextGreaterBlockScore skips forward to the first block whose cached score
// bound exceeds minScore and returns its first docID, or NoMoreDocs.
func (ld *ListData) NextGreaterBlockScore(minScore float32) (uint32, error) {
	if ld.exhausted {
		return NoMoreDocs, nil
	}
	for {
		if !ld.blockLoaded {
			if err := ld.loadBlock(); err != nil {
				return 0, err
			}
		}
		if ld.GetBlockScoreBound() > minScore {
			target := ld.blockBase
			if ld.currBlockIdx > 0 {
				target++
			}
			return ld.NextGEQ(target)
		}
		if ld.currBlockIdx == ld.numBlocks-1 {
			ld.exhausted = true
			ld.freeCurrentBlock()
			return NoMoreDocs, nil
		}
		ld.advanceToBlock(ld.currBlockIdx+1, ld.blk.ChunkLastDocID(ld.lastListChunkInCurrBlock()))
	}
}

// NextGreaterChunkScore skips forward to the first chunk whose cached score
// bound exceeds minScore and returns its first docID, or NoMoreDocs.
func (ld *ListData) NextGreaterChunkScore(minScore float32) (uint32, error) {
	if ld.exhausted {
		return NoMoreDocs, nil
	}
	for {
		if !ld.blockLoaded {
			if err := ld.loadBlock(); err != nil {
				return 0, err
			}
		}
		last := ld.lastListChunkInCurrBlock()
		for ld.blk.CurrChunk() <= last {
			if ld.GetChunkScoreBound() > minScore {
				target := ld.blockBase
				if curr := ld.blk.CurrChunk(); curr > ld.startChunkOfCurrBlock() {
					target = ld.blk.ChunkLastDocID(curr-1) + 1
				} else if ld.currBlockIdx > 0 {
					target++
				}
				return ld.NextGEQ(target)
			}
			if ld.blk.CurrChunk() == last {
				break
			}
			if err := ld.blk.AdvanceCurrChunk(); err != nil {
				return 0, apperrors.At(apperrors.ErrFormat, ld.term, ld.layerNum, ld.currentBlockNum(), err.Error())
			}
			ld.chunkPrimed = false
		}
		if ld.currBlockIdx == ld.numBlocks-1 {
			ld.exhausted = true
			ld.freeCurrentBlock()
			return NoMoreDocs, nil
		}
		ld.advanceToBlock(ld.currBlockIdx+1, ld.blk.ChunkLastDocID(last))
	}
}
