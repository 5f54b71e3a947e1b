// Package reader provides read access to an index: it opens the lexicon,
// document map, meta file, block cache, and coding policies, and hands out
// list cursors implementing NextGEQ-style traversal.
package reader

import (
	"context"
	"log/slog"
	"os"

	"github.com/strata-search/strata/internal/index/cache"
	"github.com/strata-search/strata/internal/index/coding"
	"github.com/strata-search/strata/internal/index/docmap"
	"github.com/strata-search/strata/internal/index/extindex"
	"github.com/strata-search/strata/internal/index/files"
	"github.com/strata-search/strata/internal/index/lexicon"
	"github.com/strata-search/strata/internal/index/meta"
	"github.com/strata-search/strata/internal/index/postings"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// CacheVariant selects the block I/O strategy.
type CacheVariant int

const (
	CacheLRU CacheVariant = iota
	CacheResident
	CacheMapped
)

// Options controls how an index is opened.
type Options struct {
	Cache             CacheVariant
	BlockCacheBytes   int64
	ReadAheadBlocks   int
	LexiconHashSize   int
	UsePositions      bool
	LoadExternalIndex bool
}

// Reader provides access to the structures comprising one index.
type Reader struct {
	fs    files.Set
	Meta  *meta.File
	cache cache.Manager
	lex   *lexicon.Lexicon
	docs  *docmap.Map
	ext   *extindex.Reader

	docCoder  coding.Policy
	freqCoder coding.Policy
	posCoder  coding.Policy
	hdrCoder  coding.Policy

	includesPositions bool
	layered           bool
	overlapping       bool
	numLayers         int
	usePositions      bool
	blockSkipping     bool

	totalCachedBytes   uint64
	totalDiskBytes     uint64
	totalListsAccessed uint64
	totalBlocksSkipped uint32

	logger *slog.Logger
}

// Open loads the index files at prefix.
func Open(prefix string, opts Options) (*Reader, error) {
	fs := files.ForPrefix(prefix)
	m, err := meta.Load(fs.Meta)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		fs:     fs,
		Meta:   m,
		logger: slog.Default().With("component", "index-reader"),
	}
	for _, load := range []struct {
		key string
		dst *coding.Policy
	}{
		{meta.KeyDocIDCoding, &r.docCoder},
		{meta.KeyFrequencyCoding, &r.freqCoder},
		{meta.KeyPositionCoding, &r.posCoder},
		{meta.KeyBlockHeaderCoding, &r.hdrCoder},
	} {
		name, err := m.GetString(load.key)
		if err != nil {
			return nil, err
		}
		p, err := coding.Get(name)
		if err != nil {
			return nil, err
		}
		*load.dst = p
	}

	switch opts.Cache {
	case CacheResident:
		r.cache, err = cache.OpenResident(fs.Index)
	case CacheMapped:
		r.cache, err = cache.OpenMapped(fs.Index)
	default:
		budget := opts.BlockCacheBytes
		if budget <= 0 {
			budget = 256 << 20
		}
		r.cache, err = cache.OpenLRU(fs.Index, budget, opts.ReadAheadBlocks)
	}
	if err != nil {
		return nil, err
	}

	hashSize := opts.LexiconHashSize
	if hashSize <= 0 {
		hashSize = 1 << 16
	}
	r.lex, err = lexicon.OpenRandom(fs.Lexicon, hashSize)
	if err != nil {
		r.cache.Close()
		return nil, err
	}

	remapPath := ""
	if m.GetBool(meta.KeyRemappedIndex) {
		remapPath = fs.Remap
	}
	r.docs, err = docmap.Open(fs.DocMapBasic, fs.DocMapExt, remapPath)
	if err != nil {
		r.cache.Close()
		return nil, err
	}

	if opts.LoadExternalIndex {
		if _, err := os.Stat(fs.External); err == nil {
			r.ext, err = extindex.Open(fs.External)
			if err != nil {
				r.cache.Close()
				return nil, err
			}
		}
	}

	r.includesPositions = m.GetBool(meta.KeyIncludesPositions)
	r.layered = m.GetBool(meta.KeyLayeredIndex)
	r.overlapping = m.GetBool(meta.KeyOverlappingLayers)
	r.numLayers = int(m.IntOr(meta.KeyNumLayers, 1))
	r.usePositions = opts.UsePositions && r.includesPositions
	if r.layered && r.includesPositions {
		r.cache.Close()
		return nil, apperrors.New(apperrors.ErrConfig, "layered indices with positions are not supported")
	}
	return r, nil
}

// Lexicon returns the term dictionary.
func (r *Reader) Lexicon() *lexicon.Lexicon { return r.lex }

// DocumentMap returns the docID to length/URL map.
func (r *Reader) DocumentMap() *docmap.Map { return r.docs }

// Layered reports whether the index is layered.
func (r *Reader) Layered() bool { return r.layered }

// Overlapping reports whether the index layers are overlapping.
func (r *Reader) Overlapping() bool { return r.overlapping }

// NumLayers returns the maximum number of layers the index was built with.
func (r *Reader) NumLayers() int { return r.numLayers }

// IncludesPositions reports whether the index stores positions.
func (r *Reader) IncludesPositions() bool { return r.includesPositions }

// BlockSkippingEnabled reports whether the in-memory block index is built.
func (r *Reader) BlockSkippingEnabled() bool { return r.blockSkipping }

// TotalIndexBlocks returns the number of blocks in the posting file.
func (r *Reader) TotalIndexBlocks() uint64 { return r.cache.TotalIndexBlocks() }

// GetDocLen returns the length of a document.
func (r *Reader) GetDocLen(docID uint32) uint32 { return r.docs.DocLen(docID) }

// GetDocURL returns the URL of a document.
func (r *Reader) GetDocURL(docID uint32) string { return r.docs.DocURL(docID) }

// BuildBlockLevelIndex attaches per-layer last-docID arrays to every
// lexicon entry, enabling block-level skipping in NextGEQ.
func (r *Reader) BuildBlockLevelIndex(ctx context.Context) error {
	var firstErr error
	r.lex.ForEach(func(e *lexicon.Entry) {
		if firstErr != nil {
			return
		}
		for i := range e.Layers {
			if err := r.buildLayerBlockIndex(ctx, e, i); err != nil {
				firstErr = err
				return
			}
		}
	})
	if firstErr != nil {
		return firstErr
	}
	r.blockSkipping = true
	return nil
}

func (r *Reader) buildLayerBlockIndex(ctx context.Context, e *lexicon.Entry, layerNum int) error {
	layer := &e.Layers[layerNum]
	lastDocIDs := make([]uint32, layer.NumBlocks)
	blk := postings.NewBlockDecoder()
	for i := uint32(0); i < layer.NumBlocks; i++ {
		blockNum := uint64(layer.BlockNumber) + uint64(i)
		raw, _, err := r.cache.GetBlock(ctx, blockNum)
		if err != nil {
			return apperrors.At(apperrors.ErrIO, e.Term, layerNum, blockNum, err.Error())
		}
		startChunk := 0
		if i == 0 {
			startChunk = int(layer.ChunkNumber)
		}
		if err := blk.Init(raw, r.hdrCoder, startChunk); err != nil {
			r.cache.FreeBlock(blockNum)
			return apperrors.At(apperrors.ErrFormat, e.Term, layerNum, blockNum, err.Error())
		}
		lastListChunk := blk.NumChunks() - 1
		if i == layer.NumBlocks-1 {
			lastListChunk = startChunk + int(layer.NumChunksLastBlock) - 1
		}
		lastDocIDs[i] = blk.ChunkLastDocID(lastListChunk)
		r.cache.FreeBlock(blockNum)
	}
	layer.LastDocIDs = lastDocIDs
	return nil
}

// ResetStats zeroes the aggregate traversal counters.
func (r *Reader) ResetStats() {
	r.totalCachedBytes = 0
	r.totalDiskBytes = 0
	r.totalListsAccessed = 0
	r.totalBlocksSkipped = 0
}

// Stats returns the aggregate counters accumulated by closed cursors.
func (r *Reader) Stats() (cachedBytes, diskBytes, listsAccessed uint64, blocksSkipped uint32) {
	return r.totalCachedBytes, r.totalDiskBytes, r.totalListsAccessed, r.totalBlocksSkipped
}

// Close releases the cache and lexicon.
func (r *Reader) Close() error {
	r.lex.Close()
	return r.cache.Close()
}
