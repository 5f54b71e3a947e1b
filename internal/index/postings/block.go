package postings

import (
	"encoding/binary"

	"github.com/strata-search/strata/internal/index/coding"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// maxChunksPerBlock bounds the chunk count a block header may claim. A
// chunk occupies at least one word per stream, so half the block words is a
// generous ceiling; anything above it is corruption.
const maxChunksPerBlock = BlockWords / 2

// BlockDecoder parses one fixed-size block: the chunk count, the coded
// header of (last_doc_id, size_in_words) pairs, and the concatenated chunk
// payloads. A block is never re-parsed while a cursor points into it.
type BlockDecoder struct {
	words         []uint32 // the whole block as words
	props         []uint32 // decoded header pairs
	numChunks     int
	currChunk     int
	startingChunk int
	dataOff       int // word offset of the current chunk's payload
	maxScore      float32
}

// NewBlockDecoder allocates a decoder with worst-case scratch buffers,
// owned by one cursor and reused across blocks.
func NewBlockDecoder() *BlockDecoder {
	return &BlockDecoder{
		words: make([]uint32, BlockWords),
		props: make([]uint32, coding.DecodeBound(2*maxChunksPerBlock)),
	}
}

// Init parses a raw block. startingChunk is the index of the first chunk in
// this block that belongs to the list being opened; the payload pointer is
// advanced past earlier chunks, which belong to a previous list.
func (b *BlockDecoder) Init(raw []byte, headerCoder coding.Policy, startingChunk int) error {
	if len(raw) != BlockSize {
		return apperrors.Newf(apperrors.ErrFormat, "block is %d bytes, want %d", len(raw), BlockSize)
	}
	for i := 0; i < BlockWords; i++ {
		b.words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	b.numChunks = int(b.words[0])
	headerWords := int(b.words[1])
	if b.numChunks <= 0 || b.numChunks > maxChunksPerBlock {
		return apperrors.Newf(apperrors.ErrFormat, "block header claims %d chunks", b.numChunks)
	}
	if headerWords <= 0 || 2+headerWords > BlockWords {
		return apperrors.Newf(apperrors.ErrFormat, "block header claims %d header words", headerWords)
	}
	consumed, err := headerCoder.Decode(b.props, b.words[2:2+headerWords], 2*b.numChunks)
	if err != nil {
		return err
	}
	if consumed != headerWords {
		return apperrors.Newf(apperrors.ErrFormat,
			"block header decoded %d words, expected %d", consumed, headerWords)
	}
	if startingChunk < 0 || startingChunk >= b.numChunks {
		return apperrors.Newf(apperrors.ErrFormat,
			"starting chunk %d out of range for block with %d chunks", startingChunk, b.numChunks)
	}
	b.startingChunk = startingChunk
	b.currChunk = 0
	b.dataOff = 2 + headerWords
	for b.currChunk < startingChunk {
		b.dataOff += int(b.ChunkWordSize(b.currChunk))
		b.currChunk++
	}
	if b.dataOff > BlockWords {
		return apperrors.New(apperrors.ErrFormat, "chunk sizes overflow the block payload")
	}
	return nil
}

// ChunkLastDocID returns the last docID of the chunk at index i.
func (b *BlockDecoder) ChunkLastDocID(i int) uint32 {
	return b.props[2*i]
}

// ChunkWordSize returns the size in words of the chunk at index i.
func (b *BlockDecoder) ChunkWordSize(i int) uint32 {
	return b.props[2*i+1]
}

// NumChunks returns the total number of chunks in the block, including any
// that belong to other lists.
func (b *BlockDecoder) NumChunks() int { return b.numChunks }

// StartingChunk returns the first chunk index belonging to the opened list.
func (b *BlockDecoder) StartingChunk() int { return b.startingChunk }

// CurrChunk returns the index of the chunk under the cursor.
func (b *BlockDecoder) CurrChunk() int { return b.currChunk }

// CurrChunkData returns the raw words of the current chunk.
func (b *BlockDecoder) CurrChunkData() []uint32 {
	return b.words[b.dataOff:]
}

// AdvanceCurrChunk moves the payload pointer past the current chunk.
func (b *BlockDecoder) AdvanceCurrChunk() error {
	b.dataOff += int(b.ChunkWordSize(b.currChunk))
	b.currChunk++
	if b.dataOff > BlockWords {
		return apperrors.New(apperrors.ErrFormat, "chunk sizes overflow the block payload")
	}
	return nil
}

// MaxScore returns the block's precomputed score bound.
func (b *BlockDecoder) MaxScore() float32 { return b.maxScore }

// SetMaxScore records the block's score bound.
func (b *BlockDecoder) SetMaxScore(s float32) { b.maxScore = s }
