// Package extindex implements the optional sidecar index of precomputed
// score bounds: per layer, a stream of (block_max_score, chunk_max_scores)
// records addressed by the layer's external index offset.
package extindex

import (
	"encoding/binary"
	"math"
	"os"

	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Reader holds the whole sidecar in memory; it is small relative to the
// posting file.
type Reader struct {
	words []uint32
}

// Open loads the sidecar file at path.
func Open(path string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "reading external index %s: %v", path, err)
	}
	if len(raw)%4 != 0 {
		return nil, apperrors.Newf(apperrors.ErrFormat, "external index %s has odd size", path)
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return &Reader{words: words}, nil
}

// Cursor positions alongside list traversal, yielding one block record at a
// time.
type Cursor struct {
	r   *Reader
	pos int

	blockMax   float32
	chunkMaxes []float32
}

// Cursor returns a cursor positioned at the layer offset.
func (r *Reader) Cursor(offset uint32) *Cursor {
	return &Cursor{r: r, pos: int(offset)}
}

// NextBlock reads the record for the next block of the layer.
func (c *Cursor) NextBlock() error {
	if c.pos >= len(c.r.words) {
		return apperrors.New(apperrors.ErrFormat, "external index cursor past end of file")
	}
	numChunks := int(c.r.words[c.pos])
	if c.pos+2+numChunks > len(c.r.words) {
		return apperrors.New(apperrors.ErrFormat, "truncated external index record")
	}
	c.blockMax = math.Float32frombits(c.r.words[c.pos+1])
	if cap(c.chunkMaxes) < numChunks {
		c.chunkMaxes = make([]float32, numChunks)
	}
	c.chunkMaxes = c.chunkMaxes[:numChunks]
	for i := 0; i < numChunks; i++ {
		c.chunkMaxes[i] = math.Float32frombits(c.r.words[c.pos+2+i])
	}
	c.pos += 2 + numChunks
	return nil
}

// BlockMaxScore returns the bound of the current block record.
func (c *Cursor) BlockMaxScore() float32 { return c.blockMax }

// ChunkMaxScore returns the bound for the i-th chunk of the layer within
// the current block.
func (c *Cursor) ChunkMaxScore(i int) float32 {
	if i < 0 || i >= len(c.chunkMaxes) {
		return float32(math.Inf(1))
	}
	return c.chunkMaxes[i]
}

// NumChunks returns the chunk count of the current block record.
func (c *Cursor) NumChunks() int { return len(c.chunkMaxes) }

// Writer accumulates score-bound records and writes the sidecar file.
type Writer struct {
	words []uint32
}

// NewWriter returns an empty sidecar writer.
func NewWriter() *Writer { return &Writer{} }

// Offset returns the word offset the next record will be written at;
// recorded in the lexicon as the layer's external index offset.
func (w *Writer) Offset() uint32 { return uint32(len(w.words)) }

// AddBlock appends one block record.
func (w *Writer) AddBlock(blockMax float32, chunkMaxes []float32) {
	w.words = append(w.words, uint32(len(chunkMaxes)), math.Float32bits(blockMax))
	for _, s := range chunkMaxes {
		w.words = append(w.words, math.Float32bits(s))
	}
}

// WriteFile stores the sidecar at path.
func (w *Writer) WriteFile(path string) error {
	raw := make([]byte, len(w.words)*4)
	for i, v := range w.words {
		binary.LittleEndian.PutUint32(raw[4*i:], v)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing external index %s: %v", path, err)
	}
	return nil
}
