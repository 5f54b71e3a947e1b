package postings

import (
	"github.com/strata-search/strata/internal/index/coding"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// ChunkDecoder decodes one chunk of at most ChunkSize postings and tracks
// the traversal position within it. Doc IDs are decoded on demand;
// frequencies and positions only when the evaluator asks for them.
type ChunkDecoder struct {
	numDocs int
	raw     []uint32 // coded chunk data, starting at the doc-id stream
	base    uint32   // last absolute docID of the previous chunk

	gaps      []uint32
	freqs     []uint32
	positions []uint32

	docWords  int // words consumed by the doc-id stream
	freqWords int // words consumed by the frequency stream

	curr      int    // index of the current posting
	currDocID uint32 // absolute docID at curr

	decodedDocIDs bool
	decodedProps  bool
	decodedPos    bool

	numPositions int
	prevPropsDoc int // posting index the position offset is accumulated to
	posOffset    int

	maxScore float32
}

// NewChunkDecoder allocates a decoder with worst-case buffers, owned by one
// cursor and reused across chunks.
func NewChunkDecoder() *ChunkDecoder {
	return &ChunkDecoder{
		gaps:      make([]uint32, coding.DecodeBound(ChunkSize)),
		freqs:     make([]uint32, coding.DecodeBound(ChunkSize)),
		positions: make([]uint32, coding.DecodeBound(ChunkSize*MaxDocProperties)),
	}
}

// Reset points the decoder at a new raw chunk without decoding anything.
// base is the last absolute docID of the previous chunk of the same list
// (zero at the start of a layer).
func (c *ChunkDecoder) Reset(numDocs int, raw []uint32, base uint32) {
	c.numDocs = numDocs
	c.raw = raw
	c.base = base
	c.curr = 0
	c.currDocID = 0
	c.docWords = 0
	c.freqWords = 0
	c.decodedDocIDs = false
	c.decodedProps = false
	c.decodedPos = false
	c.numPositions = 0
	c.prevPropsDoc = 0
	c.posOffset = 0
}

// DecodeDocIDs decodes the gap stream and primes the cursor on the first
// posting.
func (c *ChunkDecoder) DecodeDocIDs(coder coding.Policy) error {
	if c.decodedDocIDs {
		return nil
	}
	padded := padTo(c.numDocs, coder.BlockSize())
	words, err := coder.Decode(c.gaps, c.raw, padded)
	if err != nil {
		return err
	}
	c.docWords = words
	c.curr = 0
	c.currDocID = c.base + c.gaps[0]
	c.decodedDocIDs = true
	return nil
}

// DecodeFrequencies decodes the frequency stream. Requires DecodeDocIDs.
func (c *ChunkDecoder) DecodeFrequencies(coder coding.Policy) error {
	if c.decodedProps {
		return nil
	}
	if !c.decodedDocIDs {
		return apperrors.New(apperrors.ErrFormat, "frequencies requested before doc ids were decoded")
	}
	padded := padTo(c.numDocs, coder.BlockSize())
	words, err := coder.Decode(c.freqs, c.raw[c.docWords:], padded)
	if err != nil {
		return err
	}
	c.freqWords = words
	c.decodedProps = true
	return nil
}

// DecodePositions decodes all positions for the chunk. Requires
// DecodeFrequencies; positions are decoded at most once per chunk.
func (c *ChunkDecoder) DecodePositions(coder coding.Policy) error {
	if c.decodedPos {
		return nil
	}
	if !c.decodedProps {
		return apperrors.New(apperrors.ErrFormat, "positions requested before frequencies were decoded")
	}
	total := 0
	for i := 0; i < c.numDocs; i++ {
		total += int(c.freqs[i])
	}
	if total > ChunkSize*MaxDocProperties {
		return apperrors.Newf(apperrors.ErrFormat, "chunk position count %d exceeds maximum", total)
	}
	padded := padTo(total, coder.BlockSize())
	if _, err := coder.Decode(c.positions, c.raw[c.docWords+c.freqWords:], padded); err != nil {
		return err
	}
	c.numPositions = total
	c.decodedPos = true
	return nil
}

// NextGEQ advances the cursor to the first posting with docID >= target and
// returns its docID. The chunk's header last-doc-id must be >= target; a
// chunk that runs out anyway is corrupt.
func (c *ChunkDecoder) NextGEQ(target uint32) (uint32, error) {
	for c.currDocID < target {
		c.curr++
		if c.curr >= c.numDocs {
			return 0, apperrors.Newf(apperrors.ErrFormat,
				"chunk exhausted before reaching docID %d promised by its header", target)
		}
		gap := c.gaps[c.curr]
		if gap == 0 {
			return 0, apperrors.New(apperrors.ErrInvariant, "duplicate docID within a list")
		}
		c.currDocID += gap
	}
	return c.currDocID, nil
}

// CurrentDocID returns the absolute docID at the cursor.
func (c *ChunkDecoder) CurrentDocID() uint32 { return c.currDocID }

// CurrentFrequency returns the frequency of the current posting.
func (c *ChunkDecoder) CurrentFrequency() uint32 { return c.freqs[c.curr] }

// UpdatePropertiesOffset accumulates the prefix sum of frequencies up to the
// current posting, yielding the start index into the position buffer.
func (c *ChunkDecoder) UpdatePropertiesOffset() {
	for i := c.prevPropsDoc; i < c.curr; i++ {
		c.posOffset += int(c.freqs[i])
	}
	c.prevPropsDoc = c.curr
}

// CurrentPositions returns the position list of the current posting.
// Requires DecodePositions and UpdatePropertiesOffset.
func (c *ChunkDecoder) CurrentPositions() []uint32 {
	n := int(c.freqs[c.curr])
	return c.positions[c.posOffset : c.posOffset+n]
}

// NumDocs returns the number of postings in the chunk.
func (c *ChunkDecoder) NumDocs() int { return c.numDocs }

// DocIDsDecoded reports whether the gap stream has been decoded.
func (c *ChunkDecoder) DocIDsDecoded() bool { return c.decodedDocIDs }

// PropertiesDecoded reports whether the frequency stream has been decoded.
func (c *ChunkDecoder) PropertiesDecoded() bool { return c.decodedProps }

// MaxScore returns the chunk's precomputed maximum partial score.
func (c *ChunkDecoder) MaxScore() float32 { return c.maxScore }

// SetMaxScore records the chunk's maximum partial score bound.
func (c *ChunkDecoder) SetMaxScore(s float32) { c.maxScore = s }
