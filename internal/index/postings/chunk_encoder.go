package postings

import (
	"github.com/strata-search/strata/internal/index/coding"
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// EncodedChunk is one chunk ready for block assembly: the three coded
// streams concatenated, plus the header fields the block records for it.
type EncodedChunk struct {
	LastDocID uint32
	NumDocs   int
	MaxScore  float32
	Words     []uint32

	// Per-stream word counts, kept for the meta byte accounting.
	DocIDWords    int
	FreqWords     int
	PositionWords int
}

// EncodeChunk codes one chunk. gaps holds the doc-id deltas (the first
// entry of the first chunk of a layer is the absolute docID), freqs the
// matching frequencies, and positions the concatenated position lists, nil
// when the index carries none. lastDocID is the absolute docID of the final
// posting.
func EncodeChunk(gaps, freqs, positions []uint32, lastDocID uint32, maxScore float32,
	docCoder, freqCoder, posCoder coding.Policy) (EncodedChunk, error) {

	numDocs := len(gaps)
	if numDocs == 0 || numDocs > ChunkSize {
		return EncodedChunk{}, apperrors.Newf(apperrors.ErrFormat, "chunk has %d postings", numDocs)
	}
	if len(freqs) != numDocs {
		return EncodedChunk{}, apperrors.Newf(apperrors.ErrFormat,
			"chunk has %d gaps but %d frequencies", numDocs, len(freqs))
	}

	out := make([]uint32, 0, coding.EncodeBound(numDocs*2+len(positions)))
	scratch := make([]uint32, coding.EncodeBound(padTo(max(numDocs, len(positions)), ChunkSize)))

	encode := func(coder coding.Policy, values []uint32) (int, error) {
		padded := values
		if want := padTo(len(values), coder.BlockSize()); want != len(values) {
			padded = make([]uint32, want)
			copy(padded, values)
		}
		words, err := coder.Encode(scratch, padded)
		if err != nil {
			return 0, err
		}
		out = append(out, scratch[:words]...)
		return words, nil
	}

	docWords, err := encode(docCoder, gaps)
	if err != nil {
		return EncodedChunk{}, err
	}
	freqWords, err := encode(freqCoder, freqs)
	if err != nil {
		return EncodedChunk{}, err
	}
	posWords := 0
	if len(positions) > 0 {
		if posWords, err = encode(posCoder, positions); err != nil {
			return EncodedChunk{}, err
		}
	}

	return EncodedChunk{
		LastDocID:     lastDocID,
		NumDocs:       numDocs,
		MaxScore:      maxScore,
		Words:         out,
		DocIDWords:    docWords,
		FreqWords:     freqWords,
		PositionWords: posWords,
	}, nil
}
