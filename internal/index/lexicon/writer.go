package lexicon

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"

	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Writer emits lexicon records in term order.
type Writer struct {
	f *os.File
	w *bufio.Writer
}

// NewWriter creates the lexicon file at path.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "creating lexicon %s: %v", path, err)
	}
	return &Writer{f: f, w: bufio.NewWriterSize(f, 1<<16)}, nil
}

// WriteEntry appends one record. Terms must arrive in the same order the
// index file stores their lists.
func (w *Writer) WriteEntry(term string, layers []Layer) error {
	if len(term) > math.MaxUint16 {
		return apperrors.Newf(apperrors.ErrFormat, "term of length %d exceeds record limit", len(term))
	}
	if len(layers) < 1 || len(layers) > MaxListLayers {
		return apperrors.Newf(apperrors.ErrFormat, "entry has %d layers", len(layers))
	}
	var fixed [3]byte
	binary.LittleEndian.PutUint16(fixed[0:2], uint16(len(term)))
	fixed[2] = byte(len(layers))
	if _, err := w.w.Write(fixed[:]); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing lexicon record: %v", err)
	}
	if _, err := w.w.WriteString(term); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "writing lexicon record: %v", err)
	}
	var layerBuf [32]byte
	for i := range layers {
		layer := &layers[i]
		binary.LittleEndian.PutUint32(layerBuf[0:], layer.NumDocs)
		binary.LittleEndian.PutUint32(layerBuf[4:], layer.NumChunks)
		binary.LittleEndian.PutUint32(layerBuf[8:], layer.NumChunksLastBlock)
		binary.LittleEndian.PutUint32(layerBuf[12:], layer.NumBlocks)
		binary.LittleEndian.PutUint32(layerBuf[16:], layer.BlockNumber)
		binary.LittleEndian.PutUint32(layerBuf[20:], layer.ChunkNumber)
		binary.LittleEndian.PutUint32(layerBuf[24:], math.Float32bits(layer.ScoreThreshold))
		binary.LittleEndian.PutUint32(layerBuf[28:], layer.ExternalIndexOff)
		if _, err := w.w.Write(layerBuf[:]); err != nil {
			return apperrors.Newf(apperrors.ErrIO, "writing lexicon record: %v", err)
		}
	}
	return nil
}

// Close flushes and closes the lexicon file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return apperrors.Newf(apperrors.ErrIO, "flushing lexicon: %v", err)
	}
	return w.f.Close()
}
