// Package lexicon maps terms to their per-layer inverted list descriptors.
// It supports two modes: random (query) access through a move-to-front hash
// table, and streaming (merge) access in on-disk term order.
package lexicon

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	farmhash "github.com/leemcloughlin/gofarmhash"

	apperrors "github.com/strata-search/strata/pkg/errors"
)

// MaxListLayers is the largest number of layers a list may be split into.
const MaxListLayers = 8

// Layer describes one layer of one term's inverted list.
type Layer struct {
	NumDocs            uint32
	NumChunks          uint32
	NumChunksLastBlock uint32
	NumBlocks          uint32
	BlockNumber        uint32
	ChunkNumber        uint32
	ScoreThreshold     float32
	ExternalIndexOff   uint32

	// LastDocIDs holds the last docID of each block of this layer. It is
	// attached post-hoc when block-level skipping is enabled and is nil
	// otherwise.
	LastDocIDs []uint32
}

// Entry is one lexicon record: a term plus its ordered layers. Entries
// outlive every cursor opened from them.
type Entry struct {
	Term   string
	Layers []Layer

	next *Entry // hash chain in random mode
}

// NumLayers returns the number of layers the term's list was split into.
func (e *Entry) NumLayers() int { return len(e.Layers) }

// NumDocsCompleteList returns the length of the full inverted list: for
// overlapping layers the last layer holds every posting, otherwise the
// layers partition the list.
func (e *Entry) NumDocsCompleteList(overlapping bool) int {
	if overlapping || len(e.Layers) == 1 {
		return int(e.Layers[len(e.Layers)-1].NumDocs)
	}
	total := 0
	for i := range e.Layers {
		total += int(e.Layers[i].NumDocs)
	}
	return total
}

// Lexicon provides access to the on-disk lexicon file.
type Lexicon struct {
	buckets []*Entry
	mask    uint32

	f  *os.File
	br *bufio.Reader
}

// OpenRandom loads the whole lexicon into a move-to-front hash table sized
// to the smallest power of two not below hashSize.
func OpenRandom(path string, hashSize int) (*Lexicon, error) {
	lex, err := OpenStream(path)
	if err != nil {
		return nil, err
	}
	defer lex.Close()

	size := 1
	for size < hashSize {
		size <<= 1
	}
	random := &Lexicon{
		buckets: make([]*Entry, size),
		mask:    uint32(size - 1),
	}
	for {
		entry, err := lex.NextEntry()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		idx := random.bucket(entry.Term)
		entry.next = random.buckets[idx]
		random.buckets[idx] = entry
	}
	return random, nil
}

// OpenStream opens the lexicon for sequential iteration in disk order.
func OpenStream(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "opening lexicon %s: %v", path, err)
	}
	return &Lexicon{f: f, br: bufio.NewReaderSize(f, 1<<16)}, nil
}

func (l *Lexicon) bucket(term string) uint32 {
	return farmhash.Hash32WithSeed([]byte(term), 0) & l.mask
}

// GetEntry returns the entry for term, or nil if absent. On a hit the entry
// moves to the front of its bucket chain.
func (l *Lexicon) GetEntry(term string) *Entry {
	idx := l.bucket(term)
	var prev *Entry
	for e := l.buckets[idx]; e != nil; e = e.next {
		if e.Term == term {
			if prev != nil {
				prev.next = e.next
				e.next = l.buckets[idx]
				l.buckets[idx] = e
			}
			return e
		}
		prev = e
	}
	return nil
}

// ForEach visits every entry of a random-mode lexicon in unspecified order.
func (l *Lexicon) ForEach(fn func(*Entry)) {
	for _, head := range l.buckets {
		for e := head; e != nil; e = e.next {
			fn(e)
		}
	}
}

// NextEntry returns the next record in disk order, or nil at end of file.
// Only valid in streaming mode.
func (l *Lexicon) NextEntry() (*Entry, error) {
	var fixed [3]byte
	if _, err := io.ReadFull(l.br, fixed[:]); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, apperrors.Newf(apperrors.ErrFormat, "reading lexicon record: %v", err)
	}
	termLen := int(binary.LittleEndian.Uint16(fixed[0:2]))
	numLayers := int(fixed[2])
	if numLayers < 1 || numLayers > MaxListLayers {
		return nil, apperrors.Newf(apperrors.ErrFormat, "lexicon record claims %d layers", numLayers)
	}
	buf := make([]byte, termLen+numLayers*32)
	if _, err := io.ReadFull(l.br, buf); err != nil {
		return nil, apperrors.Newf(apperrors.ErrFormat, "truncated lexicon record: %v", err)
	}
	entry := &Entry{
		Term:   string(buf[:termLen]),
		Layers: make([]Layer, numLayers),
	}
	off := termLen
	u32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		return v
	}
	for i := 0; i < numLayers; i++ {
		layer := &entry.Layers[i]
		layer.NumDocs = u32()
		layer.NumChunks = u32()
		layer.NumChunksLastBlock = u32()
		layer.NumBlocks = u32()
		layer.BlockNumber = u32()
		layer.ChunkNumber = u32()
		layer.ScoreThreshold = math.Float32frombits(u32())
		layer.ExternalIndexOff = u32()
	}
	return entry, nil
}

// Close releases the underlying file in streaming mode.
func (l *Lexicon) Close() error {
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}
