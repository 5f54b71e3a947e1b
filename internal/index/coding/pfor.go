package coding

import (
	"math/bits"

	apperrors "github.com/strata-search/strata/pkg/errors"
)

// pforBlockSize is the fixed input length of the PFor coder. Callers pad
// shorter runs with zeros.
const pforBlockSize = 128

// pforPolicy packs each 128-value block at a fixed bit width chosen to
// minimise total size; values that do not fit the width are patched in from
// an exception list appended after the packed payload.
type pforPolicy struct{}

func (pforPolicy) Name() string   { return "pfor" }
func (pforPolicy) BlockSize() int { return pforBlockSize }

func (pforPolicy) Encode(out, in []uint32) (int, error) {
	if len(in)%pforBlockSize != 0 {
		return 0, apperrors.Newf(apperrors.ErrFormat,
			"pfor encode: input length %d is not a multiple of %d", len(in), pforBlockSize)
	}
	words := 0
	for off := 0; off < len(in); off += pforBlockSize {
		n, err := pforEncodeBlock(out[words:], in[off:off+pforBlockSize])
		if err != nil {
			return 0, err
		}
		words += n
	}
	return words, nil
}

func (pforPolicy) Decode(out, in []uint32, n int) (int, error) {
	if n%pforBlockSize != 0 {
		return 0, apperrors.Newf(apperrors.ErrFormat,
			"pfor decode: count %d is not a multiple of %d", n, pforBlockSize)
	}
	words := 0
	for off := 0; off < n; off += pforBlockSize {
		consumed, err := pforDecodeBlock(out[off:off+pforBlockSize], in[words:])
		if err != nil {
			return 0, err
		}
		words += consumed
	}
	return words, nil
}

// pforEncodeBlock writes one 128-value block: a header word holding the bit
// width and exception count, the packed low bits, then (position, value)
// word pairs for each exception.
func pforEncodeBlock(out, in []uint32) (int, error) {
	var width [33]int
	for _, v := range in {
		width[bits.Len32(v)]++
	}
	// Try every width; count values wider than each candidate.
	bestBits, bestSize := 32, 1+pforBlockSize+1
	for b := 0; b <= 32; b++ {
		exc := 0
		for w := b + 1; w <= 32; w++ {
			exc += width[w]
		}
		size := 1 + (pforBlockSize*b+31)/32 + 2*exc
		if size < bestSize {
			bestSize = size
			bestBits = b
		}
	}
	b := bestBits
	out[0] = uint32(b)
	packedWords := (pforBlockSize*b + 31) / 32
	for i := 1; i <= packedWords; i++ {
		out[i] = 0
	}
	w := bitWriter{out: out[1:]}
	var excPos, excVal []uint32
	mask := uint32(0)
	if b > 0 {
		mask = uint32(1)<<b - 1
	}
	for i, v := range in {
		if bits.Len32(v) > b {
			excPos = append(excPos, uint32(i))
			excVal = append(excVal, v)
			v = 0
		}
		if b > 0 {
			w.write(v&mask, uint(b))
		}
	}
	words := 1 + packedWords
	for i := range excPos {
		out[words] = excPos[i]
		out[words+1] = excVal[i]
		words += 2
	}
	out[0] |= uint32(len(excPos)) << 8
	return words, nil
}

func pforDecodeBlock(out, in []uint32) (int, error) {
	if len(in) == 0 {
		return 0, apperrors.New(apperrors.ErrFormat, "pfor decode: truncated input")
	}
	header := in[0]
	b := uint(header & 0xff)
	numExc := int(header >> 8)
	if b > 32 || numExc > pforBlockSize {
		return 0, apperrors.Newf(apperrors.ErrFormat, "pfor decode: bad header %#x", header)
	}
	packedWords := (pforBlockSize*int(b) + 31) / 32
	if len(in) < 1+packedWords+2*numExc {
		return 0, apperrors.New(apperrors.ErrFormat, "pfor decode: truncated input")
	}
	if b == 0 {
		for i := range out[:pforBlockSize] {
			out[i] = 0
		}
	} else {
		r := bitReader{in: in[1 : 1+packedWords]}
		for i := 0; i < pforBlockSize; i++ {
			v, ok := r.read(b)
			if !ok {
				return 0, apperrors.New(apperrors.ErrFormat, "pfor decode: truncated payload")
			}
			out[i] = v
		}
	}
	off := 1 + packedWords
	for i := 0; i < numExc; i++ {
		pos := in[off]
		if pos >= pforBlockSize {
			return 0, apperrors.Newf(apperrors.ErrFormat, "pfor decode: exception position %d out of range", pos)
		}
		out[pos] = in[off+1]
		off += 2
	}
	return off, nil
}
