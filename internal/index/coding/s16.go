package coding

import (
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// s16Policy is a word-aligned coder: each output word carries a 4-bit
// selector and 28 payload bits holding a fixed pattern of bit-widths. A
// tail shorter than the selected pattern is zero-padded, so decoders may
// emit up to 27 padding values past the requested count.
type s16Policy struct{}

// s16Group is a run of equal-width slots within one selector pattern.
type s16Group struct {
	count int
	bits  uint
}

var s16Table = [16][]s16Group{
	{{28, 1}},
	{{7, 2}, {14, 1}},
	{{14, 1}, {7, 2}},
	{{14, 2}},
	{{1, 4}, {8, 3}},
	{{1, 3}, {4, 4}, {3, 3}},
	{{7, 4}},
	{{4, 5}, {2, 4}},
	{{2, 4}, {4, 5}},
	{{3, 6}, {2, 5}},
	{{2, 5}, {3, 6}},
	{{4, 7}},
	{{1, 10}, {2, 9}},
	{{2, 14}},
	{{1, 28}},
	{{1, 28}},
}

var s16Counts = func() [16]int {
	var counts [16]int
	for sel, groups := range s16Table {
		for _, g := range groups {
			counts[sel] += g.count
		}
	}
	return counts
}()

func (s16Policy) Name() string   { return "s16" }
func (s16Policy) BlockSize() int { return 0 }

func (s16Policy) Encode(out, in []uint32) (int, error) {
	words := 0
	pos := 0
	for pos < len(in) {
		sel := -1
		for candidate := 0; candidate < 16; candidate++ {
			if s16Fits(in[pos:], candidate) {
				sel = candidate
				break
			}
		}
		if sel < 0 {
			return 0, apperrors.Newf(apperrors.ErrFormat, "s16 encode: value %d exceeds 28 bits", in[pos])
		}
		word := uint32(sel) << 28
		shift := uint(0)
		idx := pos
		for _, g := range s16Table[sel] {
			for i := 0; i < g.count; i++ {
				var v uint32
				if idx < len(in) {
					v = in[idx]
					idx++
				}
				word |= v << shift
				shift += g.bits
			}
		}
		out[words] = word
		words++
		pos += s16Counts[sel]
	}
	return words, nil
}

func (s16Policy) Decode(out, in []uint32, n int) (int, error) {
	words := 0
	decoded := 0
	for decoded < n {
		if words >= len(in) {
			return 0, apperrors.New(apperrors.ErrFormat, "s16 decode: truncated input")
		}
		word := in[words]
		words++
		sel := word >> 28
		shift := uint(0)
		for _, g := range s16Table[sel] {
			mask := uint32(1)<<g.bits - 1
			for i := 0; i < g.count; i++ {
				out[decoded] = (word >> shift) & mask
				decoded++
				shift += g.bits
			}
		}
	}
	return words, nil
}

// s16Fits reports whether the next values fit the selector's slot widths,
// padding slots past the end of the input with zeros.
func s16Fits(in []uint32, sel int) bool {
	idx := 0
	for _, g := range s16Table[sel] {
		limit := uint32(1)<<g.bits - 1
		for i := 0; i < g.count; i++ {
			if idx < len(in) && in[idx] > limit {
				return false
			}
			idx++
		}
	}
	return true
}
