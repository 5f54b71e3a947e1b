// Package coding defines the compression policy contract shared by the
// index writer and reader, and a registry of named policies.
//
// All policies operate on runs of uint32 values and produce 32-bit words.
// Every stream in a block (doc-id gaps, frequencies, positions, block
// headers) starts at a word boundary, so a decoder always consumes a whole
// number of words.
package coding

import (
	apperrors "github.com/strata-search/strata/pkg/errors"
)

// Policy compresses and decompresses runs of uint32 integers.
type Policy interface {
	// Name is the identifier recorded in the index meta file. It must match
	// byte-for-byte on reopen.
	Name() string

	// BlockSize is the fixed input length in integers, 0 meaning any
	// length. If non-zero, callers must zero-pad input to a multiple of it
	// and account for the padding upstream.
	BlockSize() int

	// Encode writes the coded form of in to out and returns the number of
	// words written. out must have capacity for the worst case,
	// EncodeBound(len(in)).
	Encode(out, in []uint32) (int, error)

	// Decode reads n values from in into out and returns the number of
	// words consumed. out must have capacity DecodeBound(n): word-aligned
	// policies may emit up to a word's worth of padding values past n.
	Decode(out, in []uint32, n int) (int, error)
}

// EncodeBound returns a safe output capacity in words for encoding n values.
// The loosest policy (rice with a wide outlier) needs under two words per
// value plus a header.
func EncodeBound(n int) int {
	return 4*n + 8
}

// DecodeBound returns a safe output capacity in values for decoding n values.
func DecodeBound(n int) int {
	return n + 31
}

// Get returns the policy registered under name.
func Get(name string) (Policy, error) {
	switch name {
	case "null":
		return nullPolicy{}, nil
	case "vbyte":
		return vbytePolicy{}, nil
	case "s16":
		return s16Policy{}, nil
	case "rice":
		return ricePolicy{name: "rice"}, nil
	case "turbo-rice":
		return ricePolicy{name: "turbo-rice"}, nil
	case "pfor":
		return pforPolicy{}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrFormat, "unknown coding policy %q", name)
}

// nullPolicy is the identity coder.
type nullPolicy struct{}

func (nullPolicy) Name() string   { return "null" }
func (nullPolicy) BlockSize() int { return 0 }

func (nullPolicy) Encode(out, in []uint32) (int, error) {
	copy(out, in)
	return len(in), nil
}

func (nullPolicy) Decode(out, in []uint32, n int) (int, error) {
	if n > len(in) {
		return 0, apperrors.Newf(apperrors.ErrFormat, "null decode: need %d words, have %d", n, len(in))
	}
	copy(out[:n], in[:n])
	return n, nil
}
