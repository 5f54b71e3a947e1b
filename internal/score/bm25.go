// Package score implements the BM25 scoring model shared by the query
// evaluators and the layered index generator.
package score

import "math"

// BM25 parameters, fixed for the engine.
const (
	K1 = 2.0
	B  = 0.75
)

// BM25 precomputes the document-independent factors of the scoring
// function for one collection.
type BM25 struct {
	numeratorMul   float32 // k1 + 1
	denominatorAdd float32 // k1 * (1 - b)
	docLenMul      float32 // k1 * b / avg_doc_len
	totalDocs      float64
}

// New builds a scorer from the collection counters in the index meta file.
func New(totalDocs uint32, avgDocLen float64) BM25 {
	if avgDocLen <= 0 {
		avgDocLen = 1
	}
	return BM25{
		numeratorMul:   K1 + 1,
		denominatorAdd: K1 * (1 - B),
		docLenMul:      float32(K1 * B / avgDocLen),
		totalDocs:      float64(totalDocs),
	}
}

// IDF returns the inverse document frequency component for a term whose
// complete inverted list holds numDocs documents. Computed once per list at
// open, from the full list length, so layered and non-layered scoring
// agree.
func (s BM25) IDF(numDocs int) float32 {
	n := float64(numDocs)
	return float32(math.Log10(1 + (s.totalDocs-n+0.5)/(n+0.5)))
}

// Partial returns a single term's contribution to a document's score.
func (s BM25) Partial(idf float32, freq uint32, docLen uint32) float32 {
	f := float32(freq)
	return idf * (f * s.numeratorMul) / (f + s.denominatorAdd + s.docLenMul*float32(docLen))
}
