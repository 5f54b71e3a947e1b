package query

import (
	"math/rand"
	"sort"
	"testing"
)

func TestTopKKeepsHighestScores(t *testing.T) {
	top := newTopK(3)
	scores := []float32{0.5, 2.5, 1.0, 4.0, 0.1, 3.0}
	for i, s := range scores {
		top.insert(s, uint32(i))
	}
	results := top.results()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []float32{4.0, 3.0, 2.5}
	for i, w := range want {
		if results[i].Score != w {
			t.Errorf("result %d score = %v, want %v", i, results[i].Score, w)
		}
	}
}

func TestTopKTieKeepsEarlierDoc(t *testing.T) {
	top := newTopK(1)
	top.insert(1.0, 7)
	top.insert(1.0, 9)
	results := top.results()
	if results[0].DocID != 7 {
		t.Fatalf("tie evicted the earlier docID: got %d, want 7", results[0].DocID)
	}
}

func TestKthScores(t *testing.T) {
	const k = 5
	h := newKthScores(k)
	rng := rand.New(rand.NewSource(7))
	var all []float32
	var got float32
	for i := 0; i < 100; i++ {
		s := rng.Float32() * 10
		all = append(all, s)
		got = h.insert(s)
		if i+1 < k {
			if got != lowestScore {
				t.Fatalf("threshold before k insertions = %v, want lowest score", got)
			}
			continue
		}
		sorted := append([]float32(nil), all...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a] > sorted[b] })
		if want := sorted[k-1]; got != want {
			t.Fatalf("after %d insertions threshold = %v, want k-th largest %v", i+1, got, want)
		}
	}
}
