package query

import "math"

// lowestScore is the initial top-k threshold, below any score an evaluator
// can produce.
const lowestScore = float32(-math.MaxFloat32)

// Result is one ranked document.
type Result struct {
	Score float32 `json:"score"`
	DocID uint32  `json:"doc_id"`
}

// topK maintains the k highest-scoring results in a min-heap keyed on
// score alone. A result that only ties the k-th score does not displace
// it; the output order of equal-scored results is not defined.
type topK struct {
	k    int
	heap []Result
}

func newTopK(k int) *topK {
	return &topK{k: k, heap: make([]Result, 0, k)}
}

// insert offers a result; returns true if it entered the top-k.
func (t *topK) insert(score float32, docID uint32) bool {
	if len(t.heap) < t.k {
		t.heap = append(t.heap, Result{Score: score, DocID: docID})
		t.siftUp(len(t.heap) - 1)
		return true
	}
	if score <= t.heap[0].Score {
		return false
	}
	t.heap[0] = Result{Score: score, DocID: docID}
	t.siftDown(0)
	return true
}

// threshold returns the k-th best score, or the lowest float before k
// results accumulate.
func (t *topK) threshold() float32 {
	if len(t.heap) < t.k {
		return lowestScore
	}
	return t.heap[0].Score
}

func (t *topK) len() int { return len(t.heap) }

// results drains the heap into descending score order.
func (t *topK) results() []Result {
	out := make([]Result, len(t.heap))
	for i := len(t.heap) - 1; i >= 0; i-- {
		out[i] = t.heap[0]
		last := len(t.heap) - 1
		t.heap[0] = t.heap[last]
		t.heap = t.heap[:last]
		t.siftDown(0)
	}
	t.heap = nil
	return out
}

func (t *topK) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if t.heap[parent].Score <= t.heap[i].Score {
			break
		}
		t.heap[parent], t.heap[i] = t.heap[i], t.heap[parent]
		i = parent
	}
}

func (t *topK) siftDown(i int) {
	n := len(t.heap)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && t.heap[left].Score < t.heap[smallest].Score {
			smallest = left
		}
		if right < n && t.heap[right].Score < t.heap[smallest].Score {
			smallest = right
		}
		if smallest == i {
			return
		}
		t.heap[i], t.heap[smallest] = t.heap[smallest], t.heap[i]
		i = smallest
	}
}

// kthScores is a min-heap of capacity k over bare scores, used by the
// pruned TAAT evaluator to track the running k-th best score.
type kthScores struct {
	k      int
	scores []float32
}

func newKthScores(k int) *kthScores {
	return &kthScores{k: k, scores: make([]float32, 0, k)}
}

// insert offers a score and returns the current k-th largest, or the
// lowest float while fewer than k scores have been seen.
func (h *kthScores) insert(s float32) float32 {
	if len(h.scores) < h.k {
		h.scores = append(h.scores, s)
		i := len(h.scores) - 1
		for i > 0 {
			parent := (i - 1) / 2
			if h.scores[parent] <= h.scores[i] {
				break
			}
			h.scores[parent], h.scores[i] = h.scores[i], h.scores[parent]
			i = parent
		}
	} else if s > h.scores[0] {
		h.scores[0] = s
		i := 0
		n := len(h.scores)
		for {
			left, right := 2*i+1, 2*i+2
			smallest := i
			if left < n && h.scores[left] < h.scores[smallest] {
				smallest = left
			}
			if right < n && h.scores[right] < h.scores[smallest] {
				smallest = right
			}
			if smallest == i {
				break
			}
			h.scores[i], h.scores[smallest] = h.scores[smallest], h.scores[i]
			i = smallest
		}
	}
	if len(h.scores) < h.k {
		return lowestScore
	}
	return h.scores[0]
}
