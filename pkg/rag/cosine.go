package rag

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b. It is 0 when either
// vector has zero norm; extra elements of the longer vector are ignored.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// admit normalizes a similarity score and applies the floor. NaN counts as
// zero similarity. A floor of zero or less is no floor, so negative scores
// still rank.
func admit(score, floor float64) (float64, bool) {
	if math.IsNaN(score) {
		score = 0
	}
	if floor > 0 && score < floor {
		return score, false
	}
	return score, true
}

// rank scores docs against query and returns the top k admitted by floor.
// Ties keep corpus order.
func rank(query []float32, docs []document, k int, floor float64) []Passage {
	scored := make([]Passage, 0, len(docs))
	for _, d := range docs {
		s, ok := admit(Cosine(query, d.embedding), floor)
		if !ok {
			continue
		}
		scored = append(scored, Passage{Text: d.Text, Source: d.Source, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
