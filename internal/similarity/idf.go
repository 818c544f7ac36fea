// Package similarity materializes the "related notes" graph from TF-IDF
// weighted term vectors using cosine similarity.
package similarity

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/starford/flowstate/internal/terms"
)

// IDF computes inverse document frequency for each distinct term against a
// corpus of n notes. df holds the number of notes containing each term; a
// term missing from df has never been indexed and gets ln(n+1).
func IDF(termList []string, df map[string]int, n int) map[string]float64 {
	out := make(map[string]float64, len(termList))
	if n <= 0 {
		for _, t := range termList {
			out[t] = 0
		}
		return out
	}
	for _, t := range termList {
		d, ok := df[t]
		if !ok {
			out[t] = math.Log(float64(n + 1))
			continue
		}
		out[t] = math.Log(float64(n+1)/float64(d+1)) + 1
	}
	return out
}

// axis fixes a term order so sparse vectors can be compared as dense slices.
type axis struct {
	terms []string
	idf   []float64
}

func newAxis(idf map[string]float64) axis {
	ts := make([]string, 0, len(idf))
	for t := range idf {
		ts = append(ts, t)
	}
	sort.Strings(ts)
	weights := make([]float64, len(ts))
	for i, t := range ts {
		weights[i] = idf[t]
	}
	return axis{terms: ts, idf: weights}
}

// weigh projects v onto the axis and scales by IDF. Terms outside the axis weigh 0.
func (a axis) weigh(v terms.Vector) []float64 {
	out := make([]float64, len(a.terms))
	for i, t := range a.terms {
		out[i] = v[t] * a.idf[i]
	}
	return out
}

func norm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}
