package search

import (
	"math"
	"sort"
)

// FusedResult is one candidate after score fusion, keeping the per-side
// normalized scores for diagnostics.
type FusedResult struct {
	ID           string
	Score        float64
	VectorScore  float64
	LexicalScore float64
}

// NormalizeScores rescales scores to [0,1] by min-max. Unlike dividing by
// the maximum, this stays meaningful for metrics whose raw scores can be
// negative (inner product, negated L2 distance). A single candidate, or all
// candidates tied, normalize to 1.
func NormalizeScores(scores map[string]float64) {
	if len(scores) == 0 {
		return
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	span := hi - lo
	for id, s := range scores {
		if span == 0 {
			scores[id] = 1
			continue
		}
		scores[id] = (s - lo) / span
	}
}

// Fuse normalizes both score maps and merges them into a weighted sum,
// sorted by descending score with id as the deterministic tie-break. A
// candidate missing from one side contributes zero there.
func Fuse(vecScores, lexScores map[string]float64, vecWeight, lexWeight float64) []FusedResult {
	NormalizeScores(vecScores)
	NormalizeScores(lexScores)

	merged := make(map[string]*FusedResult, len(vecScores)+len(lexScores))
	for id, s := range vecScores {
		merged[id] = &FusedResult{ID: id, VectorScore: s}
	}
	for id, s := range lexScores {
		if r, ok := merged[id]; ok {
			r.LexicalScore = s
			continue
		}
		merged[id] = &FusedResult{ID: id, LexicalScore: s}
	}

	results := make([]FusedResult, 0, len(merged))
	for _, r := range merged {
		r.Score = vecWeight*r.VectorScore + lexWeight*r.LexicalScore
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
