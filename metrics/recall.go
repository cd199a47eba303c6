package metrics

import (
	"fmt"
	"sort"
)

// TestSize is the number of candidates per context in evaluation data. The
// true response is the first candidate of every group.
const TestSize = 10

// GroupSizes and Ks are the Recall@k grid that gets reported.
var (
	GroupSizes = []int{2, 10}
	Ks         = []int{1, 2, 5}
)

// Recall is the fraction of complete groups of TestSize probabilities whose
// first candidate is among the k best of the group's first groupSize
// candidates. Ties keep the lower index first.
func Recall(probas []float64, k, groupSize int) (float64, error) {
	if k < 1 || k >= groupSize {
		return 0, fmt.Errorf("recall@%d needs 1 <= k < group size %d", k, groupSize)
	}
	if groupSize > TestSize {
		return 0, fmt.Errorf("group size %d exceeds %d candidates", groupSize, TestSize)
	}
	nGroups := len(probas) / TestSize
	if nGroups == 0 {
		return 0, nil
	}
	correct := 0
	idx := make([]int, groupSize)
	for g := 0; g < nGroups; g++ {
		group := probas[g*TestSize : g*TestSize+groupSize]
		if inTopK(group, idx, k, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nGroups), nil
}

// inTopK reports whether target ranks among the k highest scores.
func inTopK(scores []float64, idx []int, k, target int) bool {
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	for _, i := range idx[:k] {
		if i == target {
			return true
		}
	}
	return false
}

// RecallKs evaluates every k < groupSize of Ks for each of GroupSizes.
func RecallKs(probas []float64) map[int]map[int]float64 {
	out := make(map[int]map[int]float64, len(GroupSizes))
	for _, gs := range GroupSizes {
		out[gs] = make(map[int]float64)
		for _, k := range Ks {
			if k >= gs {
				continue
			}
			r, err := Recall(probas, k, gs)
			if err != nil {
				panic(err) // grid is fixed and always valid
			}
			out[gs][k] = r
		}
	}
	return out
}

// Perf is 1 - errors/total, the classification accuracy.
func Perf(errors, total int) float64 {
	if total == 0 {
		return 0
	}
	return 1 - float64(errors)/float64(total)
}
