package model

import (
	"context"
	"errors"
	"sort"
)

// Engine runs a model against named input tensors and returns named outputs.
type Engine interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Close() error
}

// EngineFactory builds an Engine from a serialized model whose output has
// numClasses scores.
type EngineFactory func(modelBlob []byte, numClasses int) (Engine, error)

var ErrEmptyScores = errors.New("empty score vector")

// ArgMax returns the index of the first maximum in scores.
func ArgMax(scores []float32) (int, error) {
	if len(scores) == 0 {
		return 0, ErrEmptyScores
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx, nil
}

// TopK returns the k highest scores with their labels, highest first.
// Equal scores keep their class order.
func TopK(scores []float32, labels []string, k int) []ClassScore {
	n := len(scores)
	if len(labels) < n {
		n = len(labels)
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	all := make([]ClassScore, n)
	for i := 0; i < n; i++ {
		all[i] = ClassScore{Index: i, Label: labels[i], Score: scores[i]}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})
	return all[:k]
}
