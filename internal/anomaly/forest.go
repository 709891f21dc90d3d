package anomaly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrInsufficientData is returned when training is requested with fewer
// vectors than the configured minimum.
var ErrInsufficientData = errors.New("anomaly: insufficient training data")

// node is one partition of an isolation tree. Leaves carry the sample count
// that terminated there; internal nodes split on one dimension.
type node struct {
	Dim   int     `json:"dim"`
	Split float64 `json:"split"`
	Left  *node   `json:"left,omitempty"`
	Right *node   `json:"right,omitempty"`
	Size  int     `json:"size,omitempty"` // leaf only
}

// Forest is a trained isolation forest. Immutable once built; swapped in
// whole via the Scorer.
type Forest struct {
	Trees      []*node `json:"trees"`
	Subsample  int     `json:"subsample"`
	Dimensions int     `json:"dimensions"`
	Samples    int     `json:"samples"`
}

// BuildForest trains an isolation forest over the vectors. The context is
// checked between trees so a retrain can be aborted without publishing a
// half-built model.
func BuildForest(ctx context.Context, vectors [][]float64, trees, subsample, minTraining int, seed int64) (*Forest, error) {
	if trees <= 0 {
		trees = 100
	}
	if subsample <= 0 {
		subsample = 256
	}
	if minTraining <= 0 {
		minTraining = 50
	}
	if len(vectors) < minTraining {
		return nil, fmt.Errorf("%w: have %d vectors, need %d", ErrInsufficientData, len(vectors), minTraining)
	}

	dims := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("anomaly: inconsistent vector length %d (want %d)", len(v), dims)
		}
	}

	if subsample > len(vectors) {
		subsample = len(vectors)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(subsample))))
	rng := rand.New(rand.NewSource(seed))

	forest := &Forest{
		Trees:      make([]*node, 0, trees),
		Subsample:  subsample,
		Dimensions: dims,
		Samples:    len(vectors),
	}

	sample := make([][]float64, subsample)
	for i := 0; i < trees; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := range sample {
			sample[j] = vectors[rng.Intn(len(vectors))]
		}
		forest.Trees = append(forest.Trees, buildTree(sample, 0, maxDepth, rng))
	}

	return forest, nil
}

func buildTree(vectors [][]float64, depth, maxDepth int, rng *rand.Rand) *node {
	if depth >= maxDepth || len(vectors) <= 1 {
		return &node{Size: len(vectors)}
	}

	dims := len(vectors[0])

	// Pick a dimension with spread; give up after a few attempts so a
	// degenerate sample still terminates.
	for attempt := 0; attempt < dims; attempt++ {
		dim := rng.Intn(dims)
		lo, hi := vectors[0][dim], vectors[0][dim]
		for _, v := range vectors[1:] {
			if v[dim] < lo {
				lo = v[dim]
			}
			if v[dim] > hi {
				hi = v[dim]
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, v := range vectors {
			if v[dim] < split {
				left = append(left, v)
			} else {
				right = append(right, v)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &node{
			Dim:   dim,
			Split: split,
			Left:  buildTree(left, depth+1, maxDepth, rng),
			Right: buildTree(right, depth+1, maxDepth, rng),
		}
	}

	return &node{Size: len(vectors)}
}

// Score returns the normalized outlier measure for a vector in [0,1], where
// 1 is most anomalous. Deterministic for a given forest.
func (f *Forest) Score(vector []float64) float64 {
	if len(f.Trees) == 0 {
		return 0.5
	}

	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, vector, 0)
	}
	mean := total / float64(len(f.Trees))

	c := avgPathLength(f.Subsample)
	if c <= 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

func pathLength(n *node, vector []float64, depth float64) float64 {
	for n.Left != nil {
		if int(n.Dim) < len(vector) && vector[n.Dim] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return depth + avgPathLength(n.Size)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n samples.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	h := math.Log(fn-1) + 0.5772156649015329
	return 2*h - 2*(fn-1)/fn
}
