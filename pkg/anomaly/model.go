package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// leafNode marks a leaf in the children arrays, matching the scikit-learn
// tree export convention.
const leafNode = -1

// eulerGamma is the Euler-Mascheroni constant used by the average path
// length correction.
const eulerGamma = 0.5772156649015329

// Forest is an isolation forest exported as a JSON artifact by the offline
// trainer. The artifact also carries the explanation baselines so the
// scorer and the trainer stay in sync.
type Forest struct {
	NEstimators int        `json:"n_estimators"`
	MaxSamples  int        `json:"max_samples"`
	Offset      float64    `json:"offset"`
	Trees       []Tree     `json:"trees"`
	Baselines   *Baselines `json:"baselines,omitempty"`
}

// Tree is one isolation tree in flat array form: node i splits on
// Feature[i] at Threshold[i], descending left when the value is less than
// or equal to the threshold. ChildrenLeft[i] == leafNode marks a leaf.
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	NNodeSamples  []int     `json:"n_node_samples"`
}

// Baselines are the per-feature means, deviations, and display labels used
// to pick the explanation for a flagged event.
type Baselines struct {
	Means  []float64 `json:"means"`
	Stds   []float64 `json:"stds"`
	Labels []string  `json:"labels"`
}

// LoadForest reads and validates a model artifact. A missing file returns
// an error wrapping os.ErrNotExist so callers can treat absence as
// "scoring disabled" rather than a failure.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing model artifact %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}
	return &f, nil
}

// Validate checks the artifact shape before the forest is trusted to
// score events.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return errors.New("model has no trees")
	}
	if f.NEstimators != 0 && f.NEstimators != len(f.Trees) {
		return fmt.Errorf("model declares %d estimators but carries %d trees", f.NEstimators, len(f.Trees))
	}
	if f.MaxSamples < 2 {
		return fmt.Errorf("max_samples must be at least 2, got %d", f.MaxSamples)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	if f.Baselines != nil {
		if err := f.Baselines.validate(); err != nil {
			return fmt.Errorf("baselines: %w", err)
		}
	}
	return nil
}

func (t *Tree) validate() error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return errors.New("tree has no nodes")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.NNodeSamples) != n {
		return fmt.Errorf("node arrays disagree on length (%d left, %d right, %d feature, %d threshold, %d samples)",
			n, len(t.ChildrenRight), len(t.Feature), len(t.Threshold), len(t.NNodeSamples))
	}
	for i := 0; i < n; i++ {
		if t.ChildrenLeft[i] == leafNode {
			continue
		}
		if t.ChildrenLeft[i] <= i || t.ChildrenLeft[i] >= n || t.ChildrenRight[i] <= i || t.ChildrenRight[i] >= n {
			return fmt.Errorf("node %d: child index out of range", i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= featureCount {
			return fmt.Errorf("node %d: feature index %d out of range", i, t.Feature[i])
		}
	}
	return nil
}

func (b *Baselines) validate() error {
	if len(b.Means) != featureCount || len(b.Stds) != featureCount || len(b.Labels) != featureCount {
		return fmt.Errorf("expected %d entries per array, got %d means, %d stds, %d labels",
			featureCount, len(b.Means), len(b.Stds), len(b.Labels))
	}
	return nil
}

// DecisionFunction returns the signed outlier score for a feature vector:
// negative means anomalous, positive means normal. Matches the semantics
// of the training library, so a model trained offline scores identically
// here.
func (f *Forest) DecisionFunction(x []float64) float64 {
	depths := 0.0
	for i := range f.Trees {
		depths += f.Trees[i].pathLength(x)
	}
	denominator := float64(len(f.Trees)) * averagePathLength(f.MaxSamples)
	scoreSamples := -math.Pow(2, -depths/denominator)
	return scoreSamples - f.Offset
}

// pathLength walks x down the tree and returns the number of edges
// traversed plus the expected remaining depth for the subsample left at
// the leaf.
func (t *Tree) pathLength(x []float64) float64 {
	node := 0
	depth := 0.0
	for t.ChildrenLeft[node] != leafNode {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
		depth++
	}
	return depth + averagePathLength(t.NNodeSamples[node])
}

// averagePathLength is c(n): the expected path length of an unsuccessful
// search in a binary tree built over n samples.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		f := float64(n)
		return 2*(math.Log(f-1)+eulerGamma) - 2*(f-1)/f
	}
}
