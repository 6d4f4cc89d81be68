package detector

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// IsolationForest unsupervised outlier model over small feature vectors.
// Decision scores follow the convention "negative is anomalous".
type IsolationForest struct {
	mu sync.RWMutex

	nTrees        int
	sampleSize    int
	contamination float64
	rng           *rand.Rand

	state forestState
}

// forestState trained parameters, gob-encoded by Save
type forestState struct {
	Trees         []*Tree
	Features      int
	SampleSize    int
	Threshold     float64
	AvgPathLength float64
	Trained       bool
}

// Tree single isolation tree
type Tree struct {
	Root *Node
}

// Node internal split or leaf. Exported for gob.
type Node struct {
	Feature int
	Split   float64
	Left    *Node
	Right   *Node
	Size    int
}

func (n *Node) leaf() bool { return n.Left == nil && n.Right == nil }

// ForestOption configures an IsolationForest
type ForestOption func(*IsolationForest)

// WithTrees number of trees
func WithTrees(n int) ForestOption {
	return func(f *IsolationForest) { f.nTrees = n }
}

// WithSampleSize subsample size per tree
func WithSampleSize(n int) ForestOption {
	return func(f *IsolationForest) { f.sampleSize = n }
}

// WithContamination expected share of anomalies in the training data
func WithContamination(c float64) ForestOption {
	return func(f *IsolationForest) { f.contamination = c }
}

// WithForestSeed fixes the random source
func WithForestSeed(seed int64) ForestOption {
	return func(f *IsolationForest) { f.rng = rand.New(rand.NewSource(seed)) }
}

// NewIsolationForest creates an untrained forest
func NewIsolationForest(opts ...ForestOption) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.05,
		rng:           rand.New(rand.NewSource(42)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fit trains on rows of equal width and sets the decision threshold at the contamination percentile.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	nFeatures := len(data[0])
	for _, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("%w: ragged training rows", ErrShapeMismatch)
		}
	}

	sampleSize := f.sampleSize
	if sampleSize > len(data) {
		sampleSize = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	trees := make([]*Tree, f.nTrees)
	for i := range trees {
		idx := f.rng.Perm(len(data))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, k := range idx {
			sample[j] = data[k]
		}
		trees[i] = &Tree{Root: f.buildNode(sample, nFeatures, 0, maxDepth)}
	}

	st := forestState{
		Trees:         trees,
		Features:      nFeatures,
		SampleSize:    sampleSize,
		AvgPathLength: averagePathLength(float64(sampleSize)),
		Trained:       true,
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = st.score(row)
	}
	st.Threshold = percentile(scores, 100*(1-f.contamination))

	f.state = st
	return nil
}

func (f *IsolationForest) buildNode(data [][]float64, nFeatures, depth, maxDepth int) *Node {
	n := len(data)
	if depth >= maxDepth || n <= 1 {
		return &Node{Size: n}
	}

	feature := f.rng.Intn(nFeatures)
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		lo = math.Min(lo, row[feature])
		hi = math.Max(hi, row[feature])
	}
	if lo == hi {
		return &Node{Size: n}
	}

	split := lo + f.rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &Node{
		Feature: feature,
		Split:   split,
		Left:    f.buildNode(left, nFeatures, depth+1, maxDepth),
		Right:   f.buildNode(right, nFeatures, depth+1, maxDepth),
	}
}

// Score anomaly score 2^(-E[h(x)]/c(n)) in (0, 1]; higher is more anomalous.
func (f *IsolationForest) Score(x []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.check(x); err != nil {
		return 0, err
	}
	return f.state.score(x), nil
}

// Decision threshold minus score; negative means anomalous.
func (f *IsolationForest) Decision(x []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.check(x); err != nil {
		return 0, err
	}
	return f.state.Threshold - f.state.score(x), nil
}

// Trained reports whether Fit or Load succeeded.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Trained
}

// Threshold current score threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Threshold
}

func (f *IsolationForest) check(x []float64) error {
	if !f.state.Trained {
		return ErrNotTrained
	}
	if len(x) != f.state.Features {
		return fmt.Errorf("%w: got %d features, want %d", ErrShapeMismatch, len(x), f.state.Features)
	}
	return nil
}

// Save gob-encodes the trained forest.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.state.Trained {
		return nil, ErrNotTrained
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.state); err != nil {
		return nil, fmt.Errorf("failed to encode forest: %w", err)
	}
	return buf.Bytes(), nil
}

// Load restores a forest written by Save.
func (f *IsolationForest) Load(data []byte) error {
	var st forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return fmt.Errorf("failed to decode forest: %w", err)
	}
	if !st.Trained || len(st.Trees) == 0 {
		return ErrNotTrained
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
	return nil
}

func (s *forestState) score(x []float64) float64 {
	var total float64
	for _, t := range s.Trees {
		total += pathLength(x, t.Root, 0)
	}
	avg := total / float64(len(s.Trees))
	if s.AvgPathLength == 0 {
		return 0.5
	}
	return math.Pow(2, -avg/s.AvgPathLength)
}

func pathLength(x []float64, n *Node, depth int) float64 {
	if n.leaf() {
		return float64(depth) + averagePathLength(float64(n.Size))
	}
	if x[n.Feature] < n.Split {
		return pathLength(x, n.Left, depth+1)
	}
	return pathLength(x, n.Right, depth+1)
}

// averagePathLength c(n) = 2H(n-1) - 2(n-1)/n, the mean unsuccessful-search depth of a BST
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// percentile with linear interpolation between ranks
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
