package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"

	"court-pricer/internal/common"
)

// ForestConfig holds the hyperparameters of a PriceModel. They are fixed at training
// time and stored with the model.
type ForestConfig struct {
	Trees           int     `json:"trees" yaml:"trees"`
	MaxDepth        int     `json:"max_depth" yaml:"maxDepth"`
	MinSamplesSplit int     `json:"min_samples_split" yaml:"minSamplesSplit"`
	MinSamplesLeaf  int     `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	MaxFeatures     float64 `json:"max_features" yaml:"maxFeatures"` // fraction of features tried per split, 0 means one third
	Seed            uint64  `json:"seed" yaml:"seed"`
	Workers         int     `json:"-" yaml:"workers"` // training parallelism, 0 means GOMAXPROCS
}

// DefaultForestConfig mirrors the settings the pricing model has always shipped with.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           common.DefaultTrees,
		MaxDepth:        common.DefaultMaxDepth,
		MinSamplesSplit: common.DefaultMinSamplesSplit,
		MinSamplesLeaf:  common.DefaultMinSamplesLeaf,
		Seed:            common.DefaultSeed,
	}
}

func (c ForestConfig) validate() error {
	if c.Trees < 1 {
		return fmt.Errorf("forest needs at least one tree, got %d", c.Trees)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max depth must be positive, got %d", c.MaxDepth)
	}
	if c.MinSamplesSplit < 2 {
		return fmt.Errorf("min samples split must be at least 2, got %d", c.MinSamplesSplit)
	}
	if c.MinSamplesLeaf < 1 {
		return fmt.Errorf("min samples leaf must be at least 1, got %d", c.MinSamplesLeaf)
	}
	if c.MaxFeatures < 0 || c.MaxFeatures > 1 {
		return fmt.Errorf("max features must be a fraction in [0,1], got %g", c.MaxFeatures)
	}
	return nil
}

// featuresPerSplit is the number of candidate features drawn at each split.
func (c ForestConfig) featuresPerSplit(width int) int {
	frac := c.MaxFeatures
	if frac == 0 {
		frac = 1.0 / 3
	}
	k := int(math.Ceil(frac * float64(width)))
	return max(1, min(k, width))
}

// Node is one node of a regression tree. Leaves have Feature == -1.
// Samples with x[Feature] <= Threshold go Left.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"` // mean label of the training samples reaching the node
	Cover     float64 `json:"c"` // number of training samples reaching the node
}

func (n Node) IsLeaf() bool { return n.Feature < 0 }

// Tree is a regression tree stored as a flat node slice, root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
	Depth int    `json:"depth"`
}

func (t *Tree) leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

func (t *Tree) predict(x []float64) float64 {
	return t.Nodes[t.leaf(x)].Value
}

// OOBScore summarizes out-of-bag predictions gathered during Fit.
type OOBScore struct {
	RMSE     float64 `json:"rmse"`
	R2       float64 `json:"r2"`
	Coverage float64 `json:"coverage"` // fraction of rows left out of at least one bootstrap
}

// PriceModel is a random forest regressor over encoded booking vectors.
// It is fitted once; afterwards it is read-only and safe for concurrent use.
type PriceModel struct {
	config ForestConfig
	width  int
	trees  []Tree
	oob    *OOBScore
}

// ForestState is the serializable form of a fitted PriceModel.
type ForestState struct {
	Config ForestConfig `json:"config"`
	Width  int          `json:"width"`
	Trees  []Tree       `json:"trees"`
}

// NewPriceModel returns an unfitted model with the given hyperparameters.
func NewPriceModel(cfg ForestConfig) *PriceModel {
	return &PriceModel{config: cfg}
}

// NewPriceModelFromState rebuilds a fitted model from persisted state.
func NewPriceModelFromState(st ForestState) (*PriceModel, error) {
	if err := st.validate(); err != nil {
		return nil, err
	}
	return &PriceModel{config: st.Config, width: st.Width, trees: st.Trees}, nil
}

// Fitted reports whether the model holds trained trees.
func (m *PriceModel) Fitted() bool { return m != nil && len(m.trees) > 0 }

// Width is the encoded vector length the model was fitted on.
func (m *PriceModel) Width() int { return m.width }

// Config returns the hyperparameters the model was trained with.
func (m *PriceModel) Config() ForestConfig { return m.config }

// Trees returns the number of trees in the ensemble.
func (m *PriceModel) Trees() int { return len(m.trees) }

// OOB returns the out-of-bag score computed during Fit, if any row was ever left out.
func (m *PriceModel) OOB() (OOBScore, bool) {
	if m.oob == nil {
		return OOBScore{}, false
	}
	return *m.oob, true
}

// State returns the serializable form of the model.
func (m *PriceModel) State() ForestState {
	return ForestState{Config: m.config, Width: m.width, Trees: m.trees}
}

// Fit trains the ensemble on an encoded matrix and its labels.
func (m *PriceModel) Fit(X [][]float64, y []float64) error {
	if m.Fitted() {
		return fmt.Errorf("price model: %w", common.ErrAlreadyFitted)
	}
	if err := m.config.validate(); err != nil {
		return fmt.Errorf("price model config: %w", err)
	}
	if len(X) == 0 {
		return fmt.Errorf("price model fit: %w", common.ErrEmptyDataset)
	}
	if len(X) != len(y) {
		return fmt.Errorf("price model fit: %d rows but %d labels", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return errors.New("price model fit: encoded rows are empty")
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("price model fit row %d: %w", i, &common.DimensionMismatchError{Want: width, Got: len(row)})
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return fmt.Errorf("price model fit: label %d is not finite", i)
		}
	}

	trees := make([]Tree, m.config.Trees)
	inBag := make([][]bool, m.config.Trees)

	workers := m.config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(workers, m.config.Trees); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				// Per-tree RNG keeps the forest independent of scheduling.
				rng := rand.New(rand.NewPCG(m.config.Seed, uint64(t)))
				trees[t], inBag[t] = growTree(X, y, m.config, width, rng)
			}
		}()
	}
	for t := range trees {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	m.width = width
	m.trees = trees
	m.oob = outOfBag(trees, inBag, X, y)
	return nil
}

// Predict returns the ensemble mean for one encoded vector.
func (m *PriceModel) Predict(x []float64) (float64, error) {
	if err := m.check(x); err != nil {
		return 0, err
	}
	var sum float64
	for i := range m.trees {
		sum += m.trees[i].predict(x)
	}
	return sum / float64(len(m.trees)), nil
}

// PredictBatch predicts every row of an encoded matrix.
func (m *PriceModel) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		p, err := m.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

func (m *PriceModel) check(x []float64) error {
	if !m.Fitted() {
		return fmt.Errorf("price model predict: %w", common.ErrNotFitted)
	}
	if len(x) != m.width {
		return &common.DimensionMismatchError{Want: m.width, Got: len(x)}
	}
	return nil
}

type treeBuilder struct {
	X        [][]float64
	y        []float64
	cfg      ForestConfig
	width    int
	mtry     int
	rng      *rand.Rand
	nodes    []Node
	depth    int
	features []int
}

func growTree(X [][]float64, y []float64, cfg ForestConfig, width int, rng *rand.Rand) (Tree, []bool) {
	n := len(X)
	sample := make([]int, n)
	inBag := make([]bool, n)
	for i := range sample {
		sample[i] = rng.IntN(n)
		inBag[sample[i]] = true
	}

	b := &treeBuilder{
		X:        X,
		y:        y,
		cfg:      cfg,
		width:    width,
		mtry:     cfg.featuresPerSplit(width),
		rng:      rng,
		features: make([]int, width),
	}
	for i := range b.features {
		b.features[i] = i
	}
	b.grow(sample, 0)
	return Tree{Nodes: b.nodes, Depth: b.depth}, inBag
}

func (b *treeBuilder) grow(samples []int, depth int) int {
	var sum, sumSq float64
	for _, s := range samples {
		sum += b.y[s]
		sumSq += b.y[s] * b.y[s]
	}
	n := float64(len(samples))
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: sum / n, Cover: n})
	b.depth = max(b.depth, depth)

	sse := sumSq - sum*sum/n
	if depth >= b.cfg.MaxDepth || len(samples) < b.cfg.MinSamplesSplit ||
		len(samples) < 2*b.cfg.MinSamplesLeaf || sse <= 1e-12*max(1, n) {
		return idx
	}

	feature, threshold, ok := b.bestSplit(samples, sum)
	if !ok {
		return idx
	}

	// Partition in place: left block holds x[feature] <= threshold.
	lo := 0
	for i, s := range samples {
		if b.X[s][feature] <= threshold {
			samples[lo], samples[i] = samples[i], samples[lo]
			lo++
		}
	}
	left := b.grow(samples[:lo], depth+1)
	right := b.grow(samples[lo:], depth+1)

	b.nodes[idx].Feature = feature
	b.nodes[idx].Threshold = threshold
	b.nodes[idx].Left = left
	b.nodes[idx].Right = right
	return idx
}

// bestSplit draws candidate features in random order and keeps the split with the
// largest squared-error reduction. Constant features do not count towards mtry, and
// the search goes past mtry until at least one valid split is found.
func (b *treeBuilder) bestSplit(samples []int, total float64) (int, float64, bool) {
	b.rng.Shuffle(len(b.features), func(i, j int) {
		b.features[i], b.features[j] = b.features[j], b.features[i]
	})

	order := slices.Clone(samples)
	n := len(order)
	minLeaf := b.cfg.MinSamplesLeaf
	parentScore := total * total / float64(n)

	bestFeature, bestThreshold, bestGain := -1, 0.0, 1e-12
	visited := 0
	for _, f := range b.features {
		if visited >= b.mtry && bestFeature >= 0 {
			break
		}
		slices.SortFunc(order, func(a, c int) int {
			va, vc := b.X[a][f], b.X[c][f]
			switch {
			case va < vc:
				return -1
			case va > vc:
				return 1
			default:
				return a - c
			}
		})
		if b.X[order[0]][f] == b.X[order[n-1]][f] {
			continue
		}
		visited++

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += b.y[order[k]]
			xk, xnext := b.X[order[k]][f], b.X[order[k+1]][f]
			if xk == xnext {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr) - parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = xk + (xnext-xk)/2
				if bestThreshold >= xnext {
					bestThreshold = xk
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func outOfBag(trees []Tree, inBag [][]bool, X [][]float64, y []float64) *OOBScore {
	var (
		sse, covered    float64
		preds, observed []float64
	)
	for i, x := range X {
		var sum float64
		var count int
		for t := range trees {
			if inBag[t][i] {
				continue
			}
			sum += trees[t].predict(x)
			count++
		}
		if count == 0 {
			continue
		}
		p := sum / float64(count)
		sse += (p - y[i]) * (p - y[i])
		covered++
		preds = append(preds, p)
		observed = append(observed, y[i])
	}
	if covered == 0 {
		return nil
	}
	return &OOBScore{
		RMSE:     math.Sqrt(sse / covered),
		R2:       rSquared(preds, observed),
		Coverage: covered / float64(len(X)),
	}
}

func (st ForestState) validate() error {
	if st.Width <= 0 {
		return fmt.Errorf("model width must be positive, got %d", st.Width)
	}
	if len(st.Trees) == 0 {
		return errors.New("model has no trees")
	}
	for ti, t := range st.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) || !(n.Cover > 0) {
				return fmt.Errorf("tree %d node %d has invalid value or cover", ti, ni)
			}
			if n.IsLeaf() {
				continue
			}
			// Children always come after their parent, which rules out cycles.
			if n.Feature >= st.Width || n.Left <= ni || n.Right <= ni ||
				n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid split", ti, ni)
			}
		}
	}
	return nil
}
