package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"court-pricer/internal/common"
	"court-pricer/internal/features"
)

// Attribution is an additive explanation of one prediction: Baseline plus the sum
// of Values equals Prediction.
type Attribution struct {
	Baseline   float64   `json:"baseline"`
	Prediction float64   `json:"prediction"`
	Values     []float64 `json:"values"` // one per encoded column
}

// FieldAttribution is the contribution of one original input field, summed over the
// encoded columns it produced.
type FieldAttribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// ColumnAttribution is the contribution of one encoded column.
type ColumnAttribution struct {
	Column  string  `json:"column"`
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// ExplainerState is what gets persisted next to the model. The baseline is
// recomputed on load and checked against the stored one.
type ExplainerState struct {
	Method   string  `json:"method"`
	Baseline float64 `json:"baseline"`
}

// Explainer attributes PriceModel predictions to encoded columns.
//
// Two methods are supported. "path" walks each tree's decision path and credits every
// split feature with the change in node value it caused. "treeshap" computes exact
// Shapley values per tree using cover-weighted path expectations. Both are averaged
// over the ensemble and satisfy the sum law against the mean root value.
type Explainer struct {
	model    *PriceModel
	columns  []features.Column
	method   string
	baseline float64
}

// NewExplainer binds an explainer to a fitted model and the encoder's column schema.
func NewExplainer(model *PriceModel, columns []features.Column, method string) (*Explainer, error) {
	if !model.Fitted() {
		return nil, fmt.Errorf("explainer: %w", common.ErrNotFitted)
	}
	if len(columns) != model.Width() {
		return nil, fmt.Errorf("explainer columns: %w", &common.DimensionMismatchError{Want: model.Width(), Got: len(columns)})
	}
	if method == "" {
		method = common.DefaultExplainMethod
	}
	if method != common.ExplainPath && method != common.ExplainTreeSHAP {
		return nil, fmt.Errorf("unknown explain method %q", method)
	}

	var base float64
	for i := range model.trees {
		base += model.trees[i].Nodes[0].Value
	}
	base /= float64(len(model.trees))

	cols := make([]features.Column, len(columns))
	copy(cols, columns)
	return &Explainer{model: model, columns: cols, method: method, baseline: base}, nil
}

// NewExplainerFromState rebuilds an explainer and verifies the stored baseline.
func NewExplainerFromState(model *PriceModel, columns []features.Column, st ExplainerState) (*Explainer, error) {
	e, err := NewExplainer(model, columns, st.Method)
	if err != nil {
		return nil, err
	}
	if math.Abs(e.baseline-st.Baseline) > common.AttributionTolerance*max(1, math.Abs(e.baseline)) {
		return nil, fmt.Errorf("stored baseline %g does not match model baseline %g", st.Baseline, e.baseline)
	}
	return e, nil
}

// Baseline is the expected prediction over the training distribution.
func (e *Explainer) Baseline() float64 { return e.baseline }

// Method returns the attribution method in use.
func (e *Explainer) Method() string { return e.method }

// Columns returns the position to feature mapping of attribution vectors.
func (e *Explainer) Columns() []features.Column {
	out := make([]features.Column, len(e.columns))
	copy(out, e.columns)
	return out
}

// FeatureName names the encoded column at position i.
func (e *Explainer) FeatureName(i int) string {
	return e.columns[i].Label()
}

// State returns the persisted form of the explainer.
func (e *Explainer) State() ExplainerState {
	return ExplainerState{Method: e.method, Baseline: e.baseline}
}

// Explain attributes the model's prediction for one encoded vector.
func (e *Explainer) Explain(x []float64) (*Attribution, error) {
	if e == nil || e.model == nil {
		return nil, fmt.Errorf("explainer: %w", common.ErrNotFitted)
	}
	pred, err := e.model.Predict(x)
	if err != nil {
		return nil, err
	}

	phi := make([]float64, len(e.columns))
	scale := 1 / float64(len(e.model.trees))
	for i := range e.model.trees {
		t := &e.model.trees[i]
		switch e.method {
		case common.ExplainTreeSHAP:
			t.shap(x, phi, scale)
		default:
			t.pathContributions(x, phi, scale)
		}
	}

	attr := &Attribution{Baseline: e.baseline, Prediction: pred, Values: phi}
	if err := attr.check(); err != nil {
		return nil, err
	}
	return attr, nil
}

// ExplainBatch explains every row of an encoded matrix.
func (e *Explainer) ExplainBatch(X [][]float64) ([]*Attribution, error) {
	out := make([]*Attribution, len(X))
	for i, x := range X {
		a, err := e.Explain(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// ByColumn labels every encoded attribution.
func (e *Explainer) ByColumn(a *Attribution) []ColumnAttribution {
	out := make([]ColumnAttribution, len(a.Values))
	for i, v := range a.Values {
		out[i] = ColumnAttribution{Column: e.columns[i].Label(), Feature: e.columns[i].Field, Value: v}
	}
	return out
}

// ByField sums column attributions back onto the original input fields, in schema
// order. Every schema field is present, including ones that encode to no columns.
func (e *Explainer) ByField(a *Attribution) []FieldAttribution {
	sums := make(map[string]float64, len(e.columns))
	for i, v := range a.Values {
		sums[e.columns[i].Field] += v
	}
	schema := features.Schema()
	out := make([]FieldAttribution, 0, len(schema))
	for _, f := range schema {
		out = append(out, FieldAttribution{Feature: f.Name, Value: sums[f.Name]})
	}
	return out
}

// Sum returns the total of all column contributions.
func (a *Attribution) Sum() float64 {
	var s float64
	for _, v := range a.Values {
		s += v
	}
	return s
}

func (a *Attribution) check() error {
	diff := a.Baseline + a.Sum() - a.Prediction
	if math.Abs(diff) > common.AttributionTolerance*max(1, math.Abs(a.Prediction)) {
		return errors.New("attributions do not add up to the prediction")
	}
	return nil
}

// TopFields returns the n fields with the largest absolute contribution.
func TopFields(attrs []FieldAttribution, n int) []FieldAttribution {
	out := make([]FieldAttribution, len(attrs))
	copy(out, attrs)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Value) > math.Abs(out[j].Value)
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// pathContributions credits each split on x's path with the change in node value.
func (t *Tree) pathContributions(x, phi []float64, scale float64) {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := t.Nodes[i]
		next := n.Right
		if x[n.Feature] <= n.Threshold {
			next = n.Left
		}
		phi[n.Feature] += (t.Nodes[next].Value - n.Value) * scale
		i = next
	}
}

type pathElement struct {
	feature int
	zero    float64 // fraction of zero paths flowing through this branch
	one     float64 // fraction of one paths flowing through this branch
	weight  float64
}

// shap adds the tree's Shapley values for x, times scale, to phi.
func (t *Tree) shap(x, phi []float64, scale float64) {
	maxd := t.Depth + 2
	path := make([]pathElement, (maxd+1)*(maxd+2)/2)
	t.shapRecurse(0, x, phi, scale, path, 0, 1, 1, -1)
}

func (t *Tree) shapRecurse(nodeIdx int, x, phi []float64, scale float64, parent []pathElement,
	depth int, zero, one float64, feature int) {
	path := parent[depth+1:]
	copy(path[:depth+1], parent[:depth+1])
	extendPath(path, depth, zero, one, feature)

	n := t.Nodes[nodeIdx]
	if n.IsLeaf() {
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * n.Value * scale
		}
		return
	}

	hot, cold := n.Left, n.Right
	if x[n.Feature] > n.Threshold {
		hot, cold = cold, hot
	}
	hotZero := t.Nodes[hot].Cover / n.Cover
	coldZero := t.Nodes[cold].Cover / n.Cover

	inZero, inOne := 1.0, 1.0
	k := 0
	for ; k <= depth; k++ {
		if path[k].feature == n.Feature {
			break
		}
	}
	// A feature split on twice along the path is folded into one element.
	if k <= depth {
		inZero, inOne = path[k].zero, path[k].one
		unwindPath(path, depth, k)
		depth--
	}

	t.shapRecurse(hot, x, phi, scale, path, depth+1, hotZero*inZero, inOne, n.Feature)
	t.shapRecurse(cold, x, phi, scale, path, depth+1, coldZero*inZero, 0, n.Feature)
}

func extendPath(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / d
		path[i].weight = zero * path[i].weight * float64(depth-i) / d
	}
}

func unwindPath(path []pathElement, depth, k int) {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * d / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/d
		} else {
			path[i].weight = path[i].weight * d / (zero * float64(depth-i))
		}
	}
	for i := k; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

func unwoundPathSum(path []pathElement, depth, k int) float64 {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	d := float64(depth + 1)
	var total float64
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/d
		} else {
			total += path[i].weight / zero / (float64(depth-i) / d)
		}
	}
	return total
}
