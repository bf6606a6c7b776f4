package ml

import (
	"math"
	"testing"

	"court-pricer/internal/common"
	"court-pricer/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoColumns = []features.Column{
	{Field: features.FieldDuration, Kind: features.Numeric},
	{Field: features.FieldTemperature, Kind: features.Numeric},
}

// andTree predicts 1 only when both columns exceed 0.5, with one training row per leaf.
func andTree(t *testing.T) *PriceModel {
	t.Helper()
	m, err := NewPriceModelFromState(ForestState{Width: 2, Trees: []Tree{{Depth: 2, Nodes: []Node{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 4, Value: 0.25, Cover: 4},
		{Feature: 1, Threshold: 0.5, Left: 2, Right: 3, Value: 0, Cover: 2},
		{Feature: -1, Value: 0, Cover: 1},
		{Feature: -1, Value: 0, Cover: 1},
		{Feature: 1, Threshold: 0.5, Left: 5, Right: 6, Value: 0.5, Cover: 2},
		{Feature: -1, Value: 0, Cover: 1},
		{Feature: -1, Value: 1, Cover: 1},
	}}}})
	require.NoError(t, err)
	return m
}

func TestExplainer_StumpMethodsAgree(t *testing.T) {
	m, err := NewPriceModelFromState(ForestState{Width: 2, Trees: []Tree{{Depth: 1, Nodes: []Node{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Value: 15, Cover: 10},
		{Feature: -1, Value: 10, Cover: 5},
		{Feature: -1, Value: 20, Cover: 5},
	}}}})
	require.NoError(t, err)

	for _, method := range []string{common.ExplainPath, common.ExplainTreeSHAP} {
		e, err := NewExplainer(m, twoColumns, method)
		require.NoError(t, err)
		assert.Equal(t, 15.0, e.Baseline())

		a, err := e.Explain([]float64{0, 3})
		require.NoError(t, err, method)
		assert.InDelta(t, -5, a.Values[0], 1e-12, method)
		assert.InDelta(t, 0, a.Values[1], 1e-12, method)
		assert.Equal(t, 10.0, a.Prediction)
	}
}

func TestExplainer_TreeSHAPIsSymmetric(t *testing.T) {
	m := andTree(t)

	shap, err := NewExplainer(m, twoColumns, common.ExplainTreeSHAP)
	require.NoError(t, err)
	a, err := shap.Explain([]float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.375, a.Values[0], 1e-12)
	assert.InDelta(t, 0.375, a.Values[1], 1e-12)

	path, err := NewExplainer(m, twoColumns, common.ExplainPath)
	require.NoError(t, err)
	p, err := path.Explain([]float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, p.Values[0], 1e-12)
	assert.InDelta(t, 0.5, p.Values[1], 1e-12)

	// temperature never changes the path for x0 = 0 but still gets Shapley credit.
	b, err := shap.Explain([]float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, -0.375, b.Values[0], 1e-12)
	assert.InDelta(t, 0.125, b.Values[1], 1e-12)

	q, err := path.Explain([]float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, -0.25, q.Values[0], 1e-12)
	assert.InDelta(t, 0, q.Values[1], 1e-12)
}

func TestExplainer_SumLaw(t *testing.T) {
	recs, prices := trainingData(300)

	for _, method := range []string{common.ExplainPath, common.ExplainTreeSHAP} {
		t.Run(method, func(t *testing.T) {
			m, err := Train(recs, prices, TrainConfig{Forest: smallForest(), ExplainMethod: method})
			require.NoError(t, err)

			X, err := m.Encoder().TransformBatch(recs[:60])
			require.NoError(t, err)
			attrs, err := m.Explainer().ExplainBatch(X)
			require.NoError(t, err)

			for i, a := range attrs {
				assert.Len(t, a.Values, m.Encoder().Width())
				assert.InDelta(t, a.Prediction, a.Baseline+a.Sum(), common.AttributionTolerance*math.Max(1, math.Abs(a.Prediction)), "row %d", i)

				pred, err := m.Model().Predict(X[i])
				require.NoError(t, err)
				assert.Equal(t, pred, a.Prediction)
			}
		})
	}
}

func TestExplainer_BaselineIsMeanRootValue(t *testing.T) {
	m := trainedModel(t)
	var sum float64
	for _, tree := range m.Model().State().Trees {
		sum += tree.Nodes[0].Value
	}
	want := sum / float64(m.Model().Trees())
	assert.InDelta(t, want, m.Explainer().Baseline(), 1e-9)

	_, prices := trainingData(400)
	var mean float64
	for _, p := range prices {
		mean += p
	}
	mean /= float64(len(prices))
	assert.InEpsilon(t, mean, m.Explainer().Baseline(), 0.05)
}

func TestExplainer_ByFieldAndColumn(t *testing.T) {
	m := trainedModel(t)
	x, err := m.Encoder().Transform(expensiveBooking())
	require.NoError(t, err)
	a, err := m.Explainer().Explain(x)
	require.NoError(t, err)

	byField := m.Explainer().ByField(a)
	schema := features.Schema()
	require.Len(t, byField, len(schema))
	var total float64
	for i, fa := range byField {
		assert.Equal(t, schema[i].Name, fa.Feature)
		total += fa.Value
	}
	assert.InDelta(t, a.Sum(), total, 1e-9)

	byColumn := m.Explainer().ByColumn(a)
	require.Len(t, byColumn, m.Encoder().Width())
	for i, ca := range byColumn {
		assert.Equal(t, m.Explainer().FeatureName(i), ca.Column)
		assert.Equal(t, a.Values[i], ca.Value)
	}

	top := TopFields(byField, 3)
	require.Len(t, top, 3)
	assert.GreaterOrEqual(t, math.Abs(top[0].Value), math.Abs(top[1].Value))
	assert.GreaterOrEqual(t, math.Abs(top[1].Value), math.Abs(top[2].Value))
}

func TestExplainer_Errors(t *testing.T) {
	m := andTree(t)

	_, err := NewExplainer(NewPriceModel(smallForest()), twoColumns, "")
	assert.ErrorIs(t, err, common.ErrNotFitted)

	_, err = NewExplainer(m, twoColumns[:1], "")
	assert.ErrorIs(t, err, common.ErrDimensionMismatch)

	_, err = NewExplainer(m, twoColumns, "lime")
	assert.Error(t, err)

	e, err := NewExplainer(m, twoColumns, "")
	require.NoError(t, err)
	assert.Equal(t, common.ExplainPath, e.Method())

	_, err = e.Explain([]float64{1})
	assert.ErrorIs(t, err, common.ErrDimensionMismatch)

	_, err = NewExplainerFromState(m, twoColumns, ExplainerState{Method: common.ExplainPath, Baseline: 3})
	assert.Error(t, err)
	restored, err := NewExplainerFromState(m, twoColumns, e.State())
	require.NoError(t, err)
	assert.Equal(t, e.Baseline(), restored.Baseline())
}
