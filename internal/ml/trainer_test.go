package ml

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/dataset"
	"court-pricer/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain_EndToEnd(t *testing.T) {
	m := trainedModel(t)

	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, 400, m.Report.Rows)
	assert.Equal(t, m.Encoder().Width(), m.Report.Columns)
	assert.Equal(t, 20, m.Report.Trees)
	assert.Greater(t, m.Report.TrainR2, 0.8)
	require.NotNil(t, m.Report.OOB)
	assert.Greater(t, m.Report.OOB.R2, 0.5)
	assert.Empty(t, m.Report.Degenerate)
	assert.Nil(t, m.Report.Importance)

	cheap, err := m.Predict(cheapBooking())
	require.NoError(t, err)
	expensive, err := m.Predict(expensiveBooking())
	require.NoError(t, err)
	assert.Greater(t, expensive, cheap+40)
}

func TestTrainedModel_Quote(t *testing.T) {
	m := trainedModel(t)

	q, err := m.Quote(expensiveBooking())
	require.NoError(t, err)
	assert.Equal(t, m.ID, q.ModelID)
	assert.Equal(t, m.Explainer().Baseline(), q.Baseline)

	price, err := m.Predict(expensiveBooking())
	require.NoError(t, err)
	assert.Equal(t, price, q.Price)

	var total float64
	byName := make(map[string]float64)
	for _, a := range q.Attributions {
		total += a.Value
		byName[a.Feature] = a.Value
	}
	assert.InDelta(t, q.Price, q.Baseline+total, 1e-6*q.Price)
	assert.Greater(t, byName[features.FieldCoachingRequested], 0.0)
	assert.Len(t, q.Columns, m.Encoder().Width())
}

func TestTrainedModel_PredictBatch(t *testing.T) {
	m := trainedModel(t)
	recs := []features.BookingRecord{cheapBooking(), expensiveBooking()}

	batch, err := m.PredictBatch(recs)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for i, rec := range recs {
		p, err := m.Predict(rec)
		require.NoError(t, err)
		assert.Equal(t, p, batch[i])
	}
}

func TestTrain_UnseenCategoryAtQuote(t *testing.T) {
	recs, prices := trainingData(300)
	var keptRecs []features.BookingRecord
	var keptPrices []float64
	for i, r := range recs {
		if r.CourtSurface != features.SurfaceCarpet {
			keptRecs = append(keptRecs, r)
			keptPrices = append(keptPrices, prices[i])
		}
	}

	m, err := Train(keptRecs, keptPrices, TrainConfig{Forest: smallForest()})
	require.NoError(t, err)

	rec := cheapBooking()
	rec.CourtSurface = features.SurfaceCarpet
	_, err = m.Quote(rec)
	var unseen *common.UnseenCategoryError
	require.ErrorAs(t, err, &unseen)
	assert.Equal(t, features.FieldCourtSurface, unseen.Field)
	assert.Equal(t, "Carpet", unseen.Value)
}

func TestTrain_DegenerateFeature(t *testing.T) {
	recs, prices := trainingData(200)
	for i := range recs {
		recs[i].Temperature = 21
	}

	m, err := Train(recs, prices, TrainConfig{Forest: smallForest()})
	require.NoError(t, err)
	assert.Equal(t, []string{features.FieldTemperature}, m.Report.Degenerate)

	rec := cheapBooking()
	rec.Temperature = 35
	_, err = m.Quote(rec)
	assert.NoError(t, err)

	_, err = Train(recs, prices, TrainConfig{Forest: smallForest(), StrictVariance: true})
	var degenerate *common.DegenerateFeatureError
	require.ErrorAs(t, err, &degenerate)
	assert.Equal(t, features.FieldTemperature, degenerate.Field)
}

func TestTrain_Importance(t *testing.T) {
	recs, prices := trainingData(300)
	m, err := Train(recs, prices, TrainConfig{Forest: smallForest(), Importance: true})
	require.NoError(t, err)
	require.NotNil(t, m.Report.Importance)

	fi := m.Report.Importance
	assert.Len(t, fi.Fields, len(features.Schema()))
	for i := 1; i < len(fi.Fields); i++ {
		assert.GreaterOrEqual(t, fi.Fields[i-1].ImportanceScore, fi.Fields[i].ImportanceScore)
	}
	assert.Contains(t, []string{features.FieldCoachingRequested, features.FieldCourtQuality}, fi.GetTopFeatures(1)[0])
	assert.Len(t, fi.GetTopFeatures(100), len(fi.Fields))

	path := filepath.Join(t.TempDir(), "reports", "importance.json")
	require.NoError(t, fi.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved FeatureImportance
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, fi.GetTopFeatures(5), saved.GetTopFeatures(5))
}

func TestTrain_InvalidInput(t *testing.T) {
	recs, prices := trainingData(10)

	_, err := Train(nil, nil, TrainConfig{Forest: smallForest()})
	assert.ErrorIs(t, err, common.ErrEmptyDataset)

	_, err = Train(recs, prices[:5], TrainConfig{Forest: smallForest()})
	assert.Error(t, err)

	_, err = Train(recs, prices, TrainConfig{Forest: smallForest(), ExplainMethod: "lime"})
	assert.Error(t, err)
}

func TestTrainedModel_RejectsInvalidRecord(t *testing.T) {
	m := trainedModel(t)

	tests := []struct {
		name   string
		mutate func(r *features.BookingRecord)
		field  string
	}{
		{"NaN temperature", func(r *features.BookingRecord) { r.Temperature = math.NaN() }, features.FieldTemperature},
		{"three players", func(r *features.BookingRecord) { r.NumPlayers = 3 }, features.FieldNumPlayers},
		{"zero date", func(r *features.BookingRecord) { r.BookingDate = time.Time{} }, features.FieldBookingDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := cheapBooking()
			tt.mutate(&rec)

			var mismatch *common.SchemaMismatchError

			_, err := m.Predict(rec)
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tt.field, mismatch.Field)

			_, err = m.Quote(rec)
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tt.field, mismatch.Field)

			_, err = m.PredictBatch([]features.BookingRecord{cheapBooking(), rec})
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tt.field, mismatch.Field)
		})
	}

	metrics := &MockMetrics{}
	p := NewPredictor(m, metrics)
	rec := cheapBooking()
	rec.NumPlayers = 3
	_, err := p.Quote(rec)
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)
	assert.Equal(t, 1, metrics.Failures("schema_mismatch"))
}

func TestTrainedModel_NilGuards(t *testing.T) {
	var m *TrainedModel

	_, err := m.Predict(cheapBooking())
	assert.Error(t, err)
	_, err = m.PredictBatch([]features.BookingRecord{cheapBooking()})
	assert.Error(t, err)
	_, err = m.Quote(cheapBooking())
	assert.Error(t, err)
}

// Six hundred synthetic bookings with the default forest: raising quality, moving
// indoors and adding coaching must raise the quote, everything else held fixed.
func TestTrain_QualityIndoorCoachingScenario(t *testing.T) {
	samples := dataset.Generator{Rows: common.DefaultSyntheticRows, Seed: common.DefaultSeed, Now: testNow}.Generate()
	recs, prices := dataset.Split(samples)

	for _, method := range []string{common.ExplainPath, common.ExplainTreeSHAP} {
		t.Run(method, func(t *testing.T) {
			m, err := Train(recs, prices, TrainConfig{Forest: DefaultForestConfig(), ExplainMethod: method})
			require.NoError(t, err)

			bases := append([]features.BookingRecord{cheapBooking()}, recs[:10]...)
			for i, base := range bases {
				lo := base
				lo.CourtQuality = features.QualityStandard
				lo.CourtType = features.CourtOutdoor
				lo.CoachingRequested = false

				hi := lo
				hi.CourtQuality = features.QualityElite
				hi.CourtType = features.CourtIndoor
				hi.CoachingRequested = true

				loQuote, err := m.Quote(lo)
				require.NoError(t, err)
				hiQuote, err := m.Quote(hi)
				require.NoError(t, err)
				assert.Greater(t, hiQuote.Price, loQuote.Price, "base booking %d", i)
			}
		})
	}
}
