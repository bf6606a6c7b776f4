package ml

import (
	"errors"
	"fmt"
	"math"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/features"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TrainConfig controls a training run.
type TrainConfig struct {
	Forest         ForestConfig
	ExplainMethod  string
	StrictVariance bool // fail on zero-variance numeric features instead of scaling by 1
	Importance     bool // compute permutation importance on the training set
}

// TrainingReport summarizes a fitted model.
type TrainingReport struct {
	Rows         int                `json:"rows"`
	Columns      int                `json:"columns"`
	Trees        int                `json:"trees"`
	TrainRMSE    float64            `json:"train_rmse"`
	TrainMAE     float64            `json:"train_mae"`
	TrainR2      float64            `json:"train_r2"`
	OOB          *OOBScore          `json:"oob,omitempty"`
	Degenerate   []string           `json:"degenerate,omitempty"`
	Importance   *FeatureImportance `json:"importance,omitempty"`
	TrainingTime time.Duration      `json:"training_time"`
}

// Train fits encoder, forest and explainer on labelled records and bundles them.
func Train(records []features.BookingRecord, prices []float64, cfg TrainConfig) (*TrainedModel, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("train: %w", common.ErrEmptyDataset)
	}
	if len(records) != len(prices) {
		return nil, fmt.Errorf("train: %d records but %d prices", len(records), len(prices))
	}
	for i, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("train: price %d is not finite", i)
		}
	}

	start := time.Now()
	enc := features.NewEncoder()
	X, err := enc.FitTransform(records)
	if err != nil {
		return nil, fmt.Errorf("train encoder: %w", err)
	}

	var degenerate []string
	for _, ns := range enc.State().Numeric {
		if !ns.Degenerate {
			continue
		}
		if cfg.StrictVariance {
			return nil, fmt.Errorf("train encoder: %w", &common.DegenerateFeatureError{Field: ns.Field, Value: ns.Mean})
		}
		degenerate = append(degenerate, ns.Field)
	}

	model := NewPriceModel(cfg.Forest)
	if err := model.Fit(X, prices); err != nil {
		return nil, fmt.Errorf("train forest: %w", err)
	}

	explainer, err := NewExplainer(model, enc.Columns(), cfg.ExplainMethod)
	if err != nil {
		return nil, fmt.Errorf("train explainer: %w", err)
	}

	pred, err := model.PredictBatch(X)
	if err != nil {
		return nil, err
	}
	report := TrainingReport{
		Rows:       len(records),
		Columns:    enc.Width(),
		Trees:      model.Trees(),
		TrainRMSE:  rmse(pred, prices),
		TrainMAE:   mae(pred, prices),
		TrainR2:    rSquared(pred, prices),
		Degenerate: degenerate,
	}
	if oob, ok := model.OOB(); ok {
		report.OOB = &oob
	}
	if cfg.Importance {
		fi, err := CalculatePermutationImportance(model, enc.Columns(), X, prices, cfg.Forest.Seed)
		if err != nil {
			return nil, err
		}
		report.Importance = fi
	}
	report.TrainingTime = time.Since(start)

	m := &TrainedModel{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Report:    report,
		encoder:   enc,
		model:     model,
		explainer: explainer,
	}

	ev := log.Info().
		Str("model_id", m.ID).
		Int("rows", report.Rows).
		Int("columns", report.Columns).
		Int("trees", report.Trees).
		Float64("train_rmse", report.TrainRMSE).
		Float64("train_r2", report.TrainR2).
		Dur("took", report.TrainingTime)
	if report.OOB != nil {
		ev = ev.Float64("oob_rmse", report.OOB.RMSE).Float64("oob_r2", report.OOB.R2)
	}
	ev.Msg("Model trained")
	return m, nil
}

// TrainedModel bundles a fitted encoder, forest and explainer. It is immutable and
// safe for concurrent use.
type TrainedModel struct {
	ID        string
	CreatedAt time.Time
	Report    TrainingReport

	encoder   *features.Encoder
	model     *PriceModel
	explainer *Explainer
}

// Quote is a price estimate with its additive explanation.
type Quote struct {
	ModelID      string              `json:"model_id"`
	Price        float64             `json:"price"`
	Baseline     float64             `json:"baseline"`
	Attributions []FieldAttribution  `json:"attributions"`
	Columns      []ColumnAttribution `json:"columns,omitempty"`
}

// Encoder returns the fitted encoder.
func (m *TrainedModel) Encoder() *features.Encoder { return m.encoder }

// Model returns the fitted forest.
func (m *TrainedModel) Model() *PriceModel { return m.model }

// Explainer returns the bound explainer.
func (m *TrainedModel) Explainer() *Explainer { return m.explainer }

// Predict prices one booking.
func (m *TrainedModel) Predict(rec features.BookingRecord) (float64, error) {
	if m == nil || m.model == nil {
		return 0, errors.New("no model loaded")
	}
	x, err := m.encoder.Transform(rec)
	if err != nil {
		return 0, err
	}
	return m.model.Predict(x)
}

// PredictBatch prices many bookings.
func (m *TrainedModel) PredictBatch(recs []features.BookingRecord) ([]float64, error) {
	if m == nil || m.model == nil {
		return nil, errors.New("no model loaded")
	}
	X, err := m.encoder.TransformBatch(recs)
	if err != nil {
		return nil, err
	}
	return m.model.PredictBatch(X)
}

// Quote prices one booking and explains the price per input field.
func (m *TrainedModel) Quote(rec features.BookingRecord) (*Quote, error) {
	if m == nil || m.model == nil {
		return nil, errors.New("no model loaded")
	}
	x, err := m.encoder.Transform(rec)
	if err != nil {
		return nil, err
	}
	attr, err := m.explainer.Explain(x)
	if err != nil {
		return nil, err
	}
	return &Quote{
		ModelID:      m.ID,
		Price:        attr.Prediction,
		Baseline:     attr.Baseline,
		Attributions: m.explainer.ByField(attr),
		Columns:      m.explainer.ByColumn(attr),
	}, nil
}
