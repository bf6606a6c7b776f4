package ml

import (
	"errors"
	"sync/atomic"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/features"

	"github.com/rs/zerolog/log"
)

// ErrNoModel is returned when a Predictor has no active model.
var ErrNoModel = errors.New("no active model")

// Predictor serves quotes from the active TrainedModel and records metrics. The
// active model can be swapped atomically while requests are in flight.
type Predictor struct {
	current atomic.Pointer[TrainedModel]
	metrics MetricsInterface
}

// NewPredictor wraps m. metrics may be nil.
func NewPredictor(m *TrainedModel, metrics MetricsInterface) *Predictor {
	p := &Predictor{metrics: metrics}
	if m != nil {
		p.Swap(m)
	}
	return p
}

// Swap installs m as the active model and returns the previous one.
func (p *Predictor) Swap(m *TrainedModel) *TrainedModel {
	prev := p.current.Swap(m)
	if m != nil {
		log.Info().Str("model_id", m.ID).Time("created_at", m.CreatedAt).Msg("Active model installed")
		p.updateModelAge()
	}
	return prev
}

// Model returns the active model, or nil.
func (p *Predictor) Model() *TrainedModel {
	return p.current.Load()
}

func (p *Predictor) Predict(rec features.BookingRecord) (float64, error) {
	q, err := p.Quote(rec)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

func (p *Predictor) Quote(rec features.BookingRecord) (*Quote, error) {
	start := time.Now()
	m := p.current.Load()
	if m == nil {
		p.fail("no_model")
		return nil, ErrNoModel
	}

	q, err := m.Quote(rec)
	if err != nil {
		p.fail(failureReason(err))
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.PredictionsInc()
		p.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
		p.metrics.PredictedPriceObserve(q.Price)
		p.updateModelAge()
	}
	return q, nil
}

func (p *Predictor) updateModelAge() {
	m := p.current.Load()
	if p.metrics == nil || m == nil {
		return
	}
	p.metrics.ModelAgeSet(time.Since(m.CreatedAt).Seconds())
}

func (p *Predictor) fail(reason string) {
	if p.metrics != nil {
		p.metrics.PredictionFailuresInc(reason)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, common.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, common.ErrUnseenCategory):
		return "unseen_category"
	case errors.Is(err, common.ErrDimensionMismatch):
		return "dimension_mismatch"
	default:
		return "internal"
	}
}
