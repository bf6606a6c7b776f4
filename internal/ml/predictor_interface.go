// Package ml provides the court price model: a random forest regressor over encoded
// bookings, additive per-prediction explanations, training, model persistence and
// versioning, and the HTTP surface that serves quotes.
package ml

import "court-pricer/internal/features"

// Pricer prices bookings and explains the result. Implementations must be safe for
// concurrent use.
type Pricer interface {
	// Predict returns the estimated price of one booking.
	Predict(rec features.BookingRecord) (float64, error)

	// Quote returns the price together with per-field attributions.
	Quote(rec features.BookingRecord) (*Quote, error)
}

// MetricsInterface defines the metrics the predictor and server report.
type MetricsInterface interface {
	PredictionsInc()
	PredictionFailuresInc(reason string)
	PredictionLatencyObserve(seconds float64)
	PredictedPriceObserve(price float64)
	ModelAgeSet(seconds float64)
	WSConnectionsAdd(delta float64)
	ExtractionsInc()
	ExtractionFailuresInc()
}

var (
	_ Pricer = (*TrainedModel)(nil)
	_ Pricer = (*Predictor)(nil)
)
