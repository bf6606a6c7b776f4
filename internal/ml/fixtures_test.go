package ml

import (
	"sync"
	"testing"
	"time"

	"court-pricer/internal/dataset"
	"court-pricer/internal/features"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func smallForest() ForestConfig {
	cfg := DefaultForestConfig()
	cfg.Trees = 20
	cfg.MaxDepth = 8
	return cfg
}

func trainingData(rows int) ([]features.BookingRecord, []float64) {
	return dataset.Split(dataset.Generator{Rows: rows, Seed: 7, Now: testNow}.Generate())
}

var (
	sharedOnce  sync.Once
	sharedModel *TrainedModel
	sharedErr   error
)

// trainedModel returns a model fitted once per test binary on 400 synthetic bookings.
func trainedModel(t *testing.T) *TrainedModel {
	t.Helper()
	sharedOnce.Do(func() {
		recs, prices := trainingData(400)
		sharedModel, sharedErr = Train(recs, prices, TrainConfig{Forest: smallForest()})
	})
	require.NoError(t, sharedErr)
	return sharedModel
}

func cheapBooking() features.BookingRecord {
	return features.BookingRecord{
		BookingDate:         time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC),
		BookingTime:         features.TimeOfDay{Hour: 10},
		Duration:            1,
		CourtSurface:        features.SurfaceHard,
		CourtType:           features.CourtOutdoor,
		NumPlayers:          2,
		MatchType:           features.MatchSingles,
		CourtQuality:        features.QualityStandard,
		BookingLeadTime:     3,
		HistoricalDemand:    0.5,
		Temperature:         20,
		PrecipitationChance: 0.1,
	}
}

func expensiveBooking() features.BookingRecord {
	rec := cheapBooking()
	rec.CourtType = features.CourtIndoor
	rec.CourtQuality = features.QualityElite
	rec.CoachingRequested = true
	rec.BallMachine = true
	rec.EquipmentRental = true
	return rec
}
