// Package dataset produces and persists labelled court bookings: a seeded synthetic
// generator and CSV import/export.
package dataset

import (
	"math"
	"math/rand/v2"
	"time"

	"court-pricer/internal/features"
)

// Sample is one booking together with the price that was paid for it.
type Sample struct {
	Record features.BookingRecord `json:"record"`
	Price  float64                `json:"price"`
}

// Split separates samples into records and prices.
func Split(samples []Sample) ([]features.BookingRecord, []float64) {
	recs := make([]features.BookingRecord, len(samples))
	prices := make([]float64, len(samples))
	for i, s := range samples {
		recs[i] = s.Record
		prices[i] = s.Price
	}
	return recs, prices
}

var durations = []float64{1, 1.5, 2, 2.5, 3}

// Generator draws synthetic bookings over the year preceding Now.
type Generator struct {
	Rows int
	Seed uint64
	Now  time.Time
}

// Generate returns Rows samples. The same Seed and Now always give the same output.
func (g Generator) Generate() []Sample {
	rng := rand.New(rand.NewPCG(g.Seed, 0x636f757274))
	now := g.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	start := now.AddDate(-1, 0, 0)
	span := now.Sub(start)

	out := make([]Sample, g.Rows)
	for i := range out {
		at := start.Add(time.Duration(rng.Int64N(int64(span)))).Truncate(time.Minute)
		rec := features.BookingRecord{
			BookingDate:         time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC),
			BookingTime:         features.TimeOfDayOf(at),
			Duration:            durations[rng.IntN(len(durations))],
			CourtSurface:        features.Surfaces[rng.IntN(len(features.Surfaces))],
			CourtType:           features.CourtTypes[rng.IntN(len(features.CourtTypes))],
			CourtLighting:       rng.IntN(2) == 1,
			NumPlayers:          features.PlayerCounts[rng.IntN(len(features.PlayerCounts))],
			MatchType:           features.MatchTypes[rng.IntN(len(features.MatchTypes))],
			EquipmentRental:     rng.IntN(2) == 1,
			CoachingRequested:   rng.IntN(2) == 1,
			BallMachine:         rng.IntN(2) == 1,
			Refreshments:        rng.IntN(2) == 1,
			CourtQuality:        features.Qualities[rng.IntN(len(features.Qualities))],
			BookingLeadTime:     rng.IntN(30),
			HistoricalDemand:    rng.Float64(),
			Temperature:         20 + 5*rng.NormFloat64(),
			PrecipitationChance: rng.Float64(),
			SpecialRequests:     rng.IntN(2) == 1,
		}
		noise := 0.9 + 0.2*rng.Float64()
		out[i] = Sample{Record: rec, Price: math.Round(ReferencePrice(rec)*noise*100) / 100}
	}
	return out
}

// ReferencePrice is the noiseless price rule behind the synthetic data.
func ReferencePrice(r features.BookingRecord) float64 {
	price := 30.0
	switch r.CourtQuality {
	case features.QualityPremium:
		price *= 1.5
	case features.QualityElite:
		price *= 2
	}
	if r.CourtType == features.CourtIndoor {
		price *= 1.2
	}
	if r.CoachingRequested {
		price += 40
	}
	if r.BallMachine {
		price += 15
	}
	if r.EquipmentRental {
		price += 10
	}
	return price
}
