package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// rmse is the root mean squared error between predictions and observed prices.
func rmse(pred, observed []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	return floats.Distance(pred, observed, 2) / math.Sqrt(float64(len(pred)))
}

// rSquared is the coefficient of determination of pred against observed.
func rSquared(pred, observed []float64) float64 {
	if len(pred) < 2 {
		return 0
	}
	return stat.RSquaredFrom(pred, observed, nil)
}

// mae is the mean absolute error between predictions and observed prices.
func mae(pred, observed []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	return floats.Distance(pred, observed, 1) / float64(len(pred))
}
