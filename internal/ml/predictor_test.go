package ml

import (
	"sync"
	"testing"

	"court-pricer/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictor_NoModel(t *testing.T) {
	metrics := &MockMetrics{}
	p := NewPredictor(nil, metrics)

	_, err := p.Quote(cheapBooking())
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Equal(t, 1, metrics.Failures("no_model"))
	assert.Equal(t, 0, metrics.Predictions())
}

func TestPredictor_QuoteRecordsMetrics(t *testing.T) {
	metrics := &MockMetrics{}
	p := NewPredictor(trainedModel(t), metrics)

	q, err := p.Quote(expensiveBooking())
	require.NoError(t, err)
	price, err := p.Predict(expensiveBooking())
	require.NoError(t, err)
	assert.Equal(t, q.Price, price)
	assert.Equal(t, 2, metrics.Predictions())

	rec := cheapBooking()
	rec.CourtSurface = features.Surface("Asphalt")
	_, err = p.Quote(rec)
	assert.Error(t, err)
	assert.Equal(t, 1, metrics.Failures("unseen_category"))
}

func TestPredictor_Swap(t *testing.T) {
	p := NewPredictor(nil, nil)
	assert.Nil(t, p.Model())

	m := trainedModel(t)
	assert.Nil(t, p.Swap(m))
	assert.Same(t, m, p.Model())

	other := modelAt(t, "swapped", testNow)
	assert.Same(t, m, p.Swap(other))

	q, err := p.Quote(cheapBooking())
	require.NoError(t, err)
	assert.Equal(t, "swapped", q.ModelID)
}

func TestPredictor_Concurrent(t *testing.T) {
	m := trainedModel(t)
	p := NewPredictor(m, &MockMetrics{})
	want, err := p.Predict(cheapBooking())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				p.Swap(m)
			}
			got, err := p.Predict(cheapBooking())
			if err == nil && got != want {
				err = assert.AnError
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestFailureReason(t *testing.T) {
	_, err := features.DecodeRecord([]byte(`{}`))
	assert.Equal(t, "schema_mismatch", failureReason(err))
	assert.Equal(t, "internal", failureReason(assert.AnError))
}
