package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"court-pricer/internal/dataset"
	"court-pricer/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), "courtprice %v", args)
	return out.String()
}

func TestCLI_GenerateTrainPredict(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MODEL_PATH", filepath.Join(dir, "model.json"))
	t.Setenv("DATA_PATH", filepath.Join(dir, "db"))
	t.Setenv("DATASET_PATH", filepath.Join(dir, "bookings.csv"))
	t.Setenv("FOREST_TREES", "10")
	t.Setenv("LOG_LEVEL", "warn")

	run(t, "generate", "--rows", "200", "--store")
	samples, err := dataset.LoadCSV(filepath.Join(dir, "bookings.csv"))
	require.NoError(t, err)
	require.Len(t, samples, 200)

	run(t, "train", "--from", "store", "--importance", filepath.Join(dir, "importance.json"))
	_, err = os.Stat(filepath.Join(dir, "importance.json"))
	require.NoError(t, err)

	listing := run(t, "models", "ls")
	assert.Contains(t, listing, "VERSION")
	assert.Contains(t, listing, "*")

	recordPath := filepath.Join(dir, "booking.json")
	data, err := json.Marshal(samples[0].Record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(recordPath, data, 0o600))

	var q ml.Quote
	require.NoError(t, json.Unmarshal([]byte(run(t, "predict", "--file", recordPath)), &q))
	assert.NotEmpty(t, q.ModelID)
	assert.Greater(t, q.Price, 0.0)

	var total float64
	for _, a := range q.Attributions {
		total += a.Value
	}
	assert.InDelta(t, q.Price, q.Baseline+total, 1e-6*q.Price)
}

func TestReadRecord_Stdin(t *testing.T) {
	samples := dataset.Generator{Rows: 1, Seed: 3}.Generate()
	data, err := json.Marshal(samples[0].Record)
	require.NoError(t, err)

	rec, err := readRecord(bytes.NewReader(data), "-")
	require.NoError(t, err)
	assert.Equal(t, samples[0].Record, rec)

	_, err = readRecord(bytes.NewReader([]byte(`{}`)), "-")
	assert.Error(t, err)
}
