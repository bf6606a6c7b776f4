package ml

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"court-pricer/internal/features"
)

// FeatureStats is the permutation importance of one original input field.
type FeatureStats struct {
	Name             string  `json:"name"`
	Columns          int     `json:"columns"`
	PermutationScore float64 `json:"permutation_score"` // RMSE increase when the field is shuffled
	ImportanceScore  float64 `json:"importance_score"`  // PermutationScore clipped at zero
}

// FeatureImportance ranks original input fields by how much shuffling them hurts
// the model's RMSE.
type FeatureImportance struct {
	BaselineRMSE float64        `json:"baseline_rmse"`
	Fields       []FeatureStats `json:"fields"`
}

// CalculatePermutationImportance shuffles every column belonging to one field with the
// same permutation, so one-hot blocks stay valid, and measures the RMSE change.
func CalculatePermutationImportance(model *PriceModel, columns []features.Column, X [][]float64, y []float64, seed uint64) (*FeatureImportance, error) {
	if len(X) == 0 {
		return &FeatureImportance{}, nil
	}
	pred, err := model.PredictBatch(X)
	if err != nil {
		return nil, fmt.Errorf("importance baseline: %w", err)
	}
	fi := &FeatureImportance{BaselineRMSE: rmse(pred, y)}

	blocks := make(map[string][]int)
	for i, c := range columns {
		blocks[c.Field] = append(blocks[c.Field], i)
	}

	rng := rand.New(rand.NewPCG(seed, uint64(len(X))))
	permuted := make([][]float64, len(X))
	for i := range X {
		permuted[i] = make([]float64, len(X[i]))
	}

	for _, f := range features.Schema() {
		cols := blocks[f.Name]
		stats := FeatureStats{Name: f.Name, Columns: len(cols)}
		if len(cols) > 0 {
			perm := rng.Perm(len(X))
			for i := range X {
				copy(permuted[i], X[i])
				for _, c := range cols {
					permuted[i][c] = X[perm[i]][c]
				}
			}
			shuffled, err := model.PredictBatch(permuted)
			if err != nil {
				return nil, fmt.Errorf("importance of %s: %w", f.Name, err)
			}
			stats.PermutationScore = rmse(shuffled, y) - fi.BaselineRMSE
			stats.ImportanceScore = max(0, stats.PermutationScore)
		}
		fi.Fields = append(fi.Fields, stats)
	}

	sort.SliceStable(fi.Fields, func(i, j int) bool {
		return fi.Fields[i].ImportanceScore > fi.Fields[j].ImportanceScore
	})
	return fi, nil
}

// GetTopFeatures returns the names of the n most important fields.
func (fi *FeatureImportance) GetTopFeatures(n int) []string {
	n = min(n, len(fi.Fields))
	result := make([]string, n)
	for i := 0; i < n; i++ {
		result[i] = fi.Fields[i].Name
	}
	return result
}

// Save writes the ranking as JSON.
func (fi *FeatureImportance) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fi, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
