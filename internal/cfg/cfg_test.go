package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"court-pricer/internal/features"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "MODEL_PATH", "DATA_PATH", "DATASET_PATH", "LOG_LEVEL",
		"FOREST_TREES", "FOREST_MAX_DEPTH", "FOREST_MIN_SAMPLES_SPLIT", "FOREST_MIN_SAMPLES_LEAF",
		"FOREST_MAX_FEATURES", "FOREST_SEED", "FOREST_WORKERS", "EXPLAIN_METHOD", "STRICT_VARIANCE",
		"SERVER_PORT", "SERVER_TIMEOUT", "EXTRACTOR_BASE_URL", "EXTRACTOR_API_KEY",
		"EXTRACTOR_MODEL", "EXTRACTOR_TIMEOUT", "EXTRACTOR_DEFAULTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelPath != "models/trained_model.json" {
					t.Errorf("expected default ModelPath, got %s", settings.ModelPath)
				}
				if settings.Trees != 100 || settings.MaxDepth != 10 {
					t.Errorf("expected 100 trees of depth 10, got %d/%d", settings.Trees, settings.MaxDepth)
				}
				if settings.Seed != 42 {
					t.Errorf("expected default seed 42, got %d", settings.Seed)
				}
				if settings.ExplainMethod != "path" {
					t.Errorf("expected default explain method path, got %s", settings.ExplainMethod)
				}
				if settings.ServerPort != 8080 {
					t.Errorf("expected default port 8080, got %d", settings.ServerPort)
				}
				if settings.ExtractorEnabled() {
					t.Error("extractor should be disabled without an API key")
				}
			},
		},
		{
			name: "custom forest and server",
			envVars: map[string]string{
				"FOREST_TREES":        "250",
				"FOREST_MAX_DEPTH":    "12",
				"FOREST_MAX_FEATURES": "0.5",
				"FOREST_SEED":         "7",
				"EXPLAIN_METHOD":      "treeshap",
				"STRICT_VARIANCE":     "true",
				"SERVER_PORT":         "9090",
				"SERVER_TIMEOUT":      "30s",
				"EXTRACTOR_API_KEY":   "sk-test",
				"EXTRACTOR_DEFAULTS":  "true",
			},
			validate: func(t *testing.T, settings Settings) {
				forest := settings.Forest()
				if forest.Trees != 250 || forest.MaxDepth != 12 || forest.MaxFeatures != 0.5 || forest.Seed != 7 {
					t.Errorf("unexpected forest config %+v", forest)
				}
				if !settings.StrictVariance {
					t.Error("expected StrictVariance")
				}
				if settings.Train().ExplainMethod != "treeshap" {
					t.Errorf("expected treeshap, got %s", settings.Train().ExplainMethod)
				}
				if settings.ServerTimeout != 30*time.Second {
					t.Errorf("expected 30s timeout, got %v", settings.ServerTimeout)
				}
				if !settings.ExtractorEnabled() || !settings.ExtractConfig().UseDefaults {
					t.Error("expected extractor enabled with defaults")
				}
			},
		},
		{
			name:    "invalid explain method",
			envVars: map[string]string{"EXPLAIN_METHOD": "lime"},
			wantErr: true,
		},
		{
			name:    "too many trees",
			envVars: map[string]string{"FOREST_TREES": "5000"},
			wantErr: true,
		},
		{
			name:    "privileged port",
			envVars: map[string]string{"SERVER_PORT": "80"},
			wantErr: true,
		},
		{
			name:    "unparsable values fall back to defaults",
			envVars: map[string]string{"FOREST_TREES": "many", "SERVER_TIMEOUT": "soon"},
			validate: func(t *testing.T, settings Settings) {
				if settings.Trees != 100 {
					t.Errorf("expected default trees, got %d", settings.Trees)
				}
				if settings.ServerTimeout != 10*time.Second {
					t.Errorf("expected default timeout, got %v", settings.ServerTimeout)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			settings, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	yamlContent := `
system:
  dataPath: /var/lib/court
  logLevel: debug
data:
  datasetPath: data/bookings.csv
model:
  path: models/court.json
  forest:
    trees: 50
    maxDepth: 8
    minSamplesLeaf: 2
    seed: 99
  explainMethod: treeshap
server:
  port: 9000
  timeout: 20s
extractor:
  apiKey: sk-yaml
  model: local-llm
  useDefaults: true
  defaults:
    duration: 1.5
    courtSurface: Clay
    courtType: Outdoor
    numPlayers: 4
    matchType: Doubles
    courtQuality: Premium
    historicalDemand: 0.7
    temperature: 24
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FOREST_TREES", "75")

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if settings.Trees != 75 {
		t.Errorf("environment should override config trees, got %d", settings.Trees)
	}
	if settings.MaxDepth != 8 || settings.MinSamplesLeaf != 2 || settings.Seed != 99 {
		t.Errorf("unexpected forest settings %+v", settings.Forest())
	}
	if settings.MinSamplesSplit != 2 {
		t.Errorf("expected default min samples split, got %d", settings.MinSamplesSplit)
	}
	if settings.ModelPath != "models/court.json" || settings.DataPath != "/var/lib/court" {
		t.Errorf("unexpected paths %s %s", settings.ModelPath, settings.DataPath)
	}
	if settings.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", settings.LogLevel)
	}
	if settings.ServerPort != 9000 || settings.ServerTimeout != 20*time.Second {
		t.Errorf("unexpected server settings %d %v", settings.ServerPort, settings.ServerTimeout)
	}
	if settings.Extractor.Model != "local-llm" || settings.Extractor.Timeout != 15*time.Second {
		t.Errorf("unexpected extractor settings %+v", settings.Extractor)
	}
	d := settings.ExtractConfig().Defaults
	if d.CourtSurface != features.SurfaceClay || d.NumPlayers != 4 || d.CourtQuality != features.QualityPremium {
		t.Errorf("unexpected extractor defaults %+v", d)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("model: [unclosed"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}

	path = filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(path, []byte("model:\n  explainMethod: lime\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected validation error for unknown explain method")
	}
}
