package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/extract"
	"court-pricer/internal/ml"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelPath   string
	DataPath    string
	DatasetPath string
	LogLevel    string

	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     float64
	Seed            uint64
	Workers         int

	ExplainMethod  string
	StrictVariance bool

	ServerPort    int
	ServerTimeout time.Duration

	Extractor ExtractorSettings
}

type ExtractorSettings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	UseDefaults bool
	Defaults    extract.Defaults
}

type ConfigFile struct {
	System struct {
		DataPath string `yaml:"dataPath"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"system"`

	Data struct {
		DatasetPath string `yaml:"datasetPath"`
	} `yaml:"data"`

	Model struct {
		Path           string          `yaml:"path"`
		Forest         ml.ForestConfig `yaml:"forest"`
		ExplainMethod  string          `yaml:"explainMethod"`
		StrictVariance bool            `yaml:"strictVariance"`
	} `yaml:"model"`

	Server struct {
		Port    int    `yaml:"port"`
		Timeout string `yaml:"timeout"`
	} `yaml:"server"`

	Extractor struct {
		BaseURL     string            `yaml:"baseURL"`
		APIKey      string            `yaml:"apiKey"`
		Model       string            `yaml:"model"`
		Timeout     string            `yaml:"timeout"`
		UseDefaults bool              `yaml:"useDefaults"`
		Defaults    *extract.Defaults `yaml:"defaults"`
	} `yaml:"extractor"`
}

// Load reads CONFIG_FILE when set and falls back to environment variables.
func Load() (Settings, error) {
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return LoadFile(configPath)
	}
	return loadFromEnv()
}

// LoadFile reads a YAML config file. Environment variables override its values.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	serverTimeout, err := time.ParseDuration(config.Server.Timeout)
	if err != nil {
		serverTimeout = 10 * time.Second
	}
	extractorTimeout, err := time.ParseDuration(config.Extractor.Timeout)
	if err != nil {
		extractorTimeout = 15 * time.Second
	}

	forest := config.Model.Forest
	defaults := extract.DefaultDefaults()
	if config.Extractor.Defaults != nil {
		defaults = *config.Extractor.Defaults
	}

	settings := Settings{
		ModelPath:       getEnvOrDefault(common.EnvModelPath, orString(config.Model.Path, common.DefaultModelPath)),
		DataPath:        getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		DatasetPath:     getEnvOrDefault(common.EnvDatasetPath, orString(config.Data.DatasetPath, common.DefaultDatasetPath)),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, orString(config.System.LogLevel, common.DefaultLogLevel)),
		Trees:           getIntFromEnvOrConfig(common.EnvTrees, forest.Trees, common.DefaultTrees),
		MaxDepth:        getIntFromEnvOrConfig(common.EnvMaxDepth, forest.MaxDepth, common.DefaultMaxDepth),
		MinSamplesSplit: getIntFromEnvOrConfig(common.EnvMinSamplesSplit, forest.MinSamplesSplit, common.DefaultMinSamplesSplit),
		MinSamplesLeaf:  getIntFromEnvOrConfig(common.EnvMinSamplesLeaf, forest.MinSamplesLeaf, common.DefaultMinSamplesLeaf),
		MaxFeatures:     getFloatFromEnvOrConfig(common.EnvMaxFeatures, forest.MaxFeatures),
		Seed:            getUintFromEnvOrConfig(common.EnvSeed, forest.Seed, common.DefaultSeed),
		Workers:         getIntFromEnvOrConfig(common.EnvWorkers, forest.Workers, 0),
		ExplainMethod:   getEnvOrDefault(common.EnvExplainMethod, orString(config.Model.ExplainMethod, common.DefaultExplainMethod)),
		StrictVariance:  getBoolFromEnvOrConfig(common.EnvStrictVariance, config.Model.StrictVariance),
		ServerPort:      getIntFromEnvOrConfig(common.EnvServerPort, config.Server.Port, common.DefaultServerPort),
		ServerTimeout:   getDurationOrDefault(common.EnvServerTimeout, serverTimeout),
		Extractor: ExtractorSettings{
			BaseURL:     getEnvOrDefault(common.EnvExtractorBaseURL, orString(config.Extractor.BaseURL, common.DefaultExtractorBaseURL)),
			APIKey:      getEnvOrDefault(common.EnvExtractorAPIKey, config.Extractor.APIKey),
			Model:       getEnvOrDefault(common.EnvExtractorModel, orString(config.Extractor.Model, common.DefaultExtractorModel)),
			Timeout:     getDurationOrDefault(common.EnvExtractorTimeout, extractorTimeout),
			UseDefaults: getBoolFromEnvOrConfig(common.EnvExtractorDefaults, config.Extractor.UseDefaults),
			Defaults:    defaults,
		},
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:       getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		DataPath:        os.Getenv(common.EnvDataPath), // optional
		DatasetPath:     getEnvOrDefault(common.EnvDatasetPath, common.DefaultDatasetPath),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		Trees:           getIntOrDefault(common.EnvTrees, common.DefaultTrees),
		MaxDepth:        getIntOrDefault(common.EnvMaxDepth, common.DefaultMaxDepth),
		MinSamplesSplit: getIntOrDefault(common.EnvMinSamplesSplit, common.DefaultMinSamplesSplit),
		MinSamplesLeaf:  getIntOrDefault(common.EnvMinSamplesLeaf, common.DefaultMinSamplesLeaf),
		MaxFeatures:     getFloatOrDefault(common.EnvMaxFeatures, 0),
		Seed:            getUintOrDefault(common.EnvSeed, common.DefaultSeed),
		Workers:         getIntOrDefault(common.EnvWorkers, 0),
		ExplainMethod:   getEnvOrDefault(common.EnvExplainMethod, common.DefaultExplainMethod),
		StrictVariance:  getBoolOrDefault(common.EnvStrictVariance, false),
		ServerPort:      getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		ServerTimeout:   getDurationOrDefault(common.EnvServerTimeout, 10*time.Second),
		Extractor: ExtractorSettings{
			BaseURL:     getEnvOrDefault(common.EnvExtractorBaseURL, common.DefaultExtractorBaseURL),
			APIKey:      os.Getenv(common.EnvExtractorAPIKey),
			Model:       getEnvOrDefault(common.EnvExtractorModel, common.DefaultExtractorModel),
			Timeout:     getDurationOrDefault(common.EnvExtractorTimeout, 15*time.Second),
			UseDefaults: getBoolOrDefault(common.EnvExtractorDefaults, false),
			Defaults:    extract.DefaultDefaults(),
		},
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Forest returns the forest hyperparameters.
func (s *Settings) Forest() ml.ForestConfig {
	return ml.ForestConfig{
		Trees:           s.Trees,
		MaxDepth:        s.MaxDepth,
		MinSamplesSplit: s.MinSamplesSplit,
		MinSamplesLeaf:  s.MinSamplesLeaf,
		MaxFeatures:     s.MaxFeatures,
		Seed:            s.Seed,
		Workers:         s.Workers,
	}
}

// Train returns the full training configuration.
func (s *Settings) Train() ml.TrainConfig {
	return ml.TrainConfig{
		Forest:         s.Forest(),
		ExplainMethod:  s.ExplainMethod,
		StrictVariance: s.StrictVariance,
	}
}

// ExtractorEnabled reports whether free-text quoting can be served.
func (s *Settings) ExtractorEnabled() bool {
	return s.Extractor.APIKey != ""
}

func (s *Settings) ExtractConfig() extract.Config {
	return extract.Config{
		BaseURL:     s.Extractor.BaseURL,
		APIKey:      s.Extractor.APIKey,
		Model:       s.Extractor.Model,
		Timeout:     s.Extractor.Timeout,
		UseDefaults: s.Extractor.UseDefaults,
		Defaults:    s.Extractor.Defaults,
	}
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getUintOrDefault(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getUintFromEnvOrConfig(key string, configValue, defaultValue uint64) uint64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseUint(env, 10, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	return configValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings checks ranges before anything is trained or served
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	// Forest hyperparameters
	if settings.Trees < common.MinTrees || settings.Trees > common.MaxTrees {
		return fmt.Errorf("trees must be between %d and %d, got %d", common.MinTrees, common.MaxTrees, settings.Trees)
	}
	if settings.MaxDepth < common.MinMaxDepth || settings.MaxDepth > common.MaxMaxDepth {
		return fmt.Errorf("max depth must be between %d and %d, got %d", common.MinMaxDepth, common.MaxMaxDepth, settings.MaxDepth)
	}
	if settings.MinSamplesSplit < 2 {
		return fmt.Errorf("min samples split must be at least 2, got %d", settings.MinSamplesSplit)
	}
	if settings.MinSamplesLeaf < 1 {
		return fmt.Errorf("min samples leaf must be at least 1, got %d", settings.MinSamplesLeaf)
	}
	if settings.MaxFeatures < 0 || settings.MaxFeatures > 1 {
		return fmt.Errorf("max features must be a fraction between 0 and 1, got %f", settings.MaxFeatures)
	}
	if settings.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", settings.Workers)
	}

	switch settings.ExplainMethod {
	case common.ExplainPath, common.ExplainTreeSHAP:
	default:
		return fmt.Errorf("explain method must be %q or %q, got %q", common.ExplainPath, common.ExplainTreeSHAP, settings.ExplainMethod)
	}

	// Server
	if settings.ServerPort < common.MinServerPort || settings.ServerPort > common.MaxServerPort {
		return fmt.Errorf("server port must be between %d and %d, got %d", common.MinServerPort, common.MaxServerPort, settings.ServerPort)
	}
	if settings.ServerTimeout < time.Second || settings.ServerTimeout > 5*time.Minute {
		return fmt.Errorf("server timeout must be between 1s and 5m, got %v", settings.ServerTimeout)
	}

	// Extractor
	if settings.Extractor.BaseURL == "" {
		return fmt.Errorf("extractor base URL cannot be empty")
	}
	if settings.Extractor.Timeout < time.Second || settings.Extractor.Timeout > 2*time.Minute {
		return fmt.Errorf("extractor timeout must be between 1s and 2m, got %v", settings.Extractor.Timeout)
	}
	if d := settings.Extractor.Defaults; d.NumPlayers != 2 && d.NumPlayers != 4 {
		return fmt.Errorf("extractor default players must be 2 or 4, got %d", d.NumPlayers)
	}
	if d := settings.Extractor.Defaults; d.Duration <= 0 {
		return fmt.Errorf("extractor default duration must be positive, got %f", d.Duration)
	}

	return nil
}
