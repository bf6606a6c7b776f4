package common

// Environment variable keys
const (
	EnvConfigFile        = "CONFIG_FILE"
	EnvModelPath         = "MODEL_PATH"
	EnvDataPath          = "DATA_PATH"
	EnvDatasetPath       = "DATASET_PATH"
	EnvLogLevel          = "LOG_LEVEL"
	EnvTrees             = "FOREST_TREES"
	EnvMaxDepth          = "FOREST_MAX_DEPTH"
	EnvMinSamplesSplit   = "FOREST_MIN_SAMPLES_SPLIT"
	EnvMinSamplesLeaf    = "FOREST_MIN_SAMPLES_LEAF"
	EnvMaxFeatures       = "FOREST_MAX_FEATURES"
	EnvSeed              = "FOREST_SEED"
	EnvWorkers           = "FOREST_WORKERS"
	EnvExplainMethod     = "EXPLAIN_METHOD"
	EnvStrictVariance    = "STRICT_VARIANCE"
	EnvServerPort        = "SERVER_PORT"
	EnvServerTimeout     = "SERVER_TIMEOUT"
	EnvExtractorBaseURL  = "EXTRACTOR_BASE_URL"
	EnvExtractorAPIKey   = "EXTRACTOR_API_KEY"
	EnvExtractorModel    = "EXTRACTOR_MODEL"
	EnvExtractorTimeout  = "EXTRACTOR_TIMEOUT"
	EnvExtractorDefaults = "EXTRACTOR_DEFAULTS"
)

// Configuration defaults
const (
	DefaultModelPath        = "models/trained_model.json"
	DefaultDatasetPath      = "data/court_bookings.csv"
	DefaultLogLevel         = "info"
	DefaultTrees            = 100
	DefaultMaxDepth         = 10
	DefaultMinSamplesSplit  = 2
	DefaultMinSamplesLeaf   = 1
	DefaultSeed             = 42
	DefaultExplainMethod    = "path"
	DefaultServerPort       = 8080
	DefaultExtractorBaseURL = "https://api.openai.com/v1"
	DefaultExtractorModel   = "gpt-4o-mini"
	DefaultSyntheticRows    = 600
)

// Explanation methods
const (
	ExplainPath     = "path"
	ExplainTreeSHAP = "treeshap"
)

// Validation constants
const (
	MinTrees      = 1
	MaxTrees      = 2000
	MinMaxDepth   = 1
	MaxMaxDepth   = 64
	MinServerPort = 1024
	MaxServerPort = 65535
)

// Tolerance used when checking that baseline plus attributions reproduce a prediction.
const AttributionTolerance = 1e-6
