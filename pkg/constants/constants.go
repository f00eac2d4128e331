package constants

import "time"

// Application constants
const (
	AppName        = "synthcert"
	AppDescription = "Privacy budget and synthetic data risk assessment"
	AppVersion     = "0.1.0"
	EnvPrefix      = "SYNTHCERT"

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
	DefaultHealthPath  = "/healthz"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"

	DefaultStorageTimeout = 30 * time.Second
	DefaultCacheTTL       = 24 * time.Hour
)

// Differential privacy defaults and safety bands
const (
	DefaultEpsilon     = 1.0
	DefaultDelta       = 1e-5
	DefaultMaxGradNorm = 1.0

	// Noise multiplier safety band
	MinNoiseMultiplier = 0.5
	MaxNoiseMultiplier = 100.0

	// Above this value of 2*steps*ln(1/delta) no meaningful noise multiplier exists
	MaxNoiseProduct = 1e10

	// Ledger hard cap on ingested optimizer steps
	MaxLedgerSteps = 1_000_000

	// Spent epsilon beyond this multiple of the target is a budget violation
	OverspendViolationFactor = 10.0
)

// Config validator thresholds
const (
	SamplingRateErrorThreshold   = 0.5
	SamplingRateWarningThreshold = 0.2
	StepCountErrorThreshold      = 2000
	StepCountWarningThreshold    = 1000
	EpsilonHighWarning           = 50.0
	EpsilonLowWarning            = 0.1
	LowNoiseWarningThreshold     = 1.0
	MinRecommendedDatasetSize    = 100
	MinRecommendedBatchSize      = 32
)

// Evaluation defaults
const (
	DefaultSignificanceLevel  = 0.05
	ModerateSignificanceLevel = 0.01
	DefaultHistogramBins      = 20
	DefaultMixRatio           = 0.5
	DefaultTestFraction       = 0.2
	DefaultRandomSeed         = 42
	DefaultForestTrees        = 50
	DefaultForestMaxDepth     = 12
	DefaultMaxAttackRows      = 5000
	DefaultAttributeBins      = 5
	RegressionUniqueRatio     = 0.05
	DefaultEvaluationTimeout  = 10 * time.Minute
	DefaultPrivacyWeight      = 0.6
	ExactMatchTolerance       = 1e-12
	MissingCategory           = "__missing__"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Storage backends
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
	StorageTypeS3       = "s3"
)

// Sub-test statuses
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

// Evaluation sections
const (
	SectionStatistical = "statistical_similarity"
	SectionMLUtility   = "ml_utility"
	SectionPrivacy     = "privacy"
)

// Privacy attack sub-tests
const (
	TestDistanceToClosestRecord = "distance_to_closest_record"
	TestMembershipInference     = "membership_inference"
	TestAttributeInference      = "attribute_inference"
	TestCorrelation             = "correlation"
)

// Risk labels shared by the attack evaluator
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Quality and privacy labels
const (
	QualityExcellent = "Excellent"
	QualityGood      = "Good"
	QualityFair      = "Fair"
	QualityPoor      = "Poor"
	LevelUnknown     = "Unknown"
)

// Column-level similarity labels
const (
	SimilarityExcellent = "excellent"
	SimilarityGood      = "good"
	SimilarityFair      = "fair"
	SimilarityPoor      = "poor"

	TestPassed   = "passed"
	TestModerate = "moderate"
	TestFailed   = "failed"
)

// Completeness labels
const (
	CompletenessComplete   = "Complete"
	CompletenessMostly     = "Mostly Complete"
	CompletenessPartial    = "Partial"
	CompletenessIncomplete = "Incomplete"
)

// Overall risk levels
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// ML task types
const (
	TaskClassification = "classification"
	TaskRegression     = "regression"
)
