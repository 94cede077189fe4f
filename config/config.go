package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AWSEndpointURL     string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	InputQueueURL  string
	OutputQueueURL string

	ImagesBucket     string
	RawArchiveBucket string
	PresignTTL       time.Duration

	BrandCatalogPath string

	VisionAPIKey        string
	VisionEndpoint      string
	VisionFeatures      []string
	MaxResults          int
	IncludeRaw          bool
	ConfidenceThreshold float64

	EnableReasoning  bool
	GeminiAPIKey     string
	GeminiModel      string
	GeminiPromptPath string

	RedisHost string
	RedisPort string
	DedupTTL  time.Duration

	DatabaseURL   string
	DBBatchSize   int
	DynamoDBTable string

	OpenSearchURL   string
	OpenSearchIndex string

	NumWorkers    int
	ImageMaxBytes int64
	FetchTimeout  time.Duration

	LogLevel  string
	LogPretty bool
}

// Load reads the worker configuration from the environment. A .env file in
// the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	intVar := func(key string, fallback int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer", key))
			return fallback
		}
		return v
	}
	boolVar := func(key string, fallback bool) bool {
		v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be a boolean", key))
			return fallback
		}
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := time.ParseDuration(getEnv(key, fallback.String()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be a duration", key))
			return fallback
		}
		return v
	}

	threshold, err := strconv.ParseFloat(getEnv("CONFIDENCE_THRESHOLD", "0.5"), 64)
	if err != nil {
		errs = append(errs, "CONFIDENCE_THRESHOLD must be a number")
		threshold = 0.5
	}

	cfg := &Config{
		AWSEndpointURL:      getEnv("AWS_ENDPOINT_URL", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		InputQueueURL:       getEnv("INPUT_QUEUE_URL", ""),
		OutputQueueURL:      getEnv("OUTPUT_QUEUE_URL", ""),
		ImagesBucket:        getEnv("IMAGES_BUCKET", "machine-images"),
		RawArchiveBucket:    getEnv("RAW_ARCHIVE_BUCKET", ""),
		PresignTTL:          durationVar("PRESIGN_TTL", 15*time.Minute),
		BrandCatalogPath:    getEnv("BRAND_CATALOG_PATH", ""),
		VisionAPIKey:        getEnv("VISION_API_KEY", ""),
		VisionEndpoint:      getEnv("VISION_ENDPOINT", "https://vision.googleapis.com/v1"),
		VisionFeatures:      splitList(getEnv("VISION_FEATURES", "")),
		MaxResults:          intVar("MAX_RESULTS", 5),
		IncludeRaw:          boolVar("INCLUDE_RAW", true),
		ConfidenceThreshold: threshold,
		EnableReasoning:     boolVar("ENABLE_REASONING", false),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiPromptPath:    getEnv("GEMINI_PROMPT_PATH", ""),
		RedisHost:           getEnv("REDIS_HOST", ""),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
		DedupTTL:            durationVar("DEDUP_TTL", 24*time.Hour),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DBBatchSize:         intVar("DB_BATCH_SIZE", 25),
		DynamoDBTable:       getEnv("DYNAMODB_TABLE", ""),
		OpenSearchURL:       getEnv("OPENSEARCH_URL", ""),
		OpenSearchIndex:     getEnv("OPENSEARCH_INDEX", "machine_recognitions"),
		NumWorkers:          intVar("NUM_WORKERS", 10),
		ImageMaxBytes:       int64(intVar("IMAGE_MAX_BYTES", 10*1024*1024)),
		FetchTimeout:        durationVar("FETCH_TIMEOUT", 30*time.Second),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogPretty:           boolVar("LOG_PRETTY", false),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	if cfg.InputQueueURL == "" {
		return nil, fmt.Errorf("INPUT_QUEUE_URL is required")
	}
	if cfg.OutputQueueURL == "" {
		return nil, fmt.Errorf("OUTPUT_QUEUE_URL is required")
	}
	if cfg.MaxResults <= 0 {
		return nil, fmt.Errorf("MAX_RESULTS must be positive, got %d", cfg.MaxResults)
	}
	if math.IsNaN(cfg.ConfidenceThreshold) || cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", cfg.ConfidenceThreshold)
	}
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.EnableReasoning && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required when ENABLE_REASONING is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
