package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	StoreDriver string
	DatabaseURL string
	SslCertPath string
	SQLitePath  string

	ObjectStore  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIProvider   string
	AIAPIKey     string
	OpenAIAPIKey string
	EmbedModel   string
	EmbedDim     int
	GenModel     string

	EmbedBatchSize    int
	EmbedConcurrency  int
	EmbedRPS          float64
	IngestBatchSize   int
	IngestConcurrency int
	IngestWorkers     int
	RetryCount        int
	RetryInitialDelay time.Duration

	Tokenizer          string
	TopicsFile         string
	SummarizeThreshold int

	JWTSecret string
	Port      string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "docpipe.db"),

		ObjectStore:  getEnv("OBJECT_STORE", "s3"),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "docpipe-docs"),

		AIProvider:   getEnv("AI_PROVIDER", "gemini"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),

		EmbedBatchSize:    getEnvInt("EMBED_BATCH_SIZE", 100),
		EmbedConcurrency:  getEnvInt("EMBED_CONCURRENCY", 2),
		EmbedRPS:          getEnvFloat("EMBED_RPS", 0),
		IngestBatchSize:   getEnvInt("INGEST_BATCH_SIZE", 250),
		IngestConcurrency: getEnvInt("INGEST_CONCURRENCY", 2),
		IngestWorkers:     getEnvInt("INGEST_WORKERS", 2),
		RetryCount:        getEnvInt("RETRY_COUNT", 5),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", time.Second),

		Tokenizer:          getEnv("TOKENIZER", "tiktoken"),
		TopicsFile:         getEnv("TOPICS_FILE", ""),
		SummarizeThreshold: getEnvInt("SUMMARIZE_THRESHOLD", 2000),

		JWTSecret: getEnv("JWT_SECRET", ""),
		Port:      getEnv("PORT", "8080"),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	return cfg
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", c.StoreDriver))
	}

	switch c.AIProvider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER must be gemini or openai, got %q", c.AIProvider))
	}

	if c.EmbedDim <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim))
	}
	if c.IngestConcurrency < 1 || c.IngestConcurrency > 5 {
		errs = append(errs, fmt.Errorf("INGEST_CONCURRENCY must be between 1 and 5, got %d", c.IngestConcurrency))
	}
	if c.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_BATCH_SIZE must be positive, got %d", c.EmbedBatchSize))
	}
	if c.IngestBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.IngestBatchSize))
	}
	if c.RetryCount < 0 {
		errs = append(errs, fmt.Errorf("RETRY_COUNT must not be negative, got %d", c.RetryCount))
	}

	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
