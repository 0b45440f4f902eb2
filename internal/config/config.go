package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/felipepmaragno/vertex-gateway/internal/translate"
	"github.com/felipepmaragno/vertex-gateway/internal/usage"
	"github.com/joho/godotenv"
)

const DefaultModel = "minimaxai/minimax-m2-maas"

var (
	ErrMissingBackendURL = errors.New("BACKEND_BASE_URL is required")
	ErrMissingKeySource  = errors.New("one of SERVICE_ACCOUNT_FILE or SERVICE_ACCOUNT_SECRET is required")
	ErrMissingRegion     = errors.New("AWS_REGION is required for the configured AWS integrations")
	ErrIncompletePricing = errors.New("BACKEND_INPUT_PRICE and BACKEND_OUTPUT_PRICE must be set together")
)

type Config struct {
	Addr     string
	LogLevel string
	LogFile  string

	BackendBaseURL string
	BackendModel   string
	StreamMode     translate.StreamMode

	// Service-account key material: a local file, or an AWS Secrets Manager
	// secret name.
	ServiceAccountFile   string
	ServiceAccountSecret string
	TokenScope           string
	TokenRefreshMargin   time.Duration
	TokenLifetime        time.Duration

	// Shared token store
	RedisURL      string
	EncryptionKey string

	// Usage recording. BackendPricing, when set, prices BackendModel in USD
	// per million tokens.
	BackendPricing *usage.ModelPricing
	UsageLogFile   string
	DatabaseURL    string
	UsageQueueURL  string

	AlertTopicARN string
	AlertCooldown time.Duration
	AWSRegion     string

	OTLPEndpoint    string
	OTLPSampleRatio float64

	BackendConnectTimeout time.Duration
	BackendReadTimeout    time.Duration
	BackendRequestTimeout time.Duration
	StreamIdleTimeout     time.Duration

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, fills in variables that are not already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	streamMode, err := translate.ParseStreamMode(getEnv("STREAM_MODE", string(translate.StreamModePassthrough)))
	if err != nil {
		return nil, fmt.Errorf("STREAM_MODE: %w", err)
	}

	cfg := &Config{
		Addr:                  getEnv("ADDR", ":8000"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFile:               getEnv("LOG_FILE", ""),
		BackendBaseURL:        getEnv("BACKEND_BASE_URL", ""),
		BackendModel:          getEnv("BACKEND_MODEL", DefaultModel),
		StreamMode:            streamMode,
		ServiceAccountFile:    getEnv("SERVICE_ACCOUNT_FILE", ""),
		ServiceAccountSecret:  getEnv("SERVICE_ACCOUNT_SECRET", ""),
		TokenScope:            getEnv("TOKEN_SCOPE", "https://www.googleapis.com/auth/cloud-platform"),
		TokenRefreshMargin:    getDurationEnv("TOKEN_REFRESH_MARGIN", 300*time.Second),
		TokenLifetime:         getDurationEnv("TOKEN_LIFETIME", 3600*time.Second),
		RedisURL:              getEnv("REDIS_URL", ""),
		EncryptionKey:         getEnv("ENCRYPTION_KEY", ""),
		UsageLogFile:          getEnv("USAGE_LOG_FILE", ".token_usage.log"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		UsageQueueURL:         getEnv("USAGE_QUEUE_URL", ""),
		AlertTopicARN:         getEnv("ALERT_TOPIC_ARN", ""),
		AlertCooldown:         getDurationEnv("ALERT_COOLDOWN", 15*time.Minute),
		AWSRegion:             getEnv("AWS_REGION", ""),
		OTLPEndpoint:          getEnv("OTLP_ENDPOINT", ""),
		OTLPSampleRatio:       getFloatEnv("OTLP_SAMPLE_RATIO", 1.0),
		BackendConnectTimeout: getDurationEnv("BACKEND_CONNECT_TIMEOUT", 10*time.Second),
		BackendReadTimeout:    getDurationEnv("BACKEND_READ_TIMEOUT", 120*time.Second),
		BackendRequestTimeout: getDurationEnv("BACKEND_REQUEST_TIMEOUT", 300*time.Second),
		StreamIdleTimeout:     getDurationEnv("STREAM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:       getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	cfg.BackendPricing, err = loadPricing()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPricing() (*usage.ModelPricing, error) {
	input, inputSet, err := getPriceEnv("BACKEND_INPUT_PRICE")
	if err != nil {
		return nil, err
	}
	output, outputSet, err := getPriceEnv("BACKEND_OUTPUT_PRICE")
	if err != nil {
		return nil, err
	}

	switch {
	case !inputSet && !outputSet:
		return nil, nil
	case inputSet != outputSet:
		return nil, ErrIncompletePricing
	}

	return &usage.ModelPricing{InputPerMillion: input, OutputPerMillion: output}, nil
}

func (c *Config) Validate() error {
	if c.BackendBaseURL == "" {
		return ErrMissingBackendURL
	}
	if c.ServiceAccountFile == "" && c.ServiceAccountSecret == "" {
		return ErrMissingKeySource
	}
	if c.AWSRegion == "" && (c.ServiceAccountSecret != "" || c.UsageQueueURL != "" || c.AlertTopicARN != "") {
		return ErrMissingRegion
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getPriceEnv(key string) (float64, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false, nil
	}
	price, err := strconv.ParseFloat(value, 64)
	if err != nil || price < 0 {
		return 0, false, fmt.Errorf("%s: invalid price %q", key, value)
	}
	return price, true, nil
}
