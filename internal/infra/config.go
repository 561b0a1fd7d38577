package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	StoragePath    string
	StorageBaseURL string
	AllowedOrigins []string

	// Image (keyframe) provider.
	ImageAPIKey  string
	ImageBaseURL string
	ImageModel   string
	ImageFamily  string
	KeyframeMode string

	// Video provider.
	VideoAPIKey  string
	VideoBaseURL string
	VideoModel   string
	VideoSize    string

	// Per-call provider timeouts.
	ImageTimeout       time.Duration
	VideoSubmitTimeout time.Duration
	VideoStatusTimeout time.Duration
	VideoFetchTimeout  time.Duration

	// Job and quota bookkeeping.
	JobTTL   time.Duration
	QuotaTTL time.Duration

	// Background settlement.
	SettleInitialDelay time.Duration
	SettleRetryDelay   time.Duration
	SettleMaxAttempts  int
	SettleWorkers      int
	SettleQueueSize    int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),

		ImageAPIKey:  os.Getenv("IMAGE_API_KEY"),
		ImageBaseURL: getEnv("IMAGE_BASE_URL", "https://api.openai.com/v1"),
		ImageModel:   getEnv("IMAGE_MODEL", "gpt-image-1"),
		ImageFamily:  getEnv("IMAGE_FAMILY", "gpt-image"),
		KeyframeMode: getEnv("KEYFRAME_MODE", "auto"),

		VideoAPIKey:  os.Getenv("VIDEO_API_KEY"),
		VideoBaseURL: getEnv("VIDEO_BASE_URL", "https://api.openai.com/v1"),
		VideoModel:   getEnv("VIDEO_MODEL", "sora-2"),
		VideoSize:    getEnv("VIDEO_SIZE", "720x1280"),

		ImageTimeout:       getEnvDuration("IMAGE_TIMEOUT_SECONDS", 60*time.Second),
		VideoSubmitTimeout: getEnvDuration("VIDEO_SUBMIT_TIMEOUT_SECONDS", 30*time.Second),
		VideoStatusTimeout: getEnvDuration("VIDEO_STATUS_TIMEOUT_SECONDS", 15*time.Second),
		VideoFetchTimeout:  getEnvDuration("VIDEO_FETCH_TIMEOUT_SECONDS", 120*time.Second),

		JobTTL:   getEnvDuration("JOB_TTL_SECONDS", time.Hour),
		QuotaTTL: getEnvDuration("QUOTA_TTL_SECONDS", 48*time.Hour),

		SettleInitialDelay: getEnvDuration("SETTLE_INITIAL_DELAY_SECONDS", 90*time.Second),
		SettleRetryDelay:   getEnvDuration("SETTLE_RETRY_DELAY_SECONDS", 30*time.Second),
		SettleMaxAttempts:  getEnvInt("SETTLE_MAX_ATTEMPTS", 4),
		SettleWorkers:      getEnvInt("SETTLE_WORKERS", 4),
		SettleQueueSize:    getEnvInt("SETTLE_QUEUE_SIZE", 256),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.KeyframeMode {
	case "on", "off", "auto":
	default:
		return nil, fmt.Errorf("KEYFRAME_MODE must be one of on, off, auto")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return time.Second * time.Duration(i)
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
