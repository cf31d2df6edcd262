package config

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	// Endpoint overrides the account-derived R2 endpoint (MinIO, tests).
	Endpoint string
}

// DeliveryConfig holds the archive and delivery tunables.
type DeliveryConfig struct {
	FreshnessWindow    time.Duration // cached bundle is rebuilt after this
	BundleRetention    time.Duration // bundle record is invalid after this
	EphemeralRetention time.Duration // selected-file archives
	JobRetention       time.Duration
	DefaultURLTTL      time.Duration
	LargeFileURLTTL    time.Duration
	FetchTimeout       time.Duration
	FetchConcurrency   int
	PutRetryBackoff    time.Duration

	LargeFileThreshold int64 // single files at or above this are redirected
	ReferenceThreshold int64 // datasets above this get a manifest, not an archive
	InlineMaxFiles     int   // above either inline ceiling the build goes async
	InlineMaxBytes     int64

	BatchSize         int
	BatchMaxFileBytes int64
	FastMaxFileBytes  int64

	BundleCompression int
	BatchCompression  int

	JobWorkers       int
	JobProgressEvery int
	JobStallTimeout  time.Duration
	PollInterval     time.Duration

	LeaseBackend string // "postgres" or "memory"
	LeaseTTL     time.Duration
	LeaseWait    time.Duration

	JanitorInterval time.Duration
}

type Config struct {
	DB_URL      string
	Port        string
	JWTSecret   string
	ServiceKeys []string // bcrypt hashes of accepted X-Service-Key values
	Environment string
	LogLevel    string
	CorsConfig  cors.Options
	R2          R2Config
	Delivery    DeliveryConfig
}

// Load reads ENV_FILE (default .env) if present and builds the Config from
// the environment.
func Load() Config {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("No", envFile, "file found")
	}
	return FromEnv()
}

// FromEnv builds the Config from the current environment only.
func FromEnv() Config {
	return Config{
		DB_URL:      getEnv("DB_URL", ""),
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "not-so-secret-now-is-it?"),
		ServiceKeys: getEnvList("SERVICE_KEY_HASHES"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CorsConfig:  CorsConfig(getEnvList("CORS_ORIGINS")),
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			BucketName:      getEnv("R2_BUCKET_NAME", ""),
			Region:          getEnv("R2_REGION", "auto"),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
		},
		Delivery: DeliveryConfig{
			FreshnessWindow:    getEnvDuration("BUNDLE_FRESHNESS", 24*time.Hour),
			BundleRetention:    getEnvDuration("BUNDLE_RETENTION", 7*24*time.Hour),
			EphemeralRetention: getEnvDuration("EPHEMERAL_RETENTION", 10*time.Minute),
			JobRetention:       getEnvDuration("JOB_RETENTION", 24*time.Hour),
			DefaultURLTTL:      getEnvDuration("SIGNED_URL_TTL", time.Hour),
			LargeFileURLTTL:    getEnvDuration("LARGE_FILE_URL_TTL", time.Hour),
			FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", 60*time.Second),
			FetchConcurrency:   clamp(getEnvInt("FETCH_CONCURRENCY", 4), 1, 8),
			PutRetryBackoff:    getEnvDuration("PUT_RETRY_BACKOFF", time.Second),

			LargeFileThreshold: getEnvBytes("LARGE_FILE_THRESHOLD", 100*humanize.MByte),
			ReferenceThreshold: getEnvBytes("REFERENCE_THRESHOLD", 10*humanize.GByte),
			InlineMaxFiles:     getEnvInt("INLINE_MAX_FILES", 200),
			InlineMaxBytes:     getEnvBytes("INLINE_MAX_BYTES", 2*humanize.GByte),

			BatchSize:         getEnvInt("BATCH_SIZE", 50),
			BatchMaxFileBytes: getEnvBytes("BATCH_MAX_FILE_BYTES", 500*humanize.MByte),
			FastMaxFileBytes:  getEnvBytes("FAST_MAX_FILE_BYTES", 20*humanize.MByte),

			BundleCompression: clamp(getEnvInt("BUNDLE_COMPRESSION", 6), 0, 9),
			BatchCompression:  clamp(getEnvInt("BATCH_COMPRESSION", 1), 0, 9),

			JobWorkers:       clamp(getEnvInt("JOB_WORKERS", 2), 1, 32),
			JobProgressEvery: clamp(getEnvInt("JOB_PROGRESS_EVERY", 10), 1, 1000),
			JobStallTimeout:  getEnvDuration("JOB_STALL_TIMEOUT", 15*time.Minute),
			PollInterval:     getEnvDuration("POLL_INTERVAL", 2*time.Second),

			LeaseBackend: getEnv("LEASE_BACKEND", "postgres"),
			LeaseTTL:     getEnvDuration("LEASE_TTL", 2*time.Minute),
			LeaseWait:    getEnvDuration("LEASE_WAIT", 0),

			JanitorInterval: getEnvDuration("JANITOR_INTERVAL", time.Minute),
		},
	}
}

// Gets the env by key or fallbacks
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// getEnvBytes accepts human sizes such as "10GB" or "512MiB".
func getEnvBytes(key string, fallback uint64) int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return int64(fallback)
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		log.Printf("Invalid size for %s: %q, using %s", key, raw, humanize.Bytes(fallback))
		return int64(fallback)
	}
	return int64(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func CorsConfig(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
	}
}
