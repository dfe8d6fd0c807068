package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Port     string
	LogLevel string

	// Geocoding
	NominatimURL     string
	GeocoderLanguage string
	GeocoderAgent    string
	GeocoderTimeout  time.Duration
	SuggestDebounce  time.Duration
	SuggestMinChars  int

	CacheTTL             time.Duration
	CacheCleanupInterval time.Duration
	AllowedOrigins       []string
	JWTSecret            string
	RateLimitRPS         float64
	RateLimitBurst       int
	MaxUploadMB          int64
	IngestConcurrency    int

	// Persistence; all empty means in-memory stores
	FirebaseProjectID       string
	FirebaseBucketName      string
	FirebaseCredentialsPath string
	FirebaseCredentialsJSON string // For Vercel: raw JSON string
	FirestoreCollection     string
	AuditCollection         string

	GoogleDriveFolderID    string        // Google Drive folder ID for sync
	GoogleAPIKey           string        // Google API key for Drive access (alternative to service account)
	DriveSyncInterval      time.Duration // How often to check Drive for new files; 0 disables the watcher
	DriveBackfillOnStartup bool          // Run one-time import on server startup before starting watch
	IsVercel               bool          // Detected via VERCEL env var
}

// Load reads configuration from environment variables and .env file.
// It loads the .env file if present, then populates the Config struct.
// Returns an error if required configuration is missing.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		NominatimURL:     getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		GeocoderLanguage: getEnv("GEOCODER_LANGUAGE", "pt-BR"),
		GeocoderAgent:    getEnv("GEOCODER_USER_AGENT", "mira-api/1.0"),
		GeocoderTimeout:  getDurationEnv("GEOCODER_TIMEOUT", 10*time.Second),
		SuggestDebounce:  getDurationEnv("SUGGEST_DEBOUNCE", 800*time.Millisecond),
		SuggestMinChars:  getIntEnv("SUGGEST_MIN_CHARS", 4),

		CacheTTL:             getDurationEnv("CACHE_TTL", 15*time.Minute),
		CacheCleanupInterval: getDurationEnv("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		AllowedOrigins:       getList("ALLOWED_ORIGINS", []string{"*"}),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		RateLimitRPS:         getFloatEnv("RATE_LIMIT_RPS", 10),
		RateLimitBurst:       getIntEnv("RATE_LIMIT_BURST", 20),
		MaxUploadMB:          int64(getIntEnv("MAX_UPLOAD_MB", 512)),
		IngestConcurrency:    getIntEnv("INGEST_CONCURRENCY", 4),

		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseBucketName:      getEnv("FIREBASE_BUCKET_NAME", ""),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
		FirebaseCredentialsJSON: getEnv("FIREBASE_CREDENTIALS_JSON", ""),
		FirestoreCollection:     getEnv("FIRESTORE_COLLECTION", "assets"),
		AuditCollection:         getEnv("FIRESTORE_AUDIT_COLLECTION", "audit_logs"),

		GoogleDriveFolderID:    getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),
		GoogleAPIKey:           getEnv("GOOGLE_API_KEY", ""),
		DriveSyncInterval:      getDurationEnv("DRIVE_SYNC_INTERVAL", 0),
		DriveBackfillOnStartup: getBoolEnv("DRIVE_BACKFILL_ON_STARTUP", false),
		IsVercel:               getEnv("VERCEL", "") != "",
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UsesFirebase reports whether Firestore and Storage are configured.
func (c *Config) UsesFirebase() bool {
	return c.FirebaseProjectID != ""
}

// DriveEnabled reports whether a Drive folder can be imported.
func (c *Config) DriveEnabled() bool {
	return c.GoogleDriveFolderID != "" && (c.GoogleAPIKey != "" || c.FirebaseCredentialsPath != "" || c.FirebaseCredentialsJSON != "")
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.UsesFirebase() {
		if c.FirebaseBucketName == "" {
			return fmt.Errorf("FIREBASE_BUCKET_NAME is required when FIREBASE_PROJECT_ID is set")
		}
		if c.FirebaseCredentialsJSON == "" && c.FirebaseCredentialsPath == "" {
			return fmt.Errorf("either FIREBASE_CREDENTIALS_JSON or FIREBASE_CREDENTIALS_PATH must be set")
		}
		if c.FirestoreCollection == "" || c.AuditCollection == "" {
			return fmt.Errorf("FIRESTORE_COLLECTION and FIRESTORE_AUDIT_COLLECTION are required")
		}
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.CacheCleanupInterval <= 0 {
		return fmt.Errorf("CACHE_CLEANUP_INTERVAL must be positive")
	}
	if c.GeocoderTimeout <= 0 {
		return fmt.Errorf("GEOCODER_TIMEOUT must be positive")
	}
	if c.SuggestDebounce < 0 {
		return fmt.Errorf("SUGGEST_DEBOUNCE cannot be negative")
	}
	if c.SuggestMinChars < 1 {
		return fmt.Errorf("SUGGEST_MIN_CHARS must be at least 1")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.IngestConcurrency <= 0 {
		return fmt.Errorf("INGEST_CONCURRENCY must be positive")
	}
	if c.DriveSyncInterval < 0 {
		return fmt.Errorf("DRIVE_SYNC_INTERVAL cannot be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Retrieves an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// Retrieves a duration from environment variable or returns a default value.
// It supports both time.Duration format (e.g., "10m", "12h") and integer minutes.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// Retrieves a comma-separated list from environment variable or returns a default value.
func getList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return defaultValue
}

// Retrieves a boolean from environment variable or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
