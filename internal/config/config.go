// Package config centralizes how filealloc reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// Config represents runtime configuration shared by every binary.
type Config struct {
	Address   string
	PublicURL string

	DatabaseURL string
	DBSchema    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StoreBackend string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool

	// Buckets lists the logical buckets served; each maps onto a store bucket
	// of the same name.
	Buckets       []string
	URLTTL        time.Duration
	SigningSecret []byte

	ProcessingPool int
	ExpiryDays     int
	Policy         string
	PDFMaxPages    int

	ScheduleCleanStore    string
	ScheduleCleanDatabase string
	ScheduleCleanOld      string
	ScheduleProcessMissed string

	LogLevel  string
	LogFormat string
}

const (
	defaultAddress       = ":8080"
	defaultPublicURL     = "http://localhost:8080"
	defaultSchema        = "public"
	defaultRedisAddr     = "localhost:6379"
	defaultBackend       = BackendMinio
	defaultS3Endpoint    = "localhost:9000"
	defaultS3Region      = "us-east-1"
	defaultBuckets       = "parts"
	defaultURLTTL        = 1 * time.Minute
	defaultWorkerCount   = 2
	defaultExpiryDays    = 3
	defaultPolicy        = "default"
	defaultPDFMaxPages   = 500
	defaultCleanStore    = "@every 24h"
	defaultCleanDatabase = "@every 24h"
	defaultCleanOld      = "@every 6h"
	defaultProcessMissed = "@every 1h"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
)

// Load reads configuration from environment variables falling back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Address:               readEnv("FILEALLOC_ADDRESS", defaultAddress),
		PublicURL:             readEnv("FILEALLOC_PUBLIC_URL", defaultPublicURL),
		DatabaseURL:           readEnv("FILEALLOC_DATABASE_URL", ""),
		DBSchema:              readEnv("FILEALLOC_DB_SCHEMA", defaultSchema),
		RedisAddr:             readEnv("FILEALLOC_REDIS_ADDR", defaultRedisAddr),
		RedisPassword:         readEnv("FILEALLOC_REDIS_PASSWORD", ""),
		RedisDB:               parseInt("FILEALLOC_REDIS_DB", 0),
		StoreBackend:          strings.ToLower(readEnv("FILEALLOC_STORE_BACKEND", defaultBackend)),
		S3Endpoint:            readEnv("FILEALLOC_S3_ENDPOINT", defaultS3Endpoint),
		S3AccessKey:           readEnv("FILEALLOC_S3_ACCESS_KEY", ""),
		S3SecretKey:           readEnv("FILEALLOC_S3_SECRET_KEY", ""),
		S3Region:              readEnv("FILEALLOC_S3_REGION", defaultS3Region),
		S3UseSSL:              parseBool("FILEALLOC_S3_USE_SSL", false),
		Buckets:               parseList("FILEALLOC_BUCKETS", defaultBuckets),
		URLTTL:                parseDuration("FILEALLOC_URL_TTL", defaultURLTTL),
		SigningSecret:         parseSecret("FILEALLOC_SIGNING_SECRET"),
		ProcessingPool:        parseInt("FILEALLOC_WORKERS", defaultWorkerCount),
		ExpiryDays:            parseInt("FILEALLOC_EXPIRY_DAYS", defaultExpiryDays),
		Policy:                strings.ToLower(readEnv("FILEALLOC_POLICY", defaultPolicy)),
		PDFMaxPages:           parseInt("FILEALLOC_PDF_MAX_PAGES", defaultPDFMaxPages),
		ScheduleCleanStore:    readEnv("FILEALLOC_SCHEDULE_CLEAN_STORE", defaultCleanStore),
		ScheduleCleanDatabase: readEnv("FILEALLOC_SCHEDULE_CLEAN_DB", defaultCleanDatabase),
		ScheduleCleanOld:      readEnv("FILEALLOC_SCHEDULE_CLEAN_OLD", defaultCleanOld),
		ScheduleProcessMissed: readEnv("FILEALLOC_SCHEDULE_PROCESS_MISSED", defaultProcessMissed),
		LogLevel:              readEnv("FILEALLOC_LOG_LEVEL", defaultLogLevel),
		LogFormat:             readEnv("FILEALLOC_LOG_FORMAT", defaultLogFormat),
	}
	if cfg.SigningSecret == nil {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
		cfg.SigningSecret = secret
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultURLTTL
	}
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = defaultExpiryDays
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendMinio:
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("FILEALLOC_S3_ACCESS_KEY and FILEALLOC_S3_SECRET_KEY are required for the minio backend"))
		}
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("FILEALLOC_DATABASE_URL is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	if len(c.Buckets) == 0 {
		errs = append(errs, errors.New("FILEALLOC_BUCKETS must name at least one bucket"))
	}
	switch c.Policy {
	case "default", "pdf":
	default:
		errs = append(errs, fmt.Errorf("unknown policy %q", c.Policy))
	}
	return errors.Join(errs...)
}

// HasBucket reports whether name is a configured bucket.
func (c *Config) HasBucket(name string) bool {
	for _, b := range c.Buckets {
		if b == name {
			return true
		}
	}
	return false
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
