package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	API      APIConfig
	Log      LogConfig
	Fetch    FetchConfig
	Decode   DecodeConfig
	GIF      GIFConfig
	Response ResponseConfig
	Tracing  TracingConfig
	Storage  StorageConfig
}

type APIConfig struct {
	Addr      string
	AdminAddr string
}

type LogConfig struct {
	Level  string
	Format string
}

type FetchConfig struct {
	MaxBytes  int64
	Timeout   time.Duration
	UserAgent string
}

type DecodeConfig struct {
	MaxPixels int64
}

// GIFConfig.FrameDelay is in hundredths of a second.
type GIFConfig struct {
	FrameDelay int
}

type ResponseConfig struct {
	CacheControl string
	AcceptRanges bool
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an object store source was configured.
func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != ""
}

const (
	DefaultMaxBytes     = 20_000_000
	DefaultMaxPixels    = 50_000_000
	DefaultFrameDelay   = 50
	DefaultCacheControl = "max-age=31536000"
)

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:      env("TWOFRAME_ADDR", "127.0.0.1:23423"),
			AdminAddr: envAllowEmpty("TWOFRAME_ADMIN_ADDR", "127.0.0.1:9090"),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "console"),
		},
		Fetch: FetchConfig{
			MaxBytes:  envInt64("FETCH_MAX_BYTES", DefaultMaxBytes),
			Timeout:   envDuration("FETCH_TIMEOUT", 30*time.Second),
			UserAgent: env("FETCH_USER_AGENT", "twoframe/1.0"),
		},
		Decode: DecodeConfig{
			MaxPixels: envInt64("DECODE_MAX_PIXELS", DefaultMaxPixels),
		},
		GIF: GIFConfig{
			FrameDelay: envInt("GIF_FRAME_DELAY", DefaultFrameDelay),
		},
		Response: ResponseConfig{
			CacheControl: envAllowEmpty("RESPONSE_CACHE_CONTROL", DefaultCacheControl),
			AcceptRanges: envBool("RESPONSE_ACCEPT_RANGES", true),
		},
		Tracing: TracingConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", ""),
			AccessKey: env("MINIO_ACCESS_KEY", ""),
			SecretKey: env("MINIO_SECRET_KEY", ""),
			Bucket:    env("MINIO_BUCKET", "twoframe-sources"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

// envAllowEmpty treats an explicitly empty variable as "disabled" rather than unset.
func envAllowEmpty(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(value)
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
