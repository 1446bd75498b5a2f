package config

import "time"

// Config represents the complete pdfgate configuration.
type Config struct {
	Include    []string         `yaml:"include,omitempty"`
	Service    ServiceConfig    `yaml:"service"`
	Storage    StorageConfig    `yaml:"storage"`
	Tool       ToolConfig       `yaml:"tool"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Capability CapabilityConfig `yaml:"capability"`
	Redis      RedisConfig      `yaml:"redis,omitempty"`
	Geo        GeoConfig        `yaml:"geo"`
	API        APIConfig        `yaml:"api"`
	Tracing    TracingConfig    `yaml:"tracing,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StorageConfig locates the state database and the scratch area.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	ScratchDir string `yaml:"scratch_dir"`
}

// ToolConfig describes the external PDF tool.
type ToolConfig struct {
	Executable string        `yaml:"executable"`
	Script     string        `yaml:"script"`
	Timeout    time.Duration `yaml:"timeout"`
	KillGrace  time.Duration `yaml:"kill_grace"`
}

// PipelineConfig tunes batch execution.
type PipelineConfig struct {
	// RetainFailed keeps failed workspaces on disk for this long. Zero
	// removes them as soon as the batch fails.
	RetainFailed time.Duration `yaml:"retain_failed"`
	// SweepAfter is the age at which an abandoned workspace is removed by
	// the background sweep.
	SweepAfter time.Duration `yaml:"sweep_after"`
}

// Capability store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// CapabilityConfig configures download links.
type CapabilityConfig struct {
	Backend      string        `yaml:"backend"`
	TTL          time.Duration `yaml:"ttl"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// RedisConfig is used when capability.backend is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GeoConfig configures audit geolocation.
type GeoConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen               string        `yaml:"listen"`
	InteractiveHeader    string        `yaml:"interactive_header"`
	MaxConcurrentBatches int           `yaml:"max_concurrent_batches"`
	MaxUploadBytes       int64         `yaml:"max_upload_bytes"`
	Auth                 APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
	JWT    JWTConfig  `yaml:"jwt,omitempty"`
	// SessionSecret signs the browser session cookie that download links
	// are bound to.
	SessionSecret string `yaml:"session_secret,omitempty"`
}

// APIToken defines a bearer token and its scopes. Exactly one of Token and
// TokenBcrypt is set.
type APIToken struct {
	Token       string   `yaml:"token,omitempty"`
	TokenBcrypt string   `yaml:"token_bcrypt,omitempty"`
	Subject     string   `yaml:"subject"`
	Scopes      []string `yaml:"scopes"`
}

// JWTConfig enables HS256 bearer tokens.
type JWTConfig struct {
	Secret string `yaml:"secret,omitempty"`
	Issuer string `yaml:"issuer,omitempty"`
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "pdfgate",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Storage: StorageConfig{
			SQLitePath: "./data/pdfgate.db",
			ScratchDir: "./data/scratch",
		},
		Tool: ToolConfig{
			Executable: "python3",
			Script:     "./scripts/pdf_tool.py",
			Timeout:    120 * time.Second,
			KillGrace:  5 * time.Second,
		},
		Pipeline: PipelineConfig{
			SweepAfter: time.Hour,
		},
		Capability: CapabilityConfig{
			Backend:      BackendMemory,
			TTL:          15 * time.Minute,
			ReapInterval: time.Minute,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Geo: GeoConfig{
			Timeout: 2 * time.Second,
		},
		API: APIConfig{
			Listen:               "127.0.0.1:8080",
			InteractiveHeader:    "X-Inertia",
			MaxConcurrentBatches: 8,
			MaxUploadBytes:       50 << 20,
		},
		Tracing: TracingConfig{
			Endpoint:    "127.0.0.1:4317",
			SampleRatio: 1,
		},
	}
}
