package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory is taken to
// contain config.yaml. Files listed under include are merged in order, and
// later files override earlier ones.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	visited := make(map[string]bool)
	if err := loadInto(cfg, absPath, visited); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	if err := verifyLocked(filepath.Dir(absPath), paths); err != nil {
		return nil, fmt.Errorf("config integrity: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Files returns the absolute paths of configPath and everything it
// includes, in load order.
func Files(configPath string) ([]string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	var order []string
	visited := make(map[string]bool)
	if err := walkIncludes(absPath, visited, &order); err != nil {
		return nil, err
	}
	return order, nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadInto decodes path over cfg, then its includes. yaml.v3 leaves fields
// absent from the document untouched, so each file only overrides what it
// sets.
func loadInto(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("circular include detected: %s", path)
	}
	visited[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	interpolated := []byte(interpolateEnv(string(data)))

	cfg.Include = nil
	if err := yaml.Unmarshal(interpolated, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	includes := cfg.Include
	cfg.Include = nil

	baseDir := filepath.Dir(path)
	for i, inc := range includes {
		incPath, err := resolveInclude(inc, baseDir)
		if err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
		if _, err := os.Stat(incPath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s\n"+
				"Hint: Check the path is correct and the file exists", i, incPath, path)
		}
		if err := loadInto(cfg, incPath, visited); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, inc, err)
		}
	}
	return nil
}

func walkIncludes(path string, visited map[string]bool, order *[]string) error {
	if visited[path] {
		return nil
	}
	visited[path] = true
	*order = append(*order, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var partial struct {
		Include []string `yaml:"include"`
	}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &partial); err != nil {
		return fmt.Errorf("failed to parse YAML for includes in %s: %w", path, err)
	}
	for i, inc := range partial.Include {
		incPath, err := resolveInclude(inc, filepath.Dir(path))
		if err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
		if err := walkIncludes(incPath, visited, order); err != nil {
			return err
		}
	}
	return nil
}

func resolveInclude(inc, baseDir string) (string, error) {
	inc = interpolateEnv(inc)
	if !filepath.IsAbs(inc) {
		inc = filepath.Join(baseDir, inc)
	}
	abs, err := filepath.Abs(inc)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", inc, err)
	}
	return abs, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	if cfg.Storage.ScratchDir == "" {
		return fmt.Errorf("storage.scratch_dir is required")
	}

	if cfg.Tool.Executable == "" {
		return fmt.Errorf("tool.executable is required")
	}
	if cfg.Tool.Timeout <= 0 {
		return fmt.Errorf("tool.timeout must be positive")
	}
	if cfg.Tool.KillGrace < 0 {
		return fmt.Errorf("tool.kill_grace must not be negative")
	}
	if cfg.Pipeline.RetainFailed < 0 {
		return fmt.Errorf("pipeline.retain_failed must not be negative")
	}

	switch cfg.Capability.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when capability.backend is redis")
		}
		if envVarPattern.MatchString(cfg.Redis.Password) {
			return unresolved("redis.password", cfg.Redis.Password)
		}
	default:
		return fmt.Errorf("capability.backend must be one of: memory, redis, sqlite (got %q)", cfg.Capability.Backend)
	}
	if cfg.Capability.TTL <= 0 {
		return fmt.Errorf("capability.ttl must be positive")
	}
	if cfg.Capability.ReapInterval <= 0 {
		return fmt.Errorf("capability.reap_interval must be positive")
	}
	if cfg.Pipeline.SweepAfter <= cfg.Capability.TTL+cfg.Tool.Timeout {
		return fmt.Errorf("pipeline.sweep_after must exceed capability.ttl plus tool.timeout")
	}

	if cfg.Geo.Enabled && cfg.Geo.Endpoint != "" && !strings.Contains(cfg.Geo.Endpoint, "{ip}") {
		return fmt.Errorf("geo.endpoint must contain {ip}")
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if cfg.API.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("api.max_concurrent_batches must be positive")
	}
	if cfg.API.MaxUploadBytes <= 0 {
		return fmt.Errorf("api.max_upload_bytes must be positive")
	}
	for i, tok := range cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if (tok.Token == "") == (tok.TokenBcrypt == "") {
			return fmt.Errorf("%s: exactly one of token and token_bcrypt is required", field)
		}
		if envVarPattern.MatchString(tok.Token) {
			return unresolved(field+".token", tok.Token)
		}
		if tok.Subject == "" {
			return fmt.Errorf("%s.subject is required", field)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", field)
		}
	}
	if envVarPattern.MatchString(cfg.API.Auth.JWT.Secret) {
		return unresolved("api.auth.jwt.secret", cfg.API.Auth.JWT.Secret)
	}
	if envVarPattern.MatchString(cfg.API.Auth.SessionSecret) {
		return unresolved("api.auth.session_secret", cfg.API.Auth.SessionSecret)
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
		}
	}
	return nil
}
