package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file uses defaults",
			yaml: "{}\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "pdfgate" {
					t.Errorf("service.name = %q", cfg.Service.Name)
				}
				if cfg.Tool.Timeout != 120*time.Second {
					t.Errorf("tool.timeout = %v", cfg.Tool.Timeout)
				}
				if cfg.Capability.Backend != BackendMemory {
					t.Errorf("capability.backend = %q", cfg.Capability.Backend)
				}
				if cfg.Capability.TTL != 15*time.Minute {
					t.Errorf("capability.ttl = %v", cfg.Capability.TTL)
				}
				if cfg.API.MaxConcurrentBatches != 8 {
					t.Errorf("api.max_concurrent_batches = %d", cfg.API.MaxConcurrentBatches)
				}
				if cfg.API.MaxUploadBytes != 50<<20 {
					t.Errorf("api.max_upload_bytes = %d", cfg.API.MaxUploadBytes)
				}
				if cfg.Pipeline.RetainFailed != 0 {
					t.Errorf("pipeline.retain_failed = %v", cfg.Pipeline.RetainFailed)
				}
			},
		},
		{
			name: "overrides keep unrelated defaults",
			yaml: `
service:
  log_level: debug
tool:
  executable: /usr/bin/python3
  script: /opt/pdfgate/pdf_tool.py
  timeout: 30s
capability:
  backend: sqlite
  ttl: 5m
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Error("log_level not parsed")
				}
				if cfg.Service.LogFormat != "json" {
					t.Error("log_format default lost")
				}
				if cfg.Tool.Script != "/opt/pdfgate/pdf_tool.py" || cfg.Tool.Timeout != 30*time.Second {
					t.Errorf("tool = %+v", cfg.Tool)
				}
				if cfg.Tool.KillGrace != 5*time.Second {
					t.Error("kill_grace default lost")
				}
				if cfg.Capability.Backend != BackendSQLite || cfg.Capability.TTL != 5*time.Minute {
					t.Errorf("capability = %+v", cfg.Capability)
				}
				if cfg.Capability.ReapInterval != time.Minute {
					t.Error("reap_interval default lost")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
storage:
  sqlite_path: ${PDFGATE_DB}
api:
  auth:
    tokens:
      - token: ${PDFGATE_TOKEN}
        subject: ci
        scopes: ["pdf:rw"]
`,
			env: map[string]string{
				"PDFGATE_DB":    "/tmp/pdfgate-test.db",
				"PDFGATE_TOKEN": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Storage.SQLitePath != "/tmp/pdfgate-test.db" {
					t.Errorf("env var not interpolated in storage.sqlite_path: %s", cfg.Storage.SQLitePath)
				}
				if len(cfg.API.Auth.Tokens) != 1 || cfg.API.Auth.Tokens[0].Token != "secret123" {
					t.Errorf("tokens = %+v", cfg.API.Auth.Tokens)
				}
			},
		},
		{
			name: "missing env var fails validation",
			yaml: `
api:
  auth:
    tokens:
      - token: ${PDFGATE_MISSING_VAR}
        subject: ci
        scopes: ["*"]
`,
			wantErr: true,
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: invalid
`,
			wantErr: true,
		},
		{
			name: "unknown capability backend",
			yaml: `
capability:
  backend: memcached
`,
			wantErr: true,
		},
		{
			name: "token needs exactly one form",
			yaml: `
api:
  auth:
    tokens:
      - token: abc
        token_bcrypt: "$2a$10$abc"
        subject: ci
        scopes: ["*"]
`,
			wantErr: true,
		},
		{
			name: "token needs scopes",
			yaml: `
api:
  auth:
    tokens:
      - token: abc
        subject: ci
`,
			wantErr: true,
		},
		{
			name: "geo endpoint needs placeholder",
			yaml: `
geo:
  enabled: true
  endpoint: http://geo.local/lookup
`,
			wantErr: true,
		},
		{
			name: "tracing sample ratio bounds",
			yaml: `
tracing:
  enabled: true
  sample_ratio: 1.5
`,
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "service: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := Load(configPath)

			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("service:\n  name: from-dir\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}

func TestLoadIncludes(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("config.yaml", `
include:
  - tool.yaml
  - auth.yaml
service:
  name: base
tool:
  timeout: 10s
`)
	write("tool.yaml", `
tool:
  script: /srv/pdf_tool.py
`)
	write("auth.yaml", `
api:
  auth:
    jwt:
      secret: s3cret
      issuer: pdfgate
`)

	cfg, err := Load(filepath.Join(tmpDir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "base" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
	if cfg.Tool.Timeout != 10*time.Second {
		t.Errorf("tool.timeout = %v, want value from root kept", cfg.Tool.Timeout)
	}
	if cfg.Tool.Script != "/srv/pdf_tool.py" {
		t.Errorf("tool.script = %q", cfg.Tool.Script)
	}
	if cfg.API.Auth.JWT.Issuer != "pdfgate" {
		t.Errorf("jwt.issuer = %q", cfg.API.Auth.JWT.Issuer)
	}

	files, err := Files(filepath.Join(tmpDir, "config.yaml"))
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 3 || filepath.Base(files[0]) != "config.yaml" || filepath.Base(files[2]) != "auth.yaml" {
		t.Errorf("Files() = %v", files)
	}
}

func TestLoadCircularInclude(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("include: [b.yaml]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "b.yaml"), []byte("include: [config.yaml]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(filepath.Join(tmpDir, "config.yaml"))
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("Load() error = %v, want circular include", err)
	}
}

func TestLoadMissingInclude(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("include: [nope.yaml]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filepath.Join(tmpDir, "config.yaml")); err == nil {
		t.Fatal("expected error for missing include")
	}
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "path: ${PDFGATE_HOME}/data",
			env:   map[string]string{"PDFGATE_HOME": "/users/test"},
			want:  "path: /users/test/data",
		},
		{
			name:  "multiple vars",
			input: "${PDFGATE_USER}:${PDFGATE_PASS}@${PDFGATE_HOST}",
			env: map[string]string{
				"PDFGATE_USER": "admin",
				"PDFGATE_PASS": "secret",
				"PDFGATE_HOST": "localhost",
			},
			want: "admin:secret@localhost",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${PDFGATE_UNDEFINED}",
			want:  "key: ${PDFGATE_UNDEFINED}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got := interpolateEnv(tt.input)
			if got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing sqlite path", mutate: func(c *Config) { c.Storage.SQLitePath = "" }, wantErr: true},
		{name: "missing scratch dir", mutate: func(c *Config) { c.Storage.ScratchDir = "" }, wantErr: true},
		{name: "missing executable", mutate: func(c *Config) { c.Tool.Executable = "" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Tool.Timeout = 0 }, wantErr: true},
		{name: "negative retention", mutate: func(c *Config) { c.Pipeline.RetainFailed = -time.Second }, wantErr: true},
		{name: "sweep shorter than link lifetime", mutate: func(c *Config) { c.Pipeline.SweepAfter = 10 * time.Minute }, wantErr: true},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Capability.Backend = BackendRedis
			c.Redis.Addr = ""
		}, wantErr: true},
		{name: "zero batches", mutate: func(c *Config) { c.API.MaxConcurrentBatches = 0 }, wantErr: true},
		{name: "text log format", mutate: func(c *Config) { c.Service.LogFormat = "text" }},
		{name: "bad log format", mutate: func(c *Config) { c.Service.LogFormat = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetPathRedactsSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.API.Auth.Tokens = []APIToken{{Token: "plain", Subject: "ci", Scopes: []string{"*"}}}
	cfg.API.Auth.JWT.Secret = "jwt-secret"

	v, err := cfg.GetPath("capability.backend")
	if err != nil || v != "memory" {
		t.Fatalf("GetPath(capability.backend) = %v, %v", v, err)
	}
	v, err = cfg.GetPath("api.auth.jwt.secret")
	if err != nil || v != redacted {
		t.Fatalf("GetPath(jwt.secret) = %v, %v", v, err)
	}
	if cfg.API.Auth.JWT.Secret != "jwt-secret" || cfg.API.Auth.Tokens[0].Token != "plain" {
		t.Fatal("GetPath mutated the original config")
	}
	if _, err := cfg.GetPath("api.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
