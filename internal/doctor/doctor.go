// Package doctor runs preflight checks on a loaded pdfgate configuration:
// things the loader cannot know, such as whether the tool is installed or
// whether the scratch directory is writable.
package doctor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AdamLaszab/zadanie-skuska/internal/auth"
	"github.com/AdamLaszab/zadanie-skuska/internal/config"
	"github.com/AdamLaszab/zadanie-skuska/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("[%s] %s", i.Category, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Category, i.Field, i.Message)
}

// minJWTSecret is the shortest HS256 secret accepted without a warning.
const minJWTSecret = 32

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor checks a configuration against the host it will run on.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	fsType   func(string) (string, error)
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, fsType: storage.FilesystemType}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateTool(r)
	d.validateStorage(r)
	d.validateTokens(r)
	d.validateJWT(r)
	d.warnSessionSecret(r)
	d.validateGeo(r)
	d.warnNoAuth(r)
	d.warnMemoryBackend(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateTool(r *Result) {
	if _, err := d.lookPath(d.cfg.Tool.Executable); err != nil {
		d.addError(r, "tool", "tool.executable", fmt.Sprintf("%q is not runnable: %v", d.cfg.Tool.Executable, err))
	}
	if script := d.cfg.Tool.Script; script != "" {
		st, err := os.Stat(script)
		switch {
		case err != nil:
			d.addError(r, "tool", "tool.script", fmt.Sprintf("cannot stat %q: %v", script, err))
		case st.IsDir():
			d.addError(r, "tool", "tool.script", fmt.Sprintf("%q is a directory", script))
		}
	}
}

// validateStorage checks both locations are local and the scratch area
// accepts writes.
func (d *Doctor) validateStorage(r *Result) {
	for field, path := range map[string]string{
		"storage.scratch_dir": d.cfg.Storage.ScratchDir,
		"storage.sqlite_path": d.cfg.Storage.SQLitePath,
	} {
		if err := storage.ValidateLocalFilesystem(path, field); errors.Is(err, storage.ErrNetworkFilesystem) {
			d.addError(r, "storage", field, err.Error())
		}
	}

	dir := d.cfg.Storage.ScratchDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "storage", "storage.scratch_dir", fmt.Sprintf("cannot create %q: %v", dir, err))
		return
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		d.addError(r, "storage", "storage.scratch_dir", fmt.Sprintf("%q is not writable: %v", dir, err))
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	if fsType, err := d.fsType(d.cfg.Storage.SQLitePath); err == nil && fsType == storage.FSTmpfs {
		d.addWarning(r, "storage", "storage.sqlite_path", "database is on tmpfs; the audit trail will not survive a reboot")
	}
	if filepath.Clean(filepath.Dir(d.cfg.Storage.SQLitePath)) == filepath.Clean(dir) {
		d.addWarning(r, "storage", "storage.sqlite_path", "database lives inside the scratch dir; keep them apart")
	}
}

var knownScopes = map[string]bool{
	auth.ScopeAll:    true,
	auth.ScopePDF:    true,
	auth.ScopeLogsRO: true,
	auth.ScopeLogsRW: true,
}

func (d *Doctor) validateTokens(r *Result) {
	subjects := make(map[string]int)
	for i, tok := range d.cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if len(tok.Scopes) == 0 {
			d.addError(r, "auth", field+".scopes", "token grants no scopes")
		}
		for _, s := range tok.Scopes {
			if !knownScopes[s] {
				d.addError(r, "auth", field+".scopes", fmt.Sprintf("unknown scope %q", s))
			}
		}
		if tok.Token != "" {
			d.addWarning(r, "auth", field+".token", "plaintext token; prefer token_bcrypt (pdfgate token hash)")
		}
		if prev, dup := subjects[tok.Subject]; dup {
			d.addWarning(r, "auth", field+".subject",
				fmt.Sprintf("subject %q also used by tokens[%d]; their links and audit entries are indistinguishable", tok.Subject, prev))
		} else {
			subjects[tok.Subject] = i
		}
	}
}

func (d *Doctor) validateJWT(r *Result) {
	secret := d.cfg.API.Auth.JWT.Secret
	if secret == "" || envVarRe.MatchString(secret) {
		return
	}
	if len(secret) < minJWTSecret {
		d.addWarning(r, "auth", "api.auth.jwt.secret", fmt.Sprintf("secret is shorter than %d bytes", minJWTSecret))
	}
}

// warnSessionSecret flags persisted links that a restarted server could no
// longer match to the browser that requested them.
func (d *Doctor) warnSessionSecret(r *Result) {
	if d.cfg.API.Auth.SessionSecret != "" || d.cfg.Capability.Backend == config.BackendMemory {
		return
	}
	d.addWarning(r, "auth", "api.auth.session_secret",
		"not set; browser download links issued before a restart cannot be redeemed after it")
}

func (d *Doctor) validateGeo(r *Result) {
	if !d.cfg.Geo.Enabled {
		return
	}
	if d.cfg.Geo.Endpoint == "" {
		d.addError(r, "geo", "geo.endpoint", "geolocation enabled without an endpoint")
		return
	}
	if strings.HasPrefix(d.cfg.Geo.Endpoint, "http://") {
		d.addWarning(r, "geo", "geo.endpoint", "client addresses are sent over plain http")
	}
}

func (d *Doctor) warnNoAuth(r *Result) {
	if len(d.cfg.API.Auth.Tokens) == 0 && d.cfg.API.Auth.JWT.Secret == "" {
		d.addWarning(r, "auth", "api.auth", "no tokens or JWT secret configured; every endpoint is open")
	}
}

func (d *Doctor) warnMemoryBackend(r *Result) {
	if d.cfg.Capability.Backend == config.BackendMemory {
		d.addWarning(r, "capability", "capability.backend",
			"memory backend: outstanding download links are lost on restart")
	}
}

// warnMissingEnvVars reports ${VAR} references the loader left unexpanded.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		check(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token)
		check(fmt.Sprintf("api.auth.tokens[%d].token_bcrypt", i), tok.TokenBcrypt)
	}
	check("api.auth.jwt.secret", d.cfg.API.Auth.JWT.Secret)
	check("api.auth.session_secret", d.cfg.API.Auth.SessionSecret)
	check("redis.password", d.cfg.Redis.Password)
}
