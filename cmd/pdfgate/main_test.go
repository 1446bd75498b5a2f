package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/AdamLaszab/zadanie-skuska/internal/api"
	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/auth"
	"github.com/AdamLaszab/zadanie-skuska/internal/config"
	"github.com/AdamLaszab/zadanie-skuska/internal/storage"
)

func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`service:
  log_level: error
storage:
  sqlite_path: %s
  scratch_dir: %s
tool:
  executable: /bin/sh
  script: ""
  timeout: 5s
api:
  listen: 127.0.0.1:0
%s`, filepath.Join(dir, "state", "pdfgate.db"), filepath.Join(dir, "scratch"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(newUI())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestShortenCommit(t *testing.T) {
	assert.Equal(t, "abc", shortenCommit("abc"))
	assert.Equal(t, "0123456789ab", shortenCommit("0123456789abcdef"))
}

func TestNormalizeBuildTimeUTC(t *testing.T) {
	got, ok := normalizeBuildTimeUTC("2026-02-03T04:05:06.789+02:00")
	require.True(t, ok)
	assert.Equal(t, "2026-02-03T02:05:06Z", got)

	_, ok = normalizeBuildTimeUTC("unknown")
	assert.False(t, ok)
	_, ok = normalizeBuildTimeUTC("yesterday")
	assert.False(t, ok)
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "", "version", "--json")
	require.NoError(t, err)
	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version, info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestConfigCheckAndGet(t *testing.T) {
	path, _ := writeConfig(t, "capability:\n  ttl: 10m\n")

	out, err := execute(t, "", "--config", path, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid")
	assert.Contains(t, out, "link ttl: 10m0s")
	assert.Contains(t, out, "fingerprint: ")

	out, err = execute(t, "", "--config", path, "config", "get", "capability.ttl")
	require.NoError(t, err)
	assert.Equal(t, "10m0s\n", out)

	_, err = execute(t, "", "--config", path, "config", "get", "capability.nope")
	assert.Error(t, err)
}

func TestConfigLockDetectsTampering(t *testing.T) {
	path, dir := writeConfig(t, "")

	out, err := execute(t, "", "--config", path, "config", "lock")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, ".checksums"))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("# edited\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = execute(t, "", "--config", path, "config", "check")
	assert.Error(t, err)
}

func TestAuditListAndPurge(t *testing.T) {
	path, dir := writeConfig(t, "")
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "state", "pdfgate.db"))
	require.NoError(t, err)
	trail := audit.NewSQLiteStore(db)
	actor := "principal:ci"
	for i, action := range []string{"merge_success", "download_failed"} {
		_, err := trail.Insert(ctx, audit.Entry{
			ActorID:   &actor,
			Action:    action,
			Channel:   audit.ChannelAPI,
			Detail:    fmt.Sprintf("entry %d", i),
			ClientIP:  "127.0.0.1",
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	out, err := execute(t, "", "--config", path, "audit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "merge_success")
	assert.Contains(t, out, "download_failed")
	assert.Contains(t, out, "principal:ci")
	assert.Contains(t, out, "2 of 2 entries")

	out, err = execute(t, "", "--config", path, "audit", "export")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	_, err = execute(t, "", "--config", path, "audit", "purge")
	assert.ErrorContains(t, err, "--yes")

	out, err = execute(t, "", "--config", path, "audit", "purge", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 2 entries")
}

func TestTokenHashAndNew(t *testing.T) {
	out, err := execute(t, "s3cret\n", "token", "hash")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))

	out, err = execute(t, "", "token", "new", "--subject", "ci", "--scope", "pdf:rw")
	require.NoError(t, err)
	assert.Contains(t, out, "token_bcrypt: ")
	assert.Contains(t, out, "subject: ci")
}

func TestTokenSign(t *testing.T) {
	path, _ := writeConfig(t, "  auth:\n    jwt:\n      secret: test-secret\n      issuer: pdfgate-test\n")

	out, err := execute(t, "", "--config", path, "token", "sign", "--subject", "robot", "--scope", "pdf:rw", "--ttl", "1h")
	require.NoError(t, err)

	a := auth.NewAuthenticator(nil, auth.JWTConfig{Secret: "test-secret", Issuer: "pdfgate-test"})
	p, ok := a.Authenticate(strings.TrimSpace(out))
	require.True(t, ok)
	assert.Equal(t, "principal:robot", p.ActorID())
	assert.True(t, auth.HasAnyScope(p, auth.ScopePDF))

	_, err = execute(t, "", "--config", path, "token", "sign", "--subject", "robot")
	assert.ErrorContains(t, err, "--scope")
}

func TestBuildAppServesHealthz(t *testing.T) {
	path, _ := writeConfig(t, "capability:\n  backend: sqlite\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var h api.HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, 8, h.BatchCapacity)

	report, err := a.reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Reaped)
}

func TestSweepCommand(t *testing.T) {
	path, _ := writeConfig(t, "")
	out, err := execute(t, "", "--config", path, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "reaped 0 link(s), removed 0 workspace(s)")
}
