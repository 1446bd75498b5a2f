package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamLaszab/zadanie-skuska/internal/api"
	"github.com/AdamLaszab/zadanie-skuska/internal/artifact"
	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/capability"
	"github.com/AdamLaszab/zadanie-skuska/internal/events"
	"github.com/AdamLaszab/zadanie-skuska/internal/geo"
	"github.com/AdamLaszab/zadanie-skuska/internal/invoke"
	"github.com/AdamLaszab/zadanie-skuska/internal/log"
	"github.com/AdamLaszab/zadanie-skuska/internal/pipeline"
	"github.com/AdamLaszab/zadanie-skuska/internal/reaper"
	"github.com/AdamLaszab/zadanie-skuska/internal/resolve"
	"github.com/AdamLaszab/zadanie-skuska/internal/storage"
	"github.com/AdamLaszab/zadanie-skuska/internal/workspace"
)

// fakeTool concatenates its inputs into the output and rejects any input
// containing BROKEN.
const fakeTool = `#!/bin/sh
out=""
inputs=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    --input)
      shift
      while [ $# -gt 0 ] && [ "${1#--}" = "$1" ]; do inputs="$inputs $1"; shift; done ;;
    *) shift ;;
  esac
done
for f in $inputs; do
  if grep -q BROKEN "$f"; then echo "cannot parse $(basename "$f")" >&2; exit 2; fi
done
cat $inputs > "$out"
`

type stack struct {
	url     string
	client  *http.Client
	scratch string
	trail   *audit.SQLiteStore
	reaper  *reaper.Reaper
}

func newStack(t *testing.T, ttl time.Duration) *stack {
	t.Helper()
	log.Setup("error", "text")
	ctx := context.Background()
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch")

	tool := filepath.Join(dir, "pdf_tool.sh")
	require.NoError(t, os.WriteFile(tool, []byte(fakeTool), 0o755))

	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "pdfgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mgr, err := workspace.NewFSManager(scratch)
	require.NoError(t, err)
	res, err := resolve.NewResolver("scratch", scratch)
	require.NoError(t, err)
	reg := artifact.NewRegistry()
	reg.Register("scratch", artifact.NewLocalBackend(scratch))
	broker := capability.NewBroker(capability.NewSQLiteStore(db), reg, mgr, ttl)

	trail := audit.NewSQLiteStore(db)
	recorder := audit.NewLogger(trail, geo.Disabled{})
	hub := events.NewHub(64)

	inv, err := invoke.NewProcessInvoker(invoke.Config{Executable: tool, Timeout: 5 * time.Second})
	require.NoError(t, err)
	runner, err := pipeline.New(pipeline.Options{
		Workspaces: mgr,
		Invoker:    inv,
		Resolver:   res,
		Issuer:     broker,
		Opener:     reg,
		Audit:      recorder,
		Events:     hub,
	})
	require.NoError(t, err)

	srv := api.New(api.Config{}, api.Deps{
		Runner:    runner,
		Downloads: broker,
		Trail:     trail,
		Audit:     recorder,
		Events:    hub,
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &stack{
		url:     ts.URL,
		client:  &http.Client{Jar: jar, Timeout: 10 * time.Second},
		scratch: scratch,
		trail:   trail,
		reaper: reaper.New(reaper.Config{
			Sweep: workspace.SweepPolicy{OlderThan: time.Hour},
		}, broker, mgr, hub, nil),
	}
}

func (s *stack) submit(t *testing.T, op, field, delivery string, docs ...string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("delivery", delivery))
	for i, doc := range docs {
		fw, err := mw.CreateFormFile(field, string(rune('a'+i))+".pdf")
		require.NoError(t, err)
		_, err = io.WriteString(fw, doc)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.url+"/pdf/"+op, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *stack) get(t *testing.T, client *http.Client, path string) (int, string) {
	t.Helper()
	resp, err := client.Get(s.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func (s *stack) workspaces(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(s.scratch)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

// actions lists audit actions oldest first.
func (s *stack) actions(t *testing.T) []string {
	t.Helper()
	page, err := s.trail.List(context.Background(), 1, 50)
	require.NoError(t, err)
	var out []string
	for i := len(page.Entries) - 1; i >= 0; i-- {
		out = append(out, page.Entries[i].Action)
	}
	return out
}

func TestMergeLinkIsSingleUseAndSessionBound(t *testing.T) {
	s := newStack(t, time.Minute)

	resp := s.submit(t, "merge", "files", "link", "%PDF-1.4 first\n", "%PDF-1.4 second\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var link api.LinkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&link))
	assert.Equal(t, "merged-document.pdf", link.FileName)
	assert.Equal(t, 1, s.workspaces(t), "workspace is held until the link is redeemed")

	// No session cookie.
	status, _ := s.get(t, http.DefaultClient, link.DownloadURL)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := s.get(t, s.client, link.DownloadURL)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "%PDF-1.4 first\n%PDF-1.4 second\n", body)
	assert.Equal(t, int64(len(body)), link.Size)

	status, _ = s.get(t, s.client, link.DownloadURL)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Eventually(t, func() bool { return s.workspaces(t) == 0 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"merge_success", "download_failed", "download_success", "download_failed"}, s.actions(t))
}

func TestStreamDeliveryCleansUp(t *testing.T) {
	s := newStack(t, time.Minute)

	resp := s.submit(t, "reverse_pages", "file", "stream", "%PDF-1.4 only\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 only\n", string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "reversed-document.pdf")
	assert.NotEmpty(t, resp.Header.Get("X-Batch-ID"))

	assert.Eventually(t, func() bool { return s.workspaces(t) == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestToolFailureReportsStderr(t *testing.T) {
	s := newStack(t, time.Minute)

	resp := s.submit(t, "reverse_pages", "file", "stream", "%PDF-1.4 BROKEN\n")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var problem api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, pipeline.CodeProcessing, problem.Code)
	assert.Contains(t, problem.Details["stderr"], "cannot parse")
	assert.NotEmpty(t, problem.Details["exit_label"])

	assert.Eventually(t, func() bool { return s.workspaces(t) == 0 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"reverse_pages_failed"}, s.actions(t))
}

func TestExpiredLinkIsReaped(t *testing.T) {
	s := newStack(t, 150*time.Millisecond)

	resp := s.submit(t, "merge", "files", "link", "%PDF-1.4 a\n", "%PDF-1.4 b\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var link api.LinkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&link))
	require.Equal(t, 1, s.workspaces(t))

	time.Sleep(250 * time.Millisecond)
	rep, err := s.reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reaped)
	assert.Equal(t, 0, s.workspaces(t))

	status, _ := s.get(t, s.client, link.DownloadURL)
	assert.Equal(t, http.StatusNotFound, status)
}
