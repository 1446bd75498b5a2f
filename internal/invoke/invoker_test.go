//go:build unix

package invoke

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
)

const fakeToolHeader = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
`

func writeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeToolHeader+body), 0o755))
	return path
}

func newInvocation(t *testing.T) Invocation {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.4"), 0o600))
	return Invocation{
		BatchID:   "batch-1",
		Operation: operation.ReversePages{},
		Inputs:    []string{in},
		Output:    filepath.Join(dir, "out.pdf"),
	}
}

func TestNewProcessInvokerDefaults(t *testing.T) {
	_, err := NewProcessInvoker(Config{})
	require.Error(t, err)

	p, err := NewProcessInvoker(Config{Executable: "python3", Script: "pdf.py"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, p.cfg.Timeout)
	assert.Equal(t, DefaultKillGrace, p.cfg.KillGrace)

	argv, err := p.Command(Invocation{Operation: operation.Decrypt{Password: "p w"}, Inputs: []string{"/w/a.pdf"}, Output: "/w/o.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "pdf.py", "--operation", "decrypt", "--input", "/w/a.pdf", "--password", "p w", "--output", "/w/o.pdf"}, argv)
}

func TestInvokeSuccessCapturesStreams(t *testing.T) {
	tool := writeTool(t, `printf 'W::careful\n' >&2
printf 'data' > "$out"
printf '%s' "$out"
`)
	p, err := NewProcessInvoker(Config{Executable: tool, Timeout: 5 * time.Second})
	require.NoError(t, err)

	inv := newInvocation(t)
	res, err := p.Invoke(context.Background(), inv)
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, inv.Output, res.Stdout)
	assert.Equal(t, "W::careful\n", res.Stderr)
	got, err := os.ReadFile(inv.Output)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestInvokeArgumentsAreNotShellInterpreted(t *testing.T) {
	tool := writeTool(t, `printf 'x' > "$out"
printf '%s' "$out"
`)
	p, err := NewProcessInvoker(Config{Executable: tool, Timeout: 5 * time.Second})
	require.NoError(t, err)

	dir := t.TempDir()
	marker := filepath.Join(dir, "pwned")
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF"), 0o600))

	_, err = p.Invoke(context.Background(), Invocation{
		Operation: operation.Encrypt{UserPassword: "$(touch " + marker + ")"},
		Inputs:    []string{in},
		Output:    filepath.Join(dir, "out.pdf"),
	})
	require.NoError(t, err)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "password was evaluated by a shell")
}

func TestInvokeNonZeroExit(t *testing.T) {
	tool := writeTool(t, `echo "PAGE_RANGE_ERROR::Invalid page number: '9'" >&2
exit 8
`)
	p, err := NewProcessInvoker(Config{Executable: tool, Timeout: 5 * time.Second})
	require.NoError(t, err)

	res, err := p.Invoke(context.Background(), newInvocation(t))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)

	assert.Equal(t, ReasonExit, execErr.Reason)
	assert.Equal(t, 8, execErr.ExitCode)
	assert.Equal(t, 8, res.ExitCode)
	assert.Contains(t, execErr.Stderr, "Invalid page number")
	require.Len(t, execErr.Diagnostics, 1)
	assert.Equal(t, "PAGE_RANGE_ERROR", execErr.Diagnostics[0].Code)
	assert.Contains(t, execErr.Error(), "page_range")
}

func TestInvokeStartFailure(t *testing.T) {
	p, err := NewProcessInvoker(Config{Executable: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), newInvocation(t))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ReasonStart, execErr.Reason)
	assert.Equal(t, -1, execErr.ExitCode)
}

func TestInvokeTimeoutEscalatesToKill(t *testing.T) {
	tool := writeTool(t, `trap '' TERM
echo started >&2
sleep 30
`)
	p, err := NewProcessInvoker(Config{Executable: tool, Timeout: 200 * time.Millisecond, KillGrace: 200 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Invoke(context.Background(), newInvocation(t))
	elapsed := time.Since(start)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	assert.Equal(t, ReasonTimeout, execErr.Reason)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, elapsed, 10*time.Second)
}

func TestInvokeTimeoutKillsProcessGroup(t *testing.T) {
	// The background sleep keeps stdout open; Invoke only returns promptly
	// if the whole group is terminated.
	tool := writeTool(t, `sleep 30 &
wait
`)
	p, err := NewProcessInvoker(Config{Executable: tool, Timeout: 200 * time.Millisecond, KillGrace: time.Second})
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Invoke(context.Background(), newInvocation(t))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ReasonTimeout, execErr.Reason)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestInvokeReturnsWhenToolExitsBeforeItsChildren(t *testing.T) {
	// The backgrounded sleep inherits stdout and outlives the tool.
	tool := writeTool(t, `printf 'data' > "$out"
printf '%s' "$out"
sleep 30 &
exit 0
`)
	p, err := NewProcessInvoker(Config{Executable: tool, Timeout: 20 * time.Second})
	require.NoError(t, err)

	inv := newInvocation(t)
	start := time.Now()
	res, err := p.Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, inv.Output, res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestInvokeCanceledContext(t *testing.T) {
	tool := writeTool(t, "sleep 30\n")
	p, err := NewProcessInvoker(Config{Executable: tool, Timeout: time.Minute, KillGrace: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err = p.Invoke(ctx, newInvocation(t))
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ReasonCanceled, execErr.Reason)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}

func TestParseDiagnostics(t *testing.T) {
	got := ParseDiagnostics("noise\nDECRYPTION_FAILED::Password error occurred: bad\n  IO_ERROR:: disk full \nnot a code:: x\n")
	assert.Equal(t, []Diagnostic{
		{Code: "DECRYPTION_FAILED", Message: "Password error occurred: bad"},
		{Code: "IO_ERROR", Message: "disk full"},
	}, got)
	assert.Empty(t, ParseDiagnostics(strings.Repeat("x", 10)))
}

func TestExitLabel(t *testing.T) {
	assert.Equal(t, "decryption", ExitLabel(7))
	assert.Equal(t, "unknown", ExitLabel(42))
}
