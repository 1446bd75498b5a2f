package capability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamLaszab/zadanie-skuska/internal/artifact"
	"github.com/AdamLaszab/zadanie-skuska/internal/resolve"
)

// fileLikeReader fails a second Close the way *os.File does.
type fileLikeReader struct {
	*bytes.Reader
	closed bool
}

func (r *fileLikeReader) Close() error {
	if r.closed {
		return os.ErrClosed
	}
	r.closed = true
	return nil
}

type fakeOpener struct {
	data map[string]string
}

func (f *fakeOpener) Open(ctx context.Context, namespace, relPath string) (*artifact.Object, error) {
	body, ok := f.data[namespace+"/"+relPath]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	return &artifact.Object{ReadSeekCloser: &fileLikeReader{Reader: bytes.NewReader([]byte(body))}, Size: int64(len(body))}, nil
}

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	return nil
}

func (r *recordingRemover) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func newTestBroker(t *testing.T) (*Broker, *recordingRemover, *time.Time) {
	t.Helper()
	remover := &recordingRemover{}
	opener := &fakeOpener{data: map[string]string{"scratch/ws-1/out.pdf": "%PDF-result"}}
	b := NewBroker(NewMemoryStore(), opener, remover, time.Minute)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, remover, &now
}

var testArtifact = resolve.Artifact{Namespace: "scratch", RelativePath: "ws-1/out.pdf", DisplayName: "merged-document.pdf"}

func TestBrokerIssueAndRedeem(t *testing.T) {
	b, remover, _ := newTestBroker(t)
	ctx := context.Background()

	c, err := b.Issue(ctx, testArtifact, "sess-a", "ws-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(c.Token), 40)
	assert.Equal(t, time.Minute, c.ExpiresAt.Sub(c.IssuedAt))

	dl, err := b.Redeem(ctx, c.Token, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, "merged-document.pdf", dl.Artifact.DisplayName)
	assert.Equal(t, int64(len("%PDF-result")), dl.Size())

	body, err := io.ReadAll(dl)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-result", string(body))
	assert.Empty(t, remover.list(), "workspace must survive until the stream is closed")

	require.NoError(t, dl.Close())
	require.NoError(t, dl.Close(), "closing twice is harmless")
	assert.Equal(t, []string{"ws-1"}, remover.list())

	_, err = b.Redeem(ctx, c.Token, "sess-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBrokerTokensAreUnique(t *testing.T) {
	b, _, _ := newTestBroker(t)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		c, err := b.Issue(context.Background(), testArtifact, "sess-a", "ws-1")
		require.NoError(t, err)
		assert.NotContains(t, c.Token, "=")
		assert.False(t, strings.ContainsAny(c.Token, "+/"))
		_, dup := seen[c.Token]
		require.False(t, dup)
		seen[c.Token] = struct{}{}
	}
}

func TestBrokerRejectsEmptySession(t *testing.T) {
	b, _, _ := newTestBroker(t)
	_, err := b.Issue(context.Background(), testArtifact, " ", "ws-1")
	assert.Error(t, err)
}

func TestBrokerForeignSessionIsIndistinguishable(t *testing.T) {
	b, remover, _ := newTestBroker(t)
	ctx := context.Background()
	c, err := b.Issue(ctx, testArtifact, "sess-a", "ws-1")
	require.NoError(t, err)

	_, err = b.Redeem(ctx, c.Token, "sess-b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Redeem(ctx, "never-issued", "sess-a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, remover.list())

	dl, err := b.Redeem(ctx, c.Token, "sess-a")
	require.NoError(t, err)
	_ = dl.Close()
}

func TestBrokerExpiredTokenIsNotRedeemable(t *testing.T) {
	b, remover, now := newTestBroker(t)
	ctx := context.Background()
	c, err := b.Issue(ctx, testArtifact, "sess-a", "ws-1")
	require.NoError(t, err)

	*now = now.Add(time.Minute)

	_, err = b.Redeem(ctx, c.Token, "sess-a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"ws-1"}, remover.list())
}

func TestBrokerMissingArtifactReleasesWorkspace(t *testing.T) {
	b, remover, _ := newTestBroker(t)
	ctx := context.Background()
	art := testArtifact
	art.RelativePath = "ws-2/gone.pdf"
	c, err := b.Issue(ctx, art, "sess-a", "ws-2")
	require.NoError(t, err)

	_, err = b.Redeem(ctx, c.Token, "sess-a")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, []string{"ws-2"}, remover.list())
}

func TestBrokerReap(t *testing.T) {
	b, remover, now := newTestBroker(t)
	ctx := context.Background()
	_, err := b.Issue(ctx, testArtifact, "sess-a", "ws-1")
	require.NoError(t, err)

	reaped, err := b.Reap(ctx)
	require.NoError(t, err)
	assert.Empty(t, reaped)

	*now = now.Add(2 * time.Minute)
	reaped, err = b.Reap(ctx)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, []string{"ws-1"}, remover.list())
}
