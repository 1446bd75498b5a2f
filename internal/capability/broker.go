package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AdamLaszab/zadanie-skuska/internal/artifact"
	"github.com/AdamLaszab/zadanie-skuska/internal/log"
	"github.com/AdamLaszab/zadanie-skuska/internal/metrics"
	"github.com/AdamLaszab/zadanie-skuska/internal/resolve"
)

// DefaultTTL is how long an issued token stays redeemable.
const DefaultTTL = 15 * time.Minute

// ArtifactOpener opens artifacts by namespace and relative path.
type ArtifactOpener interface {
	Open(ctx context.Context, namespace, relPath string) (*artifact.Object, error)
}

// WorkspaceRemover deletes a workspace by ID.
type WorkspaceRemover interface {
	Remove(ctx context.Context, id string) error
}

// Broker issues tokens for produced artifacts and redeems them exactly once.
type Broker struct {
	store      Store
	artifacts  ArtifactOpener
	workspaces WorkspaceRemover
	ttl        time.Duration
	now        func() time.Time
	rand       io.Reader
	logger     *slog.Logger
}

// NewBroker wires a broker. A non-positive ttl selects DefaultTTL.
func NewBroker(store Store, artifacts ArtifactOpener, workspaces WorkspaceRemover, ttl time.Duration) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Broker{
		store:      store,
		artifacts:  artifacts,
		workspaces: workspaces,
		ttl:        ttl,
		now:        time.Now,
		rand:       defaultRand,
		logger:     log.WithComponent("capability"),
	}
}

// TTL returns the configured token lifetime.
func (b *Broker) TTL() time.Duration { return b.ttl }

// Issue binds a fresh token to art for session.
func (b *Broker) Issue(ctx context.Context, art resolve.Artifact, session, workspaceID string) (Capability, error) {
	if strings.TrimSpace(session) == "" {
		return Capability{}, fmt.Errorf("capability session is empty")
	}
	token, err := newToken(b.rand)
	if err != nil {
		return Capability{}, err
	}

	now := b.now().UTC()
	c := Capability{
		Token:       token,
		Session:     session,
		Artifact:    art,
		WorkspaceID: workspaceID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(b.ttl),
	}
	if err := b.store.Put(ctx, c); err != nil {
		return Capability{}, err
	}
	b.logger.Debug("issued download capability", "workspace_id", workspaceID, "expires_at", c.ExpiresAt)
	return c, nil
}

// Redeem consumes token for session and opens its artifact. Closing the
// returned Download removes the workspace that held the artifact.
func (b *Broker) Redeem(ctx context.Context, token, session string) (*Download, error) {
	if token == "" || session == "" {
		metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	c, err := b.store.Take(ctx, session, token)
	if errors.Is(err, ErrNotFound) {
		metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if c.Expired(b.now()) {
		metrics.DownloadsTotal.WithLabelValues("expired").Inc()
		b.release(c)
		return nil, ErrNotFound
	}

	obj, err := b.artifacts.Open(ctx, c.Artifact.Namespace, c.Artifact.RelativePath)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("missing_artifact").Inc()
		b.logger.Warn("capability artifact unavailable", "workspace_id", c.WorkspaceID, "error", err)
		b.release(c)
		return nil, ErrNotFound
	}

	metrics.DownloadsTotal.WithLabelValues("success").Inc()
	return &Download{
		Capability: c,
		obj:        obj,
		release:    func() { b.release(c) },
	}, nil
}

// Reap removes expired capabilities and the workspaces they held.
func (b *Broker) Reap(ctx context.Context) ([]Capability, error) {
	expired, err := b.store.TakeExpired(ctx, b.now())
	for _, c := range expired {
		b.release(c)
	}
	if n := len(expired); n > 0 {
		metrics.CapabilitiesReapedTotal.Add(float64(n))
		b.logger.Info("reaped expired capabilities", "count", n)
	}
	return expired, err
}

// release cleans the workspace behind c. It must outlive the request that
// triggered it, so it does not inherit that context.
func (b *Broker) release(c Capability) {
	if c.WorkspaceID == "" || b.workspaces == nil {
		return
	}
	if err := b.workspaces.Remove(context.Background(), c.WorkspaceID); err != nil {
		b.logger.Error("workspace cleanup failed", "workspace_id", c.WorkspaceID, "error", err)
	}
}

// Download is a redeemed capability with its artifact open for reading.
type Download struct {
	Capability

	obj      *artifact.Object
	release  func()
	once     sync.Once
	closeErr error
}

func (d *Download) Read(p []byte) (int, error) { return d.obj.Read(p) }

func (d *Download) Seek(offset int64, whence int) (int64, error) { return d.obj.Seek(offset, whence) }

// Size is the artifact length in bytes.
func (d *Download) Size() int64 { return d.obj.Size }

// Close closes the artifact and cleans up its workspace. Only the first call
// has any effect; later calls return its error.
func (d *Download) Close() error {
	d.once.Do(func() {
		d.closeErr = d.obj.Close()
		if d.release != nil {
			d.release()
		}
	})
	return d.closeErr
}
