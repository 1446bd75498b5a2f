// Package artifact opens produced files by namespace and relative path, so
// capabilities never carry absolute paths.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when the artifact is gone.
var ErrNotFound = errors.New("artifact not found")

// Object is an opened artifact.
type Object struct {
	io.ReadSeekCloser
	Size int64
}

// Backend reads artifacts from one namespace.
type Backend interface {
	Open(ctx context.Context, relPath string) (*Object, error)
}

type localBackend struct {
	rootDir string
}

// NewLocalBackend serves files below rootDir.
func NewLocalBackend(rootDir string) Backend {
	return &localBackend{rootDir: filepath.Clean(rootDir)}
}

func (b *localBackend) Open(ctx context.Context, relPath string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("artifact path %q escapes namespace", relPath)
	}

	f, err := os.Open(filepath.Join(b.rootDir, clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return &Object{ReadSeekCloser: f, Size: info.Size()}, nil
}

// Registry maps namespace names to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds name to b, replacing any earlier binding.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Open resolves the namespace and opens relPath in it.
func (r *Registry) Open(ctx context.Context, namespace, relPath string) (*Object, error) {
	r.mu.RLock()
	b, ok := r.backends[namespace]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown artifact namespace %q", namespace)
	}
	return b.Open(ctx, relPath)
}
