// Package resolve reconciles where the tool says it wrote its output with
// where it was asked to write it.
package resolve

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/AdamLaszab/zadanie-skuska/internal/log"
)

// Artifact locates a produced file inside a storage namespace. It is passed
// by value and never mutated.
type Artifact struct {
	Namespace    string `json:"namespace"`
	RelativePath string `json:"relative_path"`
	DisplayName  string `json:"display_name"`
	Size         int64  `json:"size"`
	// Digest is the hex BLAKE3-256 of the file contents.
	Digest string `json:"digest"`
}

// OutputMissingError means neither the reported nor the expected output
// path names a file in the batch's workspace.
type OutputMissingError struct {
	Workspace string
	Hint      string
	Reported  string
}

func (e *OutputMissingError) Error() string {
	if e.Reported == "" {
		return fmt.Sprintf("output file was not created (expected %q)", e.Hint)
	}
	return fmt.Sprintf("output file was not created (expected %q, tool reported %q)", e.Hint, e.Reported)
}

// Candidates returns the expected and reported paths relative to the
// workspace. A path outside it is reduced to its base name so host paths
// never reach a client.
func (e *OutputMissingError) Candidates() (hint, reported string) {
	return workspaceName(e.Workspace, e.Hint), workspaceName(e.Workspace, e.Reported)
}

func workspaceName(workspace, path string) string {
	if path == "" {
		return ""
	}
	if rel, ok := within(workspace, path); ok {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}

func within(dir, path string) (string, bool) {
	if dir == "" || !filepath.IsAbs(path) {
		return "", false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// Resolver finds artifacts under one namespace root.
type Resolver struct {
	namespace string
	root      string
	logger    *slog.Logger
}

// NewResolver returns a resolver confined to root.
func NewResolver(namespace, root string) (*Resolver, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("resolver namespace is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve namespace root: %w", err)
	}
	return &Resolver{
		namespace: namespace,
		root:      filepath.Clean(abs),
		logger:    log.WithComponent("resolve"),
	}, nil
}

// Resolve prefers the path the tool printed on stdout and falls back to the
// path it was asked to write. Either must be a regular file inside
// workspace, the directory owned by this batch. A zero exit status alone is
// never taken as proof that an artifact exists.
func (r *Resolver) Resolve(workspace, hint, stdout, displayName string) (Artifact, error) {
	reported := strings.TrimSpace(stdout)
	missing := &OutputMissingError{Workspace: workspace, Hint: hint, Reported: reported}

	scope, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return Artifact{}, missing
	}
	root, err := filepath.EvalSymlinks(r.root)
	if err != nil {
		return Artifact{}, fmt.Errorf("namespace root: %w", err)
	}
	if _, ok := within(root, scope); !ok {
		return Artifact{}, fmt.Errorf("workspace %s is outside namespace %s", workspace, r.namespace)
	}

	for _, candidate := range []string{reported, hint} {
		if candidate == "" {
			continue
		}
		resolved, info, ok := r.locate(candidate, scope)
		if !ok {
			if candidate == reported {
				r.logger.Debug("reported output not usable, falling back to hint", "reported", reported)
			}
			continue
		}

		rel, _ := within(root, resolved)
		digest, err := fileDigest(resolved)
		if err != nil {
			return Artifact{}, fmt.Errorf("digest output: %w", err)
		}
		if displayName == "" {
			displayName = filepath.Base(rel)
		}
		return Artifact{
			Namespace:    r.namespace,
			RelativePath: filepath.ToSlash(rel),
			DisplayName:  displayName,
			Size:         info.Size(),
			Digest:       digest,
		}, nil
	}

	return Artifact{}, missing
}

// locate returns the symlink-free path of candidate when it is an existing
// regular file inside scope.
func (r *Resolver) locate(candidate, scope string) (string, os.FileInfo, bool) {
	if !filepath.IsAbs(candidate) {
		return "", nil, false
	}
	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() {
		return "", nil, false
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", nil, false
	}
	if _, ok := within(scope, resolved); !ok {
		r.logger.Warn("ignoring output path outside the batch workspace", "path", candidate)
		return "", nil, false
	}
	return resolved, info, true
}

// fileDigest hashes path with BLAKE3-256.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
