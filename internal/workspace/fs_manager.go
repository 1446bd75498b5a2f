package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// retainMarker flags a failed workspace kept for inspection.
const retainMarker = ".retained"

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// fsWorkspaceManager manages per-batch workspace directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time
	newID   func() string
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base directory: %w", err)
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(abs),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

func (m *fsWorkspaceManager) Root() string { return m.baseDir }

// Create allocates <baseDir>/<uuid>. Random IDs make concurrent requests
// collision-free without locking.
func (m *fsWorkspaceManager) Create(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, &CreationError{Path: m.baseDir, Err: err}
	}

	id := m.newID()
	path, err := m.workspacePath(id)
	if err != nil {
		return nil, &CreationError{Path: filepath.Join(m.baseDir, id), Err: err}
	}
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, &CreationError{Path: path, Err: err}
	}

	return &Workspace{ID: id, Root: path, status: StatusCreated}, nil
}

// Stage copies in.Body to <root>/<uuid><ext>. The file is created
// exclusively, so nothing already staged is ever overwritten, and its
// presence and size are confirmed after the copy.
func (m *fsWorkspaceManager) Stage(ctx context.Context, ws *Workspace, in Upload) (StagedInput, error) {
	if err := ctx.Err(); err != nil {
		return StagedInput{}, err
	}
	stageErr := func(err error) error {
		return &StagingError{WorkspaceID: ws.ID, OriginalName: in.OriginalName, Err: err}
	}

	if in.Body == nil {
		return StagedInput{}, stageErr(fmt.Errorf("upload has no body"))
	}
	info, err := os.Stat(ws.Root)
	if err != nil {
		return StagedInput{}, stageErr(fmt.Errorf("workspace directory: %w", err))
	}
	if !info.IsDir() {
		return StagedInput{}, stageErr(fmt.Errorf("workspace path is not a directory"))
	}

	name := m.newID() + stagedExt(in.OriginalName)
	path := filepath.Join(ws.Root, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return StagedInput{}, stageErr(err)
	}
	written, copyErr := io.Copy(f, in.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return StagedInput{}, stageErr(fmt.Errorf("copy upload: %w", copyErr))
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return StagedInput{}, stageErr(fmt.Errorf("close staged file: %w", closeErr))
	}

	staged, err := os.Stat(path)
	if err != nil {
		return StagedInput{}, stageErr(fmt.Errorf("verify staged file: %w", err))
	}
	if staged.Size() != written {
		return StagedInput{}, stageErr(fmt.Errorf("staged size %d, wrote %d bytes", staged.Size(), written))
	}

	if err := ws.Transition(StatusStaged); err != nil {
		return StagedInput{}, stageErr(err)
	}
	input := StagedInput{
		OriginalName: in.OriginalName,
		FileName:     name,
		Path:         path,
		Size:         written,
	}
	ws.Inputs = append(ws.Inputs, input)
	return input, nil
}

// PlanOutput records <root>/<uuid><ext> as the path handed to the tool.
func (m *fsWorkspaceManager) PlanOutput(ws *Workspace, ext string) (string, error) {
	if ws.Root == "" {
		return "", fmt.Errorf("workspace %s has no root", ws.ID)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ws.ExpectedOutput = filepath.Join(ws.Root, m.newID()+ext)
	return ws.ExpectedOutput, nil
}

// Cleanup removes the workspace tree. A workspace that never reached
// resolved is recorded as failed first. Repeated calls are no-ops.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, ws *Workspace) error {
	if ws == nil || ws.Status() == StatusCleaned {
		return nil
	}
	if ws.Status() != StatusResolved && ws.Status() != StatusFailed {
		if err := ws.Transition(StatusFailed); err != nil {
			return err
		}
	}
	if err := m.Remove(ctx, ws.ID); err != nil {
		return err
	}
	return ws.Transition(StatusCleaned)
}

// Retain leaves a failed workspace on disk with a marker so the retention
// sweep can find it.
func (m *fsWorkspaceManager) Retain(ctx context.Context, ws *Workspace) error {
	if ws.Status() != StatusFailed {
		if err := ws.Transition(StatusFailed); err != nil {
			return err
		}
	}
	marker := filepath.Join(ws.Root, retainMarker)
	if err := os.WriteFile(marker, []byte(m.now().UTC().Format(time.RFC3339Nano)), 0o600); err != nil {
		return fmt.Errorf("mark workspace %s retained: %w", ws.ID, err)
	}
	return nil
}

// Remove deletes the workspace directory for id. A missing directory is not
// an error.
func (m *fsWorkspaceManager) Remove(ctx context.Context, id string) error {
	path, err := m.workspacePath(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace %q: %w", id, err)
	}
	return nil
}

// Sweep removes workspace directories whose modification time is older than
// the policy allows.
func (m *fsWorkspaceManager) Sweep(ctx context.Context, policy SweepPolicy) (SweepReport, error) {
	if err := ctx.Err(); err != nil {
		return SweepReport{}, err
	}
	if policy.OlderThan <= 0 {
		return SweepReport{}, fmt.Errorf("olderThan must be positive")
	}
	retainedFor := policy.RetainedFor
	if retainedFor <= 0 {
		retainedFor = policy.OlderThan
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return SweepReport{}, nil
	}
	if err != nil {
		return SweepReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	now := m.now()
	report := SweepReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || validateID(entry.Name()) != nil {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}

		path := filepath.Join(m.baseDir, entry.Name())
		retained := fileExists(filepath.Join(path, retainMarker))
		cutoff := now.Add(-policy.OlderThan)
		if retained {
			cutoff = now.Add(-retainedFor)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
		if retained {
			report.RetainedDirs++
		}
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, id), nil
}

// stagedExt keeps a short alphanumeric extension from the original name.
func stagedExt(original string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(original), "."))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return "." + ext
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func validateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("workspace id is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("workspace id %q is invalid", id)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("workspace id %q must not contain path separators", id)
	}
	if filepath.Clean(trimmed) != trimmed || trimmed != id {
		return fmt.Errorf("workspace id %q is invalid", id)
	}
	return nil
}
