package workspace

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Status is a point in a batch workspace's lifecycle.
type Status string

const (
	StatusCreated  Status = "created"
	StatusStaged   Status = "staged"
	StatusInvoked  Status = "invoked"
	StatusResolved Status = "resolved"
	StatusFailed   Status = "failed"
	StatusCleaned  Status = "cleaned"
)

var forwardRank = map[Status]int{
	StatusCreated:  0,
	StatusStaged:   1,
	StatusInvoked:  2,
	StatusResolved: 3,
}

// Upload is one incoming document to be staged.
type Upload struct {
	OriginalName string
	Body         io.Reader
}

// StagedInput is an upload after it has been copied into the workspace.
type StagedInput struct {
	OriginalName string
	// FileName is the collision-free name inside the workspace root.
	FileName string
	Path     string
	Size     int64
}

// Workspace is the scratch directory owned by exactly one request.
//
// Only absolute paths live here; persisted records (capabilities, audit
// entries) refer to the workspace by ID so the scratch root can move.
type Workspace struct {
	ID             string
	Root           string
	Inputs         []StagedInput
	ExpectedOutput string

	status Status
}

// Status returns the current lifecycle state.
func (w *Workspace) Status() Status {
	if w.status == "" {
		return StatusCreated
	}
	return w.status
}

// InputPaths returns the staged paths in upload order.
func (w *Workspace) InputPaths() []string {
	paths := make([]string, 0, len(w.Inputs))
	for _, in := range w.Inputs {
		paths = append(paths, in.Path)
	}
	return paths
}

// Transition moves the workspace to next. States only move forward; any
// live state may fail, and only resolved or failed workspaces are cleaned.
func (w *Workspace) Transition(next Status) error {
	cur := w.Status()
	if !canTransition(cur, next) {
		return fmt.Errorf("workspace %s: invalid transition %s -> %s", w.ID, cur, next)
	}
	w.status = next
	return nil
}

func canTransition(from, to Status) bool {
	switch to {
	case StatusFailed:
		_, live := forwardRank[from]
		return live
	case StatusCleaned:
		return from == StatusResolved || from == StatusFailed
	}

	fr, ok := forwardRank[from]
	if !ok {
		return false
	}
	tr, ok := forwardRank[to]
	if !ok {
		return false
	}
	if from == StatusStaged && to == StatusStaged {
		return true
	}
	return tr == fr+1
}

// SweepPolicy selects which abandoned workspaces Sweep removes.
type SweepPolicy struct {
	// OlderThan applies to ordinary workspaces.
	OlderThan time.Duration
	// RetainedFor applies to workspaces kept after a failure.
	RetainedFor time.Duration
}

// SweepReport summarizes a sweep run.
type SweepReport struct {
	DeletedDirs  int
	RetainedDirs int
}

// Manager governs the lifecycle of batch workspaces under one scratch root.
type Manager interface {
	// Create allocates a fresh, uniquely named workspace.
	Create(ctx context.Context) (*Workspace, error)

	// Stage copies an upload into ws under a collision-free name.
	Stage(ctx context.Context, ws *Workspace, in Upload) (StagedInput, error)

	// PlanOutput derives and records the expected output path for ws.
	PlanOutput(ws *Workspace, ext string) (string, error)

	// Cleanup removes ws from disk. It is safe to call more than once.
	Cleanup(ctx context.Context, ws *Workspace) error

	// Retain keeps a failed workspace on disk until the retention sweep.
	Retain(ctx context.Context, ws *Workspace) error

	// Remove deletes the workspace with the given ID, if present.
	Remove(ctx context.Context, id string) error

	// Sweep removes workspaces abandoned for longer than the policy allows.
	Sweep(ctx context.Context, policy SweepPolicy) (SweepReport, error)

	// Root is the scratch namespace every workspace lives under.
	Root() string
}
