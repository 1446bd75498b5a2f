package reaper

import (
	"context"

	"github.com/AdamLaszab/zadanie-skuska/internal/capability"
	"github.com/AdamLaszab/zadanie-skuska/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_reaper.go -package=mocks github.com/AdamLaszab/zadanie-skuska/internal/reaper CapabilityReaper,WorkspaceSweeper

// CapabilityReaper removes expired download capabilities and the
// workspaces they held.
type CapabilityReaper interface {
	Reap(ctx context.Context) ([]capability.Capability, error)
}

// WorkspaceSweeper removes abandoned workspaces.
type WorkspaceSweeper interface {
	Sweep(ctx context.Context, policy workspace.SweepPolicy) (workspace.SweepReport, error)
}
