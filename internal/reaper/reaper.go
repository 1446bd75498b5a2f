// Package reaper periodically expires download capabilities and removes
// workspaces nobody came back for.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AdamLaszab/zadanie-skuska/internal/events"
	"github.com/AdamLaszab/zadanie-skuska/internal/metrics"
	"github.com/AdamLaszab/zadanie-skuska/internal/workspace"
)

// Config controls tick frequency and sweep ages.
type Config struct {
	Interval time.Duration
	Sweep    workspace.SweepPolicy
}

// Report is the result of one pass.
type Report struct {
	Reaped   int
	Swept    workspace.SweepReport
	Duration time.Duration
}

// Reaper runs reap passes on a ticker until stopped.
type Reaper struct {
	cfg          Config
	capabilities CapabilityReaper
	workspaces   WorkspaceSweeper
	events       events.Publisher
	logger       *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, caps CapabilityReaper, ws WorkspaceSweeper, pub events.Publisher, logger *slog.Logger) *Reaper {
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reaper{
		cfg:          cfg,
		capabilities: caps,
		workspaces:   ws,
		events:       pub,
		logger:       logger.With("component", "reaper"),
		stopCh:       make(chan struct{}),
	}
}

// Start runs one pass immediately and then one per interval.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("starting reaper", "interval", r.cfg.Interval)
	r.wg.Add(1)
	go r.tickLoop(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

// Run blocks until ctx is done. It is Start and Stop for errgroup callers.
func (r *Reaper) Run(ctx context.Context) error {
	r.Start(ctx)
	<-ctx.Done()
	r.Stop()
	return nil
}

func (r *Reaper) tickLoop(ctx context.Context) {
	defer r.wg.Done()

	r.tick(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reap pass failed", "error", err)
	}
}

// RunOnce performs a single pass: expired capabilities first, so their
// workspaces are released through the broker before the age-based sweep
// looks at the scratch root.
func (r *Reaper) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report
	var errs []error

	if r.capabilities != nil {
		expired, err := r.capabilities.Reap(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		rep.Reaped = len(expired)
		if rep.Reaped > 0 {
			r.events.Publish(events.TypeCapabilityReaped, events.CapabilityReaped{Count: rep.Reaped})
		}
	}

	if r.workspaces != nil {
		swept, err := r.workspaces.Sweep(ctx, r.cfg.Sweep)
		if err != nil {
			errs = append(errs, err)
		}
		rep.Swept = swept
		if swept.DeletedDirs > 0 {
			metrics.WorkspacesSweptTotal.Add(float64(swept.DeletedDirs))
			r.events.Publish(events.TypeWorkspacesSwept, events.WorkspacesSwept{
				Deleted:  swept.DeletedDirs,
				Retained: swept.RetainedDirs,
			})
		}
	}

	rep.Duration = time.Since(start)
	if rep.Reaped > 0 || rep.Swept.DeletedDirs > 0 {
		r.logger.Info("reap pass complete",
			"capabilities", rep.Reaped,
			"workspaces", rep.Swept.DeletedDirs,
			"retained", rep.Swept.RetainedDirs,
			"duration", rep.Duration,
		)
	} else {
		r.logger.Debug("reap pass complete, nothing to do")
	}
	return rep, errors.Join(errs...)
}
