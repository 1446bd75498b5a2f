package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AdamLaszab/zadanie-skuska/internal/config"
	"github.com/AdamLaszab/zadanie-skuska/internal/lock"
	"github.com/AdamLaszab/zadanie-skuska/internal/log"
)

func sweepCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reap expired download links and remove abandoned workspaces once",
		Long: `Runs a single reaper pass against the configured state database and scratch
directory. With the memory capability backend only workspaces are swept, since
live links exist only inside the server process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
			if pid, running := lock.Holder(lockPath(cfg)); running {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s server pid %d is running; its reaper sweeps every %s\n",
					ui.warn("[WARN]"), pid, cfg.Capability.ReapInterval)
			}

			a, err := buildApp(cmd.Context(), cfg, log.WithComponent("sweep"))
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reaper.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%s reaped %d link(s), removed %d workspace(s), kept %d retained in %s\n",
				ui.ok("[OK]"), report.Reaped, report.Swept.DeletedDirs, report.Swept.RetainedDirs, report.Duration.Round(1e6))
			return err
		},
	}
}
