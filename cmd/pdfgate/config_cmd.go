package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AdamLaszab/zadanie-skuska/internal/config"
	"github.com/AdamLaszab/zadanie-skuska/internal/doctor"
)

func configCmd(g *globals, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, inspect and lock configuration",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Load the configuration and run preflight checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			files, err := config.Files(g.configPath)
			if err != nil {
				return err
			}
			hash, err := config.Hash(g.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result := doctor.New(cfg).Validate()
			printIssues(out, ui, result)
			if !result.Valid {
				return fmt.Errorf("preflight found %d error(s)", len(result.Errors))
			}
			fmt.Fprintf(out, "%s configuration valid\n", ui.ok("[OK]"))
			for _, f := range files {
				fmt.Fprintf(out, "  %s\n", ui.dim(f))
			}
			fmt.Fprintf(out, "  backend: %s, link ttl: %s, tool timeout: %s, sweep after: %s\n",
				cfg.Capability.Backend, cfg.Capability.TTL, cfg.Tool.Timeout, cfg.Pipeline.SweepAfter)
			fmt.Fprintf(out, "  fingerprint: %s\n", hash)
			return nil
		},
	}

	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Record BLAKE3 checksums of the config files in .checksums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := config.Lock(g.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range report.Files {
				fmt.Fprintf(out, "  %s  %s\n", f.Digest[:16], f.Name)
			}
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "%s %s is outside the config directory and stays unlocked\n", ui.warn("[WARN]"), s)
			}
			fmt.Fprintf(out, "%s wrote %s\n", ui.ok("[OK]"), report.ManifestPath)
			return nil
		},
	}

	var jsonOut bool
	get := &cobra.Command{
		Use:     "get <path>",
		Short:   "Print one setting, secrets redacted",
		Example: "  pdfgate config get capability.ttl",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			val, err := cfg.GetPath(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				data, err := json.MarshalIndent(val, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if _, scalar := val.(map[string]any); !scalar {
				if _, list := val.([]any); !list {
					fmt.Fprintf(cmd.OutOrStdout(), "%v\n", val)
					return nil
				}
			}
			data, err := yaml.Marshal(val)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	get.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	cmd.AddCommand(check, lockCmd, get)
	return cmd
}

func printIssues(w io.Writer, ui *ui, r *doctor.Result) {
	for _, e := range r.Errors {
		fmt.Fprintf(w, "%s %s\n", ui.err("[ERROR]"), e)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", ui.warn("[WARN]"), warn)
	}
}
