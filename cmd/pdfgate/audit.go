package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/config"
	"github.com/AdamLaszab/zadanie-skuska/internal/storage"
	"github.com/AdamLaszab/zadanie-skuska/internal/tui/auditlog"
)

// openTrail opens the audit table of the configured state database.
func openTrail(ctx context.Context, configPath string) (*audit.SQLiteStore, *sql.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return audit.NewSQLiteStore(db), db, nil
}

func auditCmd(g *globals, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read or purge the audit log in the state database",
	}

	var page, perPage int
	list := &cobra.Command{
		Use:   "list",
		Short: "Print one page of entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, db, err := openTrail(cmd.Context(), g.configPath)
			if err != nil {
				return err
			}
			defer db.Close()
			p, err := trail.List(cmd.Context(), page, perPage)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), ui, p)
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&perPage, "per-page", 50, "Entries per page")

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the whole log as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, db, err := openTrail(cmd.Context(), g.configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return trail.ExportCSV(cmd.Context(), w)
		},
	}
	export.Flags().StringVarP(&out, "output", "o", "-", "CSV destination, - for stdout")

	var yes bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every entry and reset ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to purge without --yes")
			}
			trail, db, err := openTrail(cmd.Context(), g.configPath)
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := trail.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s purged %d entries\n", ui.ok("[OK]"), n)
			return nil
		},
	}
	purge.Flags().BoolVar(&yes, "yes", false, "Confirm the purge")

	browse := &cobra.Command{
		Use:   "browse",
		Short: "Page through the log in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, db, err := openTrail(cmd.Context(), g.configPath)
			if err != nil {
				return err
			}
			defer db.Close()
			_, err = tea.NewProgram(auditlog.New(trail, perPage), tea.WithAltScreen()).Run()
			return err
		},
	}
	browse.Flags().IntVar(&perPage, "per-page", 50, "Entries per page")

	cmd.AddCommand(list, export, purge, browse)
	return cmd
}

func printEntries(w io.Writer, ui *ui, p audit.Page) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, ui.title("ID\tWHEN\tACTION\tCHANNEL\tUSER\tIP\tDETAIL"))
	for _, e := range p.Entries {
		user := "-"
		if e.ActorID != nil {
			user = *e.ActorID
		}
		action := ui.ok(e.Action)
		if strings.HasSuffix(e.Action, "_failed") {
			action = ui.err(e.Action)
		}
		detail := e.Detail
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04:05"), action, e.Channel, user, e.ClientIP,
			strings.ReplaceAll(detail, "\n", " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, ui.dim(fmt.Sprintf("page %d, %d of %d entries", p.Page, len(p.Entries), p.Total)))
	return err
}
