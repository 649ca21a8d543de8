package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/codefionn/deskrelay/internal/journal"
	"github.com/spf13/cobra"
)

var journalLimit int

// actionsCmd runs discovery without starting the server.
var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the actions the server would register",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		reg, cleanup, err := buildRegistry(cfg, newDesktop(cfg))
		if err != nil {
			return err
		}
		defer cleanup()

		gen, err := reg.Reload(cmd.Context())
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACTION\tSOURCE")
		for _, name := range gen.Names() {
			entry, _ := gen.Lookup(name)
			fmt.Fprintf(w, "%s\t%s\n", name, entry.Source)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d actions, fingerprint %s\n", gen.Len(), gen.FingerprintHex())
		return nil
	},
}

// journalCmd prints recent journal rows.
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent dispatches from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JournalPath == "" {
			return errors.New("journal_path is not configured")
		}

		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		entries, err := j.Recent(cmd.Context(), journalLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCONNECTION\tACTION\tSTATUS\tCODE\tDURATION\tGEN")
		for _, e := range entries {
			conn := e.ConnID
			if len(conn) > 8 {
				conn = conn[:8]
			}
			name := e.Action
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
				e.Time.Local().Format(time.DateTime), conn, name, e.Status, e.ErrorCode,
				e.Duration.Round(time.Microsecond), e.Generation)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "Number of rows to show")
}
