package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tagsweep/internal/audit"
	"github.com/yairfalse/tagsweep/internal/export"
)

var (
	auditPath   string
	auditLimit  int
	auditFormat string
)

// auditCmd inspects the reconcile journal
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect journaled reconcile runs",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAuditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show RUN",
	Short: "Show the outcomes of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditShowCmd)

	auditCmd.PersistentFlags().StringVar(&auditPath, "audit", "", "Audit journal path (overrides config)")
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	auditShowCmd.Flags().StringVarP(&auditFormat, "format", "f", "table", "Output format: table, json, yaml, csv")
}

func openJournal() (*audit.Journal, error) {
	path := auditPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Audit.Path
	}
	if path == "" {
		return nil, errors.New("no audit journal configured (use --audit or [audit] path)")
	}
	return audit.Open(path)
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	runs, err := j.List(auditLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No runs journaled.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REV\tRUN\tSTARTED\tPROVIDER\tKIND\tSUCCEEDED\tFAILED\tPROTECTED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.Revision, r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Provider, r.Kind,
			r.Counts.Succeeded, r.Counts.Failed, r.Counts.Protected)
	}
	return w.Flush()
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(auditFormat)
	if err != nil {
		return err
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	run, err := j.Get(args[0])
	if err != nil {
		return err
	}
	return export.WriteReconcile(cmd.OutOrStdout(), format, run)
}
