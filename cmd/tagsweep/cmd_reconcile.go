package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tagsweep/internal/engine"
	"github.com/yairfalse/tagsweep/internal/export"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

var (
	reconcileKind   string
	reconcileTag    string
	reconcileDryRun bool
	reconcilePolicy string
	reconcileAudit  string
	reconcileFormat string
	reconcileOutput string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Remediate detached resources of one kind",
	Long: `Reconcile builds the same grouped view as report, then applies the kind's
remediation to every detached resource. Attached and unknown resources are
never touched. Dry run is on by default: every candidate is reported as
skipped and no cloud call is made.

Each candidate is checked against the protection policy before the call. Runs
that touch the cloud are recorded in the audit journal when one is configured.`,
	Example: `  tagsweep reconcile --kind target-group --tag VSAD
  tagsweep reconcile --kind volume --dry-run=false --audit audit.db
  tagsweep reconcile --kind function --dry-run=false --policy ./policies`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&reconcileKind, "kind", "k", "", "Resource kind (see 'tagsweep kinds')")
	reconcileCmd.Flags().StringVarP(&reconcileTag, "tag", "t", "", "Classification tag name (default from config, VSAD)")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", true, "Report what would be remediated without acting")
	reconcileCmd.Flags().StringVar(&reconcilePolicy, "policy", "", "Rego file or directory added to the built-in protection rules")
	reconcileCmd.Flags().StringVar(&reconcileAudit, "audit", "", "Audit journal path (overrides config)")
	reconcileCmd.Flags().StringVarP(&reconcileFormat, "format", "f", "table", "Output format: table, json, yaml, csv")
	reconcileCmd.Flags().StringVarP(&reconcileOutput, "output", "o", "", "Write the result to a file instead of stdout")
	_ = reconcileCmd.MarkFlagRequired("kind")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	format, err := export.ParseFormat(reconcileFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := setupOptions{
		policyPath: firstNonEmpty(reconcilePolicy, cfg.Policy.Path, "-"),
		auditPath:  firstNonEmpty(reconcileAudit, cfg.Audit.Path),
	}
	a, err := setup(cmd.Context(), cfg, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	tagName := firstNonEmpty(reconcileTag, a.cfg.Classification.Tag)
	results, runErr := a.Reconcile(cmd.Context(), resource.Kind(reconcileKind), tagName, reconcileDryRun)

	err = withOutput(cmd.OutOrStdout(), reconcileOutput, func(w io.Writer) error {
		return writeResults(w, format, results)
	})
	if runErr != nil {
		return fmt.Errorf("reconcile %s: %w", reconcileKind, runErr)
	}
	return err
}

func writeResults(w io.Writer, format export.Format, results []*engine.ReconcileResult) error {
	for i, result := range results {
		if i > 0 && format == export.FormatTable {
			_, _ = fmt.Fprintln(w)
		}
		if err := export.WriteReconcile(w, format, result); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
