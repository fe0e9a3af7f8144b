package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tagsweep/internal/export"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

var (
	reportKind   string
	reportTag    string
	reportFormat string
	reportOutput string
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Group resources of one kind by a classification tag",
	Long: `Report lists every resource of one kind, resolves its tags and attachment
state, and groups the records by the classification tag. Resources without the
tag land in the Unclassified group; missing owner, user or creation date show
as Unknown. Nothing is modified.`,
	Example: `  tagsweep report --kind volume --tag VSAD
  tagsweep report --kind target-group --format csv --output tg.csv
  tagsweep report --kind disk --provider azure --format json`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportKind, "kind", "k", "", "Resource kind (see 'tagsweep kinds')")
	reportCmd.Flags().StringVarP(&reportTag, "tag", "t", "", "Classification tag name (default from config, VSAD)")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format: table, json, yaml, csv")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to a file instead of stdout")
	_ = reportCmd.MarkFlagRequired("kind")
}

func runReport(cmd *cobra.Command, _ []string) error {
	format, err := export.ParseFormat(reportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := setup(cmd.Context(), cfg, setupOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	tagName := reportTag
	if tagName == "" {
		tagName = a.cfg.Classification.Tag
	}

	groups, err := a.Report(cmd.Context(), resource.Kind(reportKind), tagName)
	if err != nil {
		return fmt.Errorf("report %s: %w", reportKind, err)
	}

	return withOutput(cmd.OutOrStdout(), reportOutput, func(w io.Writer) error {
		return export.WriteReport(w, format, groups)
	})
}

// withOutput writes to path when set, otherwise to stdout.
func withOutput(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
