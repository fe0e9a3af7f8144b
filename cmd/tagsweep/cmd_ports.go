package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tagsweep/internal/engine"
	"github.com/yairfalse/tagsweep/internal/export"
)

var (
	portsThreshold int
	portsPrefix    string
	portsFormat    string
	portsOutput    string
)

// portsCmd reports instances registered on many ports of one target group
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Find instances registered on many ports of a target group",
	Long: `Ports lists instance target groups, reads their registered targets and
reports every instance registered on at least --threshold distinct ports of
the same group. Target groups whose targets cannot be read are logged and
skipped. AWS only.`,
	Example: `  tagsweep ports --region us-east-1 --format csv --output ports.csv
  tagsweep ports --threshold 3 --prefix web-`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().IntVar(&portsThreshold, "threshold", engine.DefaultPortThreshold, "Minimum number of distinct ports")
	portsCmd.Flags().StringVar(&portsPrefix, "prefix", "", "Only target groups whose name starts with this prefix")
	portsCmd.Flags().StringVarP(&portsFormat, "format", "f", "table", "Output format: table, json, yaml, csv")
	portsCmd.Flags().StringVarP(&portsOutput, "output", "o", "", "Write the report to a file instead of stdout")
}

func runPorts(cmd *cobra.Command, _ []string) error {
	format, err := export.ParseFormat(portsFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portsPrefix != "" {
		cfg.Filter.NamePrefix = portsPrefix
	}
	a, err := setup(cmd.Context(), cfg, setupOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	usage, err := a.Ports(cmd.Context(), portsThreshold)
	if err != nil {
		return fmt.Errorf("ports: %w", err)
	}

	return withOutput(cmd.OutOrStdout(), portsOutput, func(w io.Writer) error {
		return export.WritePorts(w, format, usage)
	})
}
