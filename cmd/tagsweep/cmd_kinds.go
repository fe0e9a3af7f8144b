package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// kindsCmd lists the kinds the configured provider supports
var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List supported resource kinds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := setup(cmd.Context(), cfg, setupOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		e := a.engines[0]
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "KIND\tREMEDIATION")
		_, _ = fmt.Fprintln(w, "----\t-----------")
		for _, kind := range e.Kinds() {
			action := "report only"
			if act, ok := e.Remediable(kind); ok {
				action = string(act)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\n", kind, action)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}
