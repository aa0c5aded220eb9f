package main

import (
	"fmt"

	"github.com/YuminosukeSato/cropsense/internal/report"
	"github.com/spf13/cobra"
)

func newImportanceCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "importance",
		Short: "Print feature importances and optionally chart them",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.recommender(cmd.Context())
			if err != nil {
				return err
			}
			imp, err := rec.FeatureImportances()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, fi := range imp {
				fmt.Fprintf(w, "%-12s %6.2f%%\n", fi.Feature.Name, fi.Value*100)
			}

			if out == "" {
				return nil
			}
			if err := report.SaveImportanceChart(out, imp); err != nil {
				return err
			}
			fmt.Fprintf(w, "\nchart written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write a bar chart to this file (.png, .svg, .pdf)")
	return cmd
}
