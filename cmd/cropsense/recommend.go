package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/YuminosukeSato/cropsense/internal/crop"
	"github.com/spf13/cobra"
)

func newRecommendCmd(a *app) *cobra.Command {
	var (
		asJSON    bool
		showProba bool
		values    = make(map[string]*string, len(crop.Features))
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend a crop for one set of readings",
		Example: `  cropsense recommend --N 90 --P 42 --K 43 --temperature 20.8 --humidity 82 --ph 6.5 --rainfall 202.9
  cropsense recommend --rainfall 250 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := make(map[string]string)
			for name, v := range values {
				if cmd.Flags().Changed(name) {
					input[name] = *v
				}
			}
			sample, err := crop.ParseSample(input)
			if err != nil {
				return err
			}

			rec, err := a.recommender(cmd.Context())
			if err != nil {
				return err
			}
			result, err := rec.Recommend(sample)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Fprintf(out, "Recommended crop: %s\n\n%s\n", result.Label, result.Summary)
			if showProba {
				proba, err := rec.Probabilities(sample)
				if err != nil {
					return err
				}
				labels := make([]string, 0, len(proba))
				for l := range proba {
					labels = append(labels, l)
				}
				sort.Slice(labels, func(i, j int) bool {
					if proba[labels[i]] != proba[labels[j]] {
						return proba[labels[i]] > proba[labels[j]]
					}
					return labels[i] < labels[j]
				})
				fmt.Fprintln(out, "\nVote share")
				for _, l := range labels {
					if proba[l] > 0 {
						fmt.Fprintf(out, "  %-14s %5.1f%%\n", l, proba[l]*100)
					}
				}
			}
			return nil
		},
	}

	for _, f := range crop.Features {
		usage := fmt.Sprintf("%s, nominal %g-%g", f.Label, f.Min, f.Max)
		if f.Unit != "" {
			usage = fmt.Sprintf("%s in %s, nominal %g-%g", f.Label, f.Unit, f.Min, f.Max)
		}
		values[f.Name] = cmd.Flags().String(f.Name, f.Format(f.Default), usage)
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the recommendation as JSON")
	cmd.Flags().BoolVar(&showProba, "proba", false, "Also print the vote share of every crop")
	return cmd
}
