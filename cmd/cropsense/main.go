// Command cropsense trains the crop recommender and serves or queries it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/YuminosukeSato/cropsense/internal/config"
	"github.com/YuminosukeSato/cropsense/internal/crop"
	"github.com/YuminosukeSato/cropsense/pkg/log"
	"github.com/spf13/cobra"
)

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string
	dataPath   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cropsense",
		Short: "Crop recommendation from soil nutrients and climate",
		Long: `cropsense trains a random forest on a crop recommendation dataset
and recommends the most suitable crop for a set of soil and climate readings.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&a.dataPath, "data", "", "Dataset CSV (overrides config)")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newRecommendCmd(a))
	root.AddCommand(newImportanceCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.dataPath != "" {
		cfg.Data.Path = a.dataPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := log.Setup(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// recommender loads the dataset and trains the model.
func (a *app) recommender(ctx context.Context) (*crop.Recommender, error) {
	rec, err := crop.Load(ctx, a.cfg)
	if err != nil {
		log.GetLoggerWithName("cli").Error("Startup failed", err, log.PhaseKey, log.PhaseStartup)
		return nil, err
	}
	return rec, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
