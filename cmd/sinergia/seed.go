package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/repository"
	"github.com/sinergia-energia/sinergia/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed <dataset.json>",
	Short: "Load reference data into the configured database",
	Long: `seed validates a JSON dataset of states, distributors, bonus types,
consumption tiers and discount rules, then upserts it. Running it twice with
the same file is harmless. Running servers pick the data up on their next
catalog reload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return seedDataset(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
	},
}

func seedDataset(ctx context.Context, cfg *domain.Config, path string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ds, err := seed.Load(path)
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	summary, err := seed.Apply(ctx, repo, ds)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "seeded %s: %d states, %d distributors, %d bonus types, %d tiers, %d rules\n",
		path, summary.States, summary.Distributors, summary.BonusTypes, summary.Tiers, summary.Rules)
	return nil
}
