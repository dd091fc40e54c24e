package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/repository"
	"github.com/sinergia-energia/sinergia/internal/simulation"
)

var simulateFlags struct {
	distributor int64
	profile     string
	kwh         float64
	bonus       string
	variant     string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one simulation against the configured database",
	Long: `simulate loads the catalog from the configured repository and prints the
result as JSON. Nothing is written to the simulation history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		req := domain.SimulationRequest{
			DistributorID:  simulateFlags.distributor,
			Profile:        simulateFlags.profile,
			ConsumptionKWh: simulateFlags.kwh,
			BonusCode:      simulateFlags.bonus,
			Variant:        simulateFlags.variant,
		}
		return simulate(cmd.Context(), cfg, req, cmd.OutOrStdout())
	},
}

func init() {
	f := simulateCmd.Flags()
	f.Int64Var(&simulateFlags.distributor, "distributor", 0, "distributor id")
	f.StringVar(&simulateFlags.profile, "profile", "", "consumer profile (residential, commercial, industrial)")
	f.Float64Var(&simulateFlags.kwh, "kwh", 0, "monthly consumption in kWh")
	f.StringVar(&simulateFlags.bonus, "bonus", "", "bonus code filter (A-E)")
	f.StringVar(&simulateFlags.variant, "variant", "", "discount variant (primary, opt1 to opt4)")
	simulateCmd.MarkFlagRequired("distributor")
	simulateCmd.MarkFlagRequired("kwh")
}

func simulate(ctx context.Context, cfg *domain.Config, req domain.SimulationRequest, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	cat, err := openCatalog(ctx, repo, cfg.Catalog)
	if err != nil {
		return err
	}

	calc := simulation.NewCalculator(decimal.NewFromFloat(cfg.Simulation.ReferenceTariff))
	result, err := simulation.NewService(cat, calc, nil).Simulate(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
