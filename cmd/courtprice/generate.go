package main

import (
	"fmt"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/dataset"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var generateOpts struct {
	rows  int
	seed  uint64
	out   string
	store bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic labelled booking dataset",
	RunE:  runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.IntVar(&generateOpts.rows, "rows", common.DefaultSyntheticRows, "number of bookings")
	f.Uint64Var(&generateOpts.seed, "seed", common.DefaultSeed, "random seed")
	f.StringVarP(&generateOpts.out, "out", "o", "", "CSV output path (defaults to DATASET_PATH)")
	f.BoolVar(&generateOpts.store, "store", false, "also append the bookings to the store under DATA_PATH")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if generateOpts.rows <= 0 {
		return fmt.Errorf("rows must be positive, got %d", generateOpts.rows)
	}

	samples := dataset.Generator{Rows: generateOpts.rows, Seed: generateOpts.seed, Now: time.Now()}.Generate()

	out := generateOpts.out
	if out == "" {
		out = settings.DatasetPath
	}
	if err := dataset.SaveCSV(out, samples); err != nil {
		return err
	}
	log.Info().Str("path", out).Int("rows", len(samples)).Msg("Synthetic dataset written")

	if !generateOpts.store {
		return nil
	}
	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.StoreBookings(samples); err != nil {
		return err
	}
	total, err := store.CountBookings()
	if err != nil {
		return err
	}
	log.Info().Int("stored", len(samples)).Int("total", total).Msg("Bookings stored")
	return nil
}
