package main

import (
	"fmt"
	"time"

	"court-pricer/internal/cfg"
	"court-pricer/internal/common"
	"court-pricer/internal/dataset"
	"court-pricer/internal/ml"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var trainOpts struct {
	from          string
	data          string
	rows          int
	importance    string
	noActivate    bool
	explainMethod string
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the encoder, forest and explainer and save the model",
	RunE:  runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainOpts.from, "from", "csv", "training data source: csv, store or synthetic")
	f.StringVar(&trainOpts.data, "data", "", "CSV path (defaults to DATASET_PATH)")
	f.IntVar(&trainOpts.rows, "rows", common.DefaultSyntheticRows, "rows to generate with --from synthetic")
	f.StringVar(&trainOpts.importance, "importance", "", "compute permutation importance and write it to this path")
	f.BoolVar(&trainOpts.noActivate, "no-activate", false, "register the version without activating it")
	f.StringVar(&trainOpts.explainMethod, "explain", "", "explanation method: path or treeshap (defaults to EXPLAIN_METHOD)")
	rootCmd.AddCommand(trainCmd)
}

func loadSamples(settings cfg.Settings) ([]dataset.Sample, error) {
	switch trainOpts.from {
	case "csv":
		path := trainOpts.data
		if path == "" {
			path = settings.DatasetPath
		}
		return dataset.LoadCSV(path)
	case "store":
		store, err := openStore(settings)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.GetBookings()
	case "synthetic":
		return dataset.Generator{Rows: trainOpts.rows, Seed: settings.Seed, Now: time.Now()}.Generate(), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", trainOpts.from)
	}
}

func runTrain(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	samples, err := loadSamples(settings)
	if err != nil {
		return fmt.Errorf("load training data: %w", err)
	}
	records, prices := dataset.Split(samples)

	tc := settings.Train()
	if trainOpts.explainMethod != "" {
		tc.ExplainMethod = trainOpts.explainMethod
	}
	tc.Importance = trainOpts.importance != ""

	m, err := ml.Train(records, prices, tc)
	if err != nil {
		return err
	}

	if err := ml.SaveFile(m, settings.ModelPath); err != nil {
		return err
	}
	log.Info().Str("path", settings.ModelPath).Str("model_id", m.ID).Msg("Model saved")

	if m.Report.Importance != nil {
		if err := m.Report.Importance.Save(trainOpts.importance); err != nil {
			return fmt.Errorf("save importance: %w", err)
		}
		log.Info().Strs("top", m.Report.Importance.GetTopFeatures(5)).Str("path", trainOpts.importance).Msg("Feature importance written")
	}

	if settings.DataPath == "" {
		return nil
	}
	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	mm, err := ml.NewModelManager(store)
	if err != nil {
		return err
	}
	version, err := mm.AddVersion(m)
	if err != nil {
		return err
	}
	if trainOpts.noActivate {
		return nil
	}
	return mm.ActivateVersion(version.Version)
}
