package main

import (
	"errors"
	"fmt"
	"os"

	"court-pricer/internal/cfg"
	"court-pricer/internal/ml"
	"court-pricer/internal/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "courtprice",
	Short:         "Court booking price estimation with per-field explanations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional
		_ = godotenv.Load()
		setupLogging(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file (defaults to $CONFIG_FILE, then environment)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadSettings reads configuration and applies its log level unless --log-level was given.
func loadSettings() (cfg.Settings, error) {
	var (
		settings cfg.Settings
		err      error
	)
	if cfgPath != "" {
		settings, err = cfg.LoadFile(cfgPath)
	} else {
		settings, err = cfg.Load()
	}
	if err != nil {
		return cfg.Settings{}, fmt.Errorf("load config: %w", err)
	}
	if logLevel == "" {
		setupLogging(settings.LogLevel)
	}
	return settings, nil
}

// openStore opens the bbolt store under DATA_PATH.
func openStore(settings cfg.Settings) (*storage.Store, error) {
	if settings.DataPath == "" {
		return nil, errors.New("DATA_PATH is not configured")
	}
	return storage.New(settings.DataPath)
}

// loadActiveModel prefers the active registry version and falls back to the model file.
func loadActiveModel(settings cfg.Settings) (*ml.TrainedModel, error) {
	if settings.DataPath != "" {
		store, err := storage.New(settings.DataPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		mm, err := ml.NewModelManager(store)
		if err != nil {
			return nil, err
		}
		m, err := mm.LoadActive()
		switch {
		case err == nil:
			log.Info().Str("version", mm.GetCurrentVersion().Version).Msg("Loaded active model version")
			return m, nil
		case !errors.Is(err, ml.ErrNoModel):
			return nil, err
		}
	}

	m, err := ml.LoadFile(settings.ModelPath)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", settings.ModelPath).Str("model_id", m.ID).Msg("Loaded model file")
	return m, nil
}
