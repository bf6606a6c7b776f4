package main

import (
	"fmt"
	"text/tabwriter"

	"court-pricer/internal/ml"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect and switch registered model versions",
}

var modelsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List model versions, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mm *ml.ModelManager) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTIVE\tVERSION\tROWS\tTREES\tTRAIN RMSE\tOOB RMSE\tEXPLAIN")
			for _, v := range mm.ListVersions() {
				active := ""
				if v.IsActive {
					active = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.3f\t%.3f\t%s\n", active, v.Version,
					v.Metrics.TrainingSamples, v.Metrics.Trees, v.Metrics.TrainRMSE, v.Metrics.OOBRMSE, v.Metrics.ExplainMethod)
			}
			return w.Flush()
		})
	},
}

var modelsActivateCmd = &cobra.Command{
	Use:   "activate VERSION",
	Short: "Make VERSION the active model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mm *ml.ModelManager) error {
			return mm.ActivateVersion(args[0])
		})
	},
}

var modelsRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Activate the version registered before the active one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(mm *ml.ModelManager) error {
			v, err := mm.Rollback()
			if err != nil {
				return err
			}
			log.Info().Str("version", v.Version).Msg("Rolled back")
			return nil
		})
	},
}

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsActivateCmd, modelsRollbackCmd)
	rootCmd.AddCommand(modelsCmd)
}

func withManager(fn func(mm *ml.ModelManager) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
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
	return fn(mm)
}
