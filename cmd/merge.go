package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mergeEntity string

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Rebuild the unified record of an entity from stored pipeline records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		unified, location, err := env.Merger.Merge(ctx, mergeEntity)
		if err != nil {
			return eris.Wrapf(err, "merge %s", mergeEntity)
		}
		zap.L().Info("unified record written",
			zap.String("entity_id", mergeEntity),
			zap.String("location", location),
		)
		return writeJSON(os.Stdout, unified)
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeEntity, "entity", "", "normalized entity id (e.g. acme_corp)")
	_ = mergeCmd.MarkFlagRequired("entity")
	rootCmd.AddCommand(mergeCmd)
}
