package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/screening-cli/internal/model"
)

var (
	runName         string
	runJurisdiction string
	runCompanyType  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Screen a single entity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initScreening(ctx, cfg, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Orchestrator.Run(ctx, model.TriggerRequest{
			EntityName:       runName,
			JurisdictionHint: runJurisdiction,
			CompanyType:      runCompanyType,
		})
		if err != nil {
			return eris.Wrap(err, "run screening")
		}
		if err := writeJSON(os.Stdout, result); err != nil {
			return err
		}
		if result.State == model.RunFailed {
			return eris.Errorf("screening failed at %s: %s", result.FailedStage, result.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "entity name to screen")
	runCmd.Flags().StringVar(&runJurisdiction, "jurisdiction", "", "jurisdiction hint (e.g. us, uk)")
	runCmd.Flags().StringVar(&runCompanyType, "company-type", "public", "public or private")
	_ = runCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(runCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}
