package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/monitoring"
	"github.com/sells-group/screening-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect screening run history",
	Long:  "Commands for listing, viewing, and summarizing screening runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List screening runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, _ := cmd.Flags().GetString("state")
		entity, _ := cmd.Flags().GetString("entity")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			State:    model.RunState(state),
			EntityID: entity,
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is a run with its stage rows.
type runDetail struct {
	*model.Run
	Stages []model.RunStage `json:"stages"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		stages, err := st.ListStages(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return writeJSON(os.Stdout, runDetail{Run: run, Stages: stages})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

// -- runs health --

var runsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Evaluate recent runs against the monitoring thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mc := cfg.Monitoring
		if lookback, _ := cmd.Flags().GetInt("lookback"); lookback > 0 {
			mc.LookbackWindowHours = lookback
		}
		notify, _ := cmd.Flags().GetBool("notify")

		checker := monitoring.NewChecker(monitoring.NewCollector(st, nil), monitoring.NewAlerter(mc), mc)
		rep, err := checker.Check(ctx, notify)
		if err != nil {
			return eris.Wrap(err, "runs health")
		}
		return writeJSON(os.Stdout, rep)
	},
}

func init() {
	runsHealthCmd.Flags().Int("lookback", 0, "lookback window in hours (defaults to monitoring.lookback_window_hours)")
	runsHealthCmd.Flags().Bool("notify", false, "send firing alerts to monitoring.webhook_url")

	runsListCmd.Flags().String("state", "", "filter by run state (pending, running_critical, completed, failed, ...)")
	runsListCmd.Flags().String("entity", "", "filter by normalized entity id")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsHealthCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Completed  int
	Degraded   int
	Failed     int
	InFlight   int
	FailedBy   map[model.PipelineKind]int
	AvgScore   float64
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs), FailedBy: map[model.PipelineKind]int{}}

	var totalDur time.Duration
	var totalScore float64
	for _, r := range runs {
		switch r.State {
		case model.RunCompleted:
			s.Completed++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			if r.Result != nil {
				totalScore += r.Result.CompletenessScore
				if r.Result.Degraded {
					s.Degraded++
				}
			}
		case model.RunFailed:
			s.Failed++
			if r.Result != nil && r.Result.FailedStage != "" {
				s.FailedBy[r.Result.FailedStage]++
			}
		default:
			s.InFlight++
		}
	}

	if s.Completed > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(s.Completed)
		s.AvgScore = totalScore / float64(s.Completed)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENTITY\tSTATE\tSCORE\tDEGRADED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t-----\t--------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		entity := r.Entity.DisplayName
		if entity == "" {
			entity = r.Entity.ID
		}
		if len(entity) > 30 {
			entity = entity[:27] + "..."
		}

		score, degraded := "-", ""
		if r.Result != nil {
			score = fmt.Sprintf("%.2f", r.Result.CompletenessScore)
			if r.Result.Degraded {
				degraded = "yes"
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			entity,
			r.State,
			score,
			degraded,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "  Degraded:\t%d\n", s.Degraded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	for _, kind := range model.PipelineKinds {
		if n := s.FailedBy[kind]; n > 0 {
			_, _ = fmt.Fprintf(w, "  At %s:\t%d\n", kind, n)
		}
	}
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)
	if s.Completed > 0 {
		_, _ = fmt.Fprintf(w, "Avg completeness:\t%.2f\n", s.AvgScore)
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
