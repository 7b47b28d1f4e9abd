package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pgsentry/internal/artifact"
)

var (
	pruneScope      string
	pruneMaxAgeDays int
	pruneDryRun     bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete artifacts older than the retention window",
	Long: `Deletes artifacts older than the retention window. The newest
artifact of each scope is always kept regardless of age, so a recovery
point survives even a long stretch of failed backups.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		scopes := map[artifact.Scope]int{
			artifact.ScopeDatabase: a.cfg.Artifacts.DatabaseRetentionDays,
			artifact.ScopeCluster:  a.cfg.Artifacts.ClusterRetentionDays,
		}
		if pruneScope != "" {
			scope := artifact.Scope(pruneScope)
			if !scope.Valid() {
				return fmt.Errorf("unknown scope %q, expected database or cluster", pruneScope)
			}
			scopes = map[artifact.Scope]int{scope: scopes[scope]}
		}

		for scope, days := range scopes {
			if cmd.Flags().Changed("max-age-days") {
				days = pruneMaxAgeDays
			}
			deleted, err := a.store.Prune(scope, days, pruneDryRun)
			a.logger.LogPrune(string(scope), days, deleted, err)
			if err != nil {
				return err
			}
			verb := "Deleted"
			if pruneDryRun {
				verb = "Would delete"
			}
			printer.Plainf("%s %d %s artifact(s) older than %d day(s)", verb, deleted, scope, days)
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneScope, "scope", "", "prune only one scope: database or cluster")
	pruneCmd.Flags().IntVar(&pruneMaxAgeDays, "max-age-days", 0, "override the configured retention window")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be deleted without deleting")
	rootCmd.AddCommand(pruneCmd)
}
