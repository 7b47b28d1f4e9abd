package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pgsentry/internal/artifact"
	"pgsentry/internal/replication"
)

var replicateScope string

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Mirror local artifacts to the configured offsite store",
	Long: `Uploads local artifacts that the configured offsite object store does
not already hold. Upload failures are warnings; the local store remains the
source of truth.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		dest, err := replication.NewObjectStore(cmd.Context(), a.cfg.Replication)
		if err != nil {
			return err
		}
		if dest == nil {
			return fmt.Errorf("no replication provider configured")
		}

		scopes := []artifact.Scope{artifact.ScopeDatabase, artifact.ScopeCluster}
		if replicateScope != "" {
			scope := artifact.Scope(replicateScope)
			if !scope.Valid() {
				return fmt.Errorf("unknown scope %q, expected database or cluster", replicateScope)
			}
			scopes = []artifact.Scope{scope}
		}

		replicator := replication.NewReplicator(a.store, dest, a.logger)
		for _, scope := range scopes {
			result, err := replicator.Mirror(cmd.Context(), scope)
			if err != nil {
				return err
			}
			printer.Plainf("%s: %d uploaded, %d already present, %d failed",
				scope, result.Uploaded, result.Skipped, result.Failed)
			if result.Failed > 0 {
				printer.Warnf("%d %s upload(s) failed, see log for details", result.Failed, scope)
			}
		}
		return nil
	},
}

func init() {
	replicateCmd.Flags().StringVar(&replicateScope, "scope", "", "replicate only one scope: database or cluster")
	rootCmd.AddCommand(replicateCmd)
}
