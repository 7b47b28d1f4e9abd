package cmd

import (
	"github.com/spf13/cobra"

	"pgsentry/internal/artifact"
	"pgsentry/internal/restore"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Back up, restore, and list whole-cluster artifacts",
}

var clusterBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump every database, role, and setting into a new artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		art, err := a.backups.BackupCluster(cmd.Context())
		if err != nil {
			return err
		}
		printer.Successf("Cluster backup complete: %s (%d bytes)", art.Path, art.SizeBytes)
		return nil
	},
}

var (
	clusterRestoreFile       string
	clusterRestoreYes        bool
	clusterRestoreSkipSafety bool
	clusterRestoreServices   []string
)

var clusterRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the entire cluster from an artifact",
	Long: `Replays a whole-cluster artifact over the running server, replacing
every database, role, and global setting. The current cluster state is backed
up first unless --skip-safety-backup is given, and the operator must type
"DESTROY AND RESTORE" at the prompt unless --yes is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		services := a.cfg.PauseServices
		if len(clusterRestoreServices) > 0 {
			services = clusterRestoreServices
		}
		session, err := a.orchestrator().Run(cmd.Context(), restore.Request{
			Scope:            artifact.ScopeCluster,
			ArtifactPath:     clusterRestoreFile,
			AutoConfirm:      clusterRestoreYes,
			SkipSafetyBackup: clusterRestoreSkipSafety,
			Services:         services,
		})
		if session != nil {
			reportSession(session)
		}
		return err
	},
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cluster artifacts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		artifacts, err := a.store.List(artifact.ScopeCluster, "")
		if err != nil {
			return err
		}
		printArtifacts(artifacts)
		return nil
	},
}

func init() {
	clusterRestoreCmd.Flags().StringVarP(&clusterRestoreFile, "file", "f", "", "restore from this artifact file instead of the newest")
	clusterRestoreCmd.Flags().BoolVarP(&clusterRestoreYes, "yes", "y", false, "skip the confirmation prompt")
	clusterRestoreCmd.Flags().BoolVar(&clusterRestoreSkipSafety, "skip-safety-backup", false, "do not back up the current state first")
	clusterRestoreCmd.Flags().StringSliceVarP(&clusterRestoreServices, "services", "s", nil, "services to pause during the restore, in order")

	clusterCmd.AddCommand(clusterBackupCmd)
	clusterCmd.AddCommand(clusterRestoreCmd)
	clusterCmd.AddCommand(clusterListCmd)
	rootCmd.AddCommand(clusterCmd)
}
