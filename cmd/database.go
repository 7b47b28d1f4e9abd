package cmd

import (
	"github.com/spf13/cobra"

	"pgsentry/internal/artifact"
	"pgsentry/internal/restore"
)

var databaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Back up, restore, and list single-database artifacts",
}

var databaseBackupCmd = &cobra.Command{
	Use:   "backup <database>",
	Short: "Dump one database into a new compressed artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		art, err := a.backups.BackupDatabase(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printer.Successf("Backup complete: %s (%d bytes)", art.Path, art.SizeBytes)
		return nil
	},
}

var (
	databaseRestoreFile       string
	databaseRestoreYes        bool
	databaseRestoreSkipSafety bool
	databaseRestoreServices   []string
)

var databaseRestoreCmd = &cobra.Command{
	Use:   "restore <database>",
	Short: "Replace one database from an artifact",
	Long: `Replaces the entire contents of a database from a backup artifact.
The current state is backed up first unless --skip-safety-backup is given,
and the operator must type "yes" at the prompt unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		services := a.cfg.PauseServices
		if len(databaseRestoreServices) > 0 {
			services = databaseRestoreServices
		}
		session, err := a.orchestrator().Run(cmd.Context(), restore.Request{
			Scope:            artifact.ScopeDatabase,
			Target:           args[0],
			ArtifactPath:     databaseRestoreFile,
			AutoConfirm:      databaseRestoreYes,
			SkipSafetyBackup: databaseRestoreSkipSafety,
			Services:         services,
		})
		if session != nil {
			reportSession(session)
		}
		return err
	},
}

var databaseListCmd = &cobra.Command{
	Use:   "list [database]",
	Short: "List database artifacts, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		artifacts, err := a.store.List(artifact.ScopeDatabase, target)
		if err != nil {
			return err
		}
		printArtifacts(artifacts)
		return nil
	},
}

func init() {
	databaseRestoreCmd.Flags().StringVarP(&databaseRestoreFile, "file", "f", "", "restore from this artifact file instead of the newest")
	databaseRestoreCmd.Flags().BoolVarP(&databaseRestoreYes, "yes", "y", false, "skip the confirmation prompt")
	databaseRestoreCmd.Flags().BoolVar(&databaseRestoreSkipSafety, "skip-safety-backup", false, "do not back up the current state first")
	databaseRestoreCmd.Flags().StringSliceVarP(&databaseRestoreServices, "services", "s", nil, "services to pause during the restore, in order")

	databaseCmd.AddCommand(databaseBackupCmd)
	databaseCmd.AddCommand(databaseRestoreCmd)
	databaseCmd.AddCommand(databaseListCmd)
	rootCmd.AddCommand(databaseCmd)
}
