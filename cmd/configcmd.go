package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pgsentry/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and bootstrap the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite existing file %s", path)
		}

		sample := config.Config{
			Connection: config.ConnectionConfig{
				User: "postgres",
			},
			Services: []config.MonitoredService{
				{Name: "app", Unit: "app.service", User: "app"},
			},
			PauseServices: []string{"app.service"},
		}
		sample.SetDefaults()

		data, err := yaml.Marshal(&sample)
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		if err := os.WriteFile(path, data, 0640); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		printer.Successf("Wrote starter configuration to %s", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Never print secrets.
		cfg.Connection.Password = ""
		cfg.Replication.Azure.AccountKey = ""

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		printer.Plainf("%s", string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
