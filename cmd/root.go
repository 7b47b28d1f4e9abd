package cmd

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"pgsentry/internal/command"
	"pgsentry/internal/config"
	"pgsentry/internal/display"
	"pgsentry/internal/logging"
	"pgsentry/internal/restore"
)

var (
	cfgFile        string
	verbose        bool
	quiet          bool
	logFile        string
	promptPassword bool

	printer = display.NewPrinter()
)

var rootCmd = &cobra.Command{
	Use:   "pgsentry",
	Short: "Backup, restore, and self-healing verification for PostgreSQL",
	Long: `pgsentry manages the full lifecycle of PostgreSQL backups: it
produces compressed dump artifacts, restores them behind an explicit
confirmation gate with an automatic safety backup, and verifies that
dependent services can still reach the database afterwards, remediating
them when they cannot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code. An
// operator cancelling a restore is a clean exit, not a failure.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if restore.IsCancellation(err) {
			printer.Infof("Cancelled: %v", err)
			return 0
		}
		printer.Errorf("Error: %v", err)
		return 1
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default /etc/pgsentry/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "errors only")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append structured logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&promptPassword, "prompt-password", "W", false, "prompt for the database password")
}

// initConfig wires viper: explicit file, standard locations, and
// PGSENTRY_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/pgsentry")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.pgsentry")
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("PGSENTRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			printer.Errorf("Failed to read config: %v", err)
		}
	}
}

// loadConfig materializes and validates the effective configuration.
func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.SetDefaults()

	if logFile != "" {
		cfg.LogFile = logFile
	}

	if promptPassword {
		fmt.Fprintf(os.Stderr, "Password for user %s: ", cfg.Connection.User)
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		cfg.Connection.Password = string(pw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newLogger builds the logger from the effective flags and configuration.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}
	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stdout,
		Format:  "text",
		LogFile: cfg.LogFile,
	})
}

// newRunner builds the process runner, carrying the database password via
// the environment so it never appears in argv.
func newRunner(cfg *config.Config) command.Runner {
	if cfg.Connection.Password != "" {
		return command.NewExecRunner("PGPASSWORD=" + cfg.Connection.Password)
	}
	return command.NewExecRunner()
}
