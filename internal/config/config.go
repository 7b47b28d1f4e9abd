package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Defaults applied when the configuration file or flags leave a field unset.
const (
	DefaultPort             = 5432
	DefaultAdminDatabase    = "postgres"
	DefaultSocketDir        = "/var/run/postgresql"
	DefaultBackupDir        = "/var/lib/pgsentry/backups"
	DefaultRetentionDays    = 7
	DefaultReadinessPolls   = 30
	DefaultReadinessDelay   = 2 * time.Second
	DefaultRemediationMax   = 3
	DefaultRemediationDelay = 5 * time.Second
)

// ConnectionConfig describes how to reach the managed PostgreSQL cluster.
// Values are resolved once at startup and passed by value into each
// component; nothing reads ambient process state afterwards.
type ConnectionConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	User          string `mapstructure:"user" yaml:"user"`
	Password      string `mapstructure:"password" yaml:"password"`
	AdminDatabase string `mapstructure:"admin_database" yaml:"admin_database"`
	SocketDir     string `mapstructure:"socket_dir" yaml:"socket_dir"`
	// Domain is the TLS-verified host name used by the encrypted network
	// strategy; empty disables that strategy.
	Domain string `mapstructure:"domain" yaml:"domain"`
}

// ArtifactConfig describes the local artifact repository.
type ArtifactConfig struct {
	BaseDir              string `mapstructure:"base_dir" yaml:"base_dir"`
	DatabaseRetentionDays int   `mapstructure:"database_retention_days" yaml:"database_retention_days"`
	ClusterRetentionDays  int   `mapstructure:"cluster_retention_days" yaml:"cluster_retention_days"`
}

// VerifyConfig bounds the service health verification loop.
type VerifyConfig struct {
	MaxRemediationCycles int           `mapstructure:"max_remediation_cycles" yaml:"max_remediation_cycles"`
	RemediationDelay     time.Duration `mapstructure:"remediation_delay" yaml:"remediation_delay"`
	ReadinessPolls       int           `mapstructure:"readiness_polls" yaml:"readiness_polls"`
	ReadinessDelay       time.Duration `mapstructure:"readiness_delay" yaml:"readiness_delay"`
}

// MonitoredService describes one dependent service under health verification.
type MonitoredService struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Unit    string `mapstructure:"unit" yaml:"unit"`
	User    string `mapstructure:"user" yaml:"user"`
	EnvFile string `mapstructure:"env_file" yaml:"env_file"`
}

// ReplicationConfig configures optional offsite mirroring of artifacts.
// Offsite copies are best-effort; a failed upload is a warning, never an
// operational failure.
type ReplicationConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // "", "s3", "gcs", "azure"

	S3 struct {
		Region string `mapstructure:"region" yaml:"region"`
		Bucket string `mapstructure:"bucket" yaml:"bucket"`
		Prefix string `mapstructure:"prefix" yaml:"prefix"`
	} `mapstructure:"s3" yaml:"s3"`

	GCS struct {
		Bucket          string `mapstructure:"bucket" yaml:"bucket"`
		Prefix          string `mapstructure:"prefix" yaml:"prefix"`
		CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	} `mapstructure:"gcs" yaml:"gcs"`

	Azure struct {
		AccountName string `mapstructure:"account_name" yaml:"account_name"`
		AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
		Container   string `mapstructure:"container" yaml:"container"`
		Prefix      string `mapstructure:"prefix" yaml:"prefix"`
	} `mapstructure:"azure" yaml:"azure"`
}

// Config is the immutable top-level configuration.
type Config struct {
	Connection  ConnectionConfig   `mapstructure:"connection" yaml:"connection"`
	Artifacts   ArtifactConfig     `mapstructure:"artifacts" yaml:"artifacts"`
	Services    []MonitoredService `mapstructure:"services" yaml:"services"`
	Verify      VerifyConfig       `mapstructure:"verify" yaml:"verify"`
	Replication ReplicationConfig  `mapstructure:"replication" yaml:"replication"`

	// PauseServices are the dependent units stopped around a destructive
	// restore window, in order.
	PauseServices []string `mapstructure:"pause_services" yaml:"pause_services"`

	CredentialDir string `mapstructure:"credential_dir" yaml:"credential_dir"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
}

// SetDefaults fills unset fields with their defaults.
func (c *Config) SetDefaults() {
	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultPort
	}
	if c.Connection.AdminDatabase == "" {
		c.Connection.AdminDatabase = DefaultAdminDatabase
	}
	if c.Connection.SocketDir == "" {
		c.Connection.SocketDir = DefaultSocketDir
	}
	if c.Artifacts.BaseDir == "" {
		c.Artifacts.BaseDir = DefaultBackupDir
	}
	if c.Artifacts.DatabaseRetentionDays == 0 {
		c.Artifacts.DatabaseRetentionDays = DefaultRetentionDays
	}
	if c.Artifacts.ClusterRetentionDays == 0 {
		c.Artifacts.ClusterRetentionDays = DefaultRetentionDays
	}
	if c.Verify.MaxRemediationCycles == 0 {
		c.Verify.MaxRemediationCycles = DefaultRemediationMax
	}
	if c.Verify.RemediationDelay == 0 {
		c.Verify.RemediationDelay = DefaultRemediationDelay
	}
	if c.Verify.ReadinessPolls == 0 {
		c.Verify.ReadinessPolls = DefaultReadinessPolls
	}
	if c.Verify.ReadinessDelay == 0 {
		c.Verify.ReadinessDelay = DefaultReadinessDelay
	}
	if c.CredentialDir == "" {
		c.CredentialDir = "/etc/pgsentry/credentials"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Connection.User == "" {
		return fmt.Errorf("connection.user is required")
	}
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection.port must be between 1 and 65535, got %d", c.Connection.Port)
	}
	if !filepath.IsAbs(c.Artifacts.BaseDir) {
		return fmt.Errorf("artifacts.base_dir must be an absolute path, got %q", c.Artifacts.BaseDir)
	}
	if c.Artifacts.DatabaseRetentionDays < 0 || c.Artifacts.ClusterRetentionDays < 0 {
		return fmt.Errorf("artifact retention days must not be negative")
	}
	if c.Verify.MaxRemediationCycles < 1 {
		return fmt.Errorf("verify.max_remediation_cycles must be at least 1")
	}
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if svc.Unit == "" {
			return fmt.Errorf("services[%d].unit is required", i)
		}
	}
	switch p := strings.ToLower(c.Replication.Provider); p {
	case "", "s3", "gcs", "azure":
	default:
		return fmt.Errorf("replication.provider must be one of s3, gcs, azure, got %q", p)
	}
	return nil
}

// ServiceByName returns the monitored service with the given name.
func (c *Config) ServiceByName(name string) (MonitoredService, bool) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return MonitoredService{}, false
}
