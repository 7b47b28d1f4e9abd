package cmd

import (
	"fmt"
	"time"

	"pgsentry/internal/artifact"
	"pgsentry/internal/backup"
	"pgsentry/internal/command"
	"pgsentry/internal/config"
	"pgsentry/internal/credentials"
	"pgsentry/internal/logging"
	"pgsentry/internal/probe"
	"pgsentry/internal/restore"
	"pgsentry/internal/services"
)

// app bundles the wired components every subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	runner  command.Runner
	store   *artifact.Store
	backups *backup.Manager
	prober  *probe.Prober
	control *services.Controller
	creds   *credentials.Manager
}

// newApp loads configuration and wires the component graph.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	runner := newRunner(cfg)

	store, err := artifact.NewStore(cfg.Artifacts.BaseDir, logger)
	if err != nil {
		return nil, err
	}
	creds, err := credentials.NewManager(cfg.CredentialDir, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		runner:  runner,
		store:   store,
		backups: backup.NewManager(store, runner, cfg.Connection, cfg.Artifacts, logger),
		prober:  probe.NewProber(logger),
		control: services.NewController(runner, logger),
		creds:   creds,
	}, nil
}

// orchestrator wires a restore orchestrator with the shared components.
func (a *app) orchestrator() *restore.Orchestrator {
	return restore.NewOrchestrator(a.store, a.backups, a.prober, a.control, a.runner, a.cfg.Connection, a.logger)
}

// reportSession prints the terminal state of a restore session.
func reportSession(s *restore.Session) {
	switch s.Outcome {
	case restore.OutcomeSucceeded:
		printer.Successf("Restore %s succeeded in %s", s.ID, s.Duration().Round(time.Second))
		if s.Metric >= 0 {
			if s.Scope == artifact.ScopeCluster {
				printer.Plainf("Post-restore object count (databases + roles): %d", s.Metric)
			} else {
				printer.Plainf("Post-restore table count: %d", s.Metric)
			}
		} else {
			printer.Warnf("Post-restore object count could not be measured")
		}
		if s.SafetyArtifact != nil {
			printer.Plainf("Safety backup: %s", s.SafetyArtifact.Path)
		}
	case restore.OutcomeCancelled:
		printer.Infof("Restore %s cancelled at phase %s", s.ID, s.Phase)
	default:
		printer.Errorf("Restore %s failed at phase %s", s.ID, s.Phase)
		if s.SafetyArtifact != nil {
			printer.Plainf("Safety backup available for recovery: %s", s.SafetyArtifact.Path)
		}
	}
	for _, w := range s.Warnings {
		printer.Warnf("Warning: %s", w)
	}
}

// printArtifacts renders an artifact listing.
func printArtifacts(artifacts []artifact.Artifact) {
	if len(artifacts) == 0 {
		printer.Plainf("No artifacts found")
		return
	}
	for _, a := range artifacts {
		name := string(a.Scope)
		if a.TargetName != "" {
			name = fmt.Sprintf("%s/%s", a.Scope, a.TargetName)
		}
		printer.Plainf("%-40s  %s  %10d bytes  %s",
			name, a.CreatedAt.Format("2006-01-02 15:04:05"), a.SizeBytes, a.Path)
	}
}
