package restore

import (
	"time"

	"github.com/google/uuid"

	"pgsentry/internal/artifact"
)

// Phase is one state of the restore state machine. Phases are strictly
// ordered; a session only ever moves forward.
type Phase string

const (
	PhaseRequested           Phase = "requested"
	PhaseValidated           Phase = "validated"
	PhaseSafetyBackupTaken   Phase = "safety_backup_taken"
	PhaseSafetyBackupSkipped Phase = "safety_backup_skipped"
	PhaseConfirmed           Phase = "confirmed"
	PhaseServicesPaused      Phase = "services_paused"
	PhaseReplaced            Phase = "replaced"
	PhaseVerified            Phase = "verified"
)

// Outcome is the terminal result of a restore session.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Request describes one restore invocation.
type Request struct {
	Scope  artifact.Scope
	Target string

	// ArtifactPath selects a specific artifact file; empty selects the
	// newest matching artifact in the store.
	ArtifactPath string

	// AutoConfirm skips the interactive confirmation prompt.
	AutoConfirm bool

	// SkipSafetyBackup skips the pre-restore backup of the current state.
	SkipSafetyBackup bool

	// Services are the dependent units paused around the destructive
	// window.
	Services []string
}

// Session is one restore run: its identity, progression, and result.
type Session struct {
	ID       string
	Scope    artifact.Scope
	Target   string
	Artifact *artifact.Artifact

	Phase   Phase
	Outcome Outcome

	// SafetyArtifact is the pre-restore backup, when one was taken.
	SafetyArtifact *artifact.Artifact

	// Metric is the post-restore object count: tables for a database
	// restore, databases plus roles for a cluster restore. It is reported
	// even when verification could not run, as -1.
	Metric int64

	// Warnings collects non-fatal problems, notably an inconclusive
	// verification.
	Warnings []string

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewSession creates a session in the requested phase.
func NewSession(req Request) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Scope:     req.Scope,
		Target:    req.Target,
		Phase:     PhaseRequested,
		Outcome:   OutcomePending,
		Metric:    -1,
		StartedAt: time.Now(),
	}
}

// AddWarning records a non-fatal problem on the session.
func (s *Session) AddWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// Duration returns how long the session ran.
func (s *Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
