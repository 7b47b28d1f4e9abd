package restore

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"pgsentry/internal/artifact"
	"pgsentry/internal/command"
	"pgsentry/internal/config"
	"pgsentry/internal/logging"
	"pgsentry/internal/probe"
)

// ConfirmationLiteral returns the exact phrase the operator must type to
// authorize a destructive restore. The phrases are a compatibility contract
// with existing runbooks and must not change.
func ConfirmationLiteral(scope artifact.Scope) string {
	if scope == artifact.ScopeCluster {
		return "DESTROY AND RESTORE"
	}
	return "yes"
}

// SafetyBackupper takes the pre-restore backup of the current state.
type SafetyBackupper interface {
	BackupDatabase(ctx context.Context, database string) (*artifact.Artifact, error)
	BackupCluster(ctx context.Context) (*artifact.Artifact, error)
}

// SessionOpener provides working database connections via strategy probing.
type SessionOpener interface {
	Session(ctx context.Context, ep probe.Endpoint) (*sql.DB, probe.Method, error)
}

// ServicePauser stops and starts dependent services around the destructive
// window.
type ServicePauser interface {
	PauseAll(ctx context.Context, units []string) error
	ResumeAll(ctx context.Context, units []string)
}

// ConfirmFunc prompts the operator and returns the typed response.
type ConfirmFunc func(prompt string) (string, error)

// StdinConfirm reads one line from standard input.
func StdinConfirm(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Orchestrator drives a restore session through its phases. Every exit path
// taken after services were paused resumes them, and the session always
// carries a postcondition metric (or an explicit warning that none could be
// measured).
type Orchestrator struct {
	store    *artifact.Store
	backups  SafetyBackupper
	prober   SessionOpener
	services ServicePauser
	runner   command.Runner
	conn     config.ConnectionConfig
	confirm  ConfirmFunc
	logger   *logging.Logger
}

// NewOrchestrator creates a restore orchestrator.
func NewOrchestrator(
	store *artifact.Store,
	backups SafetyBackupper,
	prober SessionOpener,
	services ServicePauser,
	runner command.Runner,
	conn config.ConnectionConfig,
	logger *logging.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Orchestrator{
		store:    store,
		backups:  backups,
		prober:   prober,
		services: services,
		runner:   runner,
		conn:     conn,
		confirm:  StdinConfirm,
		logger:   logger,
	}
}

// SetConfirm replaces the confirmation prompt, used by tests and by the
// auto-confirm flag handling.
func (o *Orchestrator) SetConfirm(confirm ConfirmFunc) {
	o.confirm = confirm
}

// Run executes one restore session and returns it together with the
// terminal error, if any. The session is returned even on failure so the
// caller can report phase and warnings.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Session, error) {
	session := NewSession(req)
	o.advance(session, PhaseRequested)

	fail := func(err error) (*Session, error) {
		session.Outcome = OutcomeFailed
		if IsCancellation(err) {
			session.Outcome = OutcomeCancelled
		}
		session.FinishedAt = time.Now()
		return session, err
	}

	// Select and validate the artifact before touching anything.
	art, err := o.selectArtifact(req)
	if err != nil {
		return fail(err)
	}
	if state := o.store.Validate(art); state != artifact.IntegrityValid {
		return fail(NewArtifactCorruptError(fmt.Sprintf("artifact %s failed integrity check", art.Path)))
	}
	art.Integrity = artifact.IntegrityValid
	session.Artifact = art

	// Establish the admin connection and check the target.
	admin, _, err := o.prober.Session(ctx, probe.EndpointFromConfig(o.conn, o.conn.AdminDatabase))
	if err != nil {
		return fail(NewUnreachableError("server unreachable during validation", err))
	}
	defer admin.Close()

	if req.Scope == artifact.ScopeDatabase {
		exists, err := databaseExists(ctx, admin, req.Target)
		if err != nil {
			return fail(NewUnreachableError("failed to check target database", err))
		}
		if !exists {
			return fail(NewTargetMissingError(fmt.Sprintf("database %q does not exist on the server", req.Target)))
		}
	}
	o.advance(session, PhaseValidated)

	// Safety backup of the state about to be destroyed.
	if req.SkipSafetyBackup {
		o.logger.Warn("Safety backup skipped on operator request")
		o.advance(session, PhaseSafetyBackupSkipped)
	} else {
		safety, err := o.takeSafetyBackup(ctx, req)
		if err != nil {
			return fail(fmt.Errorf("safety backup failed, aborting before any destructive action: %w", err))
		}
		session.SafetyArtifact = safety
		o.advance(session, PhaseSafetyBackupTaken)
	}

	// Explicit operator confirmation gates the destructive window.
	if !req.AutoConfirm {
		literal := ConfirmationLiteral(req.Scope)
		prompt := o.confirmPrompt(req, art, literal)
		answer, err := o.confirm(prompt)
		if err != nil {
			return fail(NewUserCancelledError(fmt.Sprintf("confirmation aborted: %v", err)))
		}
		if answer != literal {
			return fail(NewUserCancelledError("confirmation phrase did not match, nothing was changed"))
		}
	}
	o.advance(session, PhaseConfirmed)

	// Pause dependents. From here on every exit path resumes them, even on
	// a cancelled context.
	pauseErr := o.services.PauseAll(ctx, req.Services)
	defer o.services.ResumeAll(context.Background(), req.Services)
	if pauseErr != nil {
		return fail(fmt.Errorf("failed to pause dependent services: %w", pauseErr))
	}
	o.advance(session, PhaseServicesPaused)

	// Destructive replace.
	if err := o.replace(ctx, admin, req, art); err != nil {
		return fail(NewReplaceFailedError("replace failed, target may be partial", err))
	}
	o.advance(session, PhaseReplaced)

	// Postcondition measurement. An unmeasurable restore is a warning, not
	// a failure: the replace itself completed.
	metric, err := o.measure(ctx, admin, req)
	if err != nil {
		session.AddWarning(fmt.Sprintf("verification inconclusive: %v", err))
		o.logger.Warnf("Verification inconclusive for session %s: %v", session.ID, err)
	} else {
		session.Metric = metric
	}
	o.advance(session, PhaseVerified)

	o.refreshStatistics(ctx, req)

	session.Outcome = OutcomeSucceeded
	session.FinishedAt = time.Now()
	return session, nil
}

// advance moves the session to the next phase and logs the transition.
func (o *Orchestrator) advance(s *Session, phase Phase) {
	s.Phase = phase
	o.logger.LogRestorePhase(s.ID, string(s.Scope), s.Target, string(phase))
}

// selectArtifact resolves the restore source: an explicit path or the
// newest artifact matching the request.
func (o *Orchestrator) selectArtifact(req Request) (*artifact.Artifact, error) {
	if req.ArtifactPath != "" {
		art, err := o.store.Resolve(req.ArtifactPath)
		if err != nil {
			if artifact.IsKind(err, artifact.ErrorKindNotFound) {
				return nil, NewArtifactNotFoundError(fmt.Sprintf("artifact %s does not exist", req.ArtifactPath), err)
			}
			return nil, err
		}
		return art, nil
	}
	art, err := o.store.Latest(req.Scope, req.Target)
	if err != nil {
		if artifact.IsKind(err, artifact.ErrorKindNotFound) {
			return nil, NewArtifactNotFoundError("no matching artifact in the store", err)
		}
		return nil, err
	}
	return art, nil
}

func (o *Orchestrator) takeSafetyBackup(ctx context.Context, req Request) (*artifact.Artifact, error) {
	if req.Scope == artifact.ScopeCluster {
		return o.backups.BackupCluster(ctx)
	}
	return o.backups.BackupDatabase(ctx, req.Target)
}

func (o *Orchestrator) confirmPrompt(req Request, art *artifact.Artifact, literal string) string {
	var b strings.Builder
	if req.Scope == artifact.ScopeCluster {
		b.WriteString("This will DESTROY every database, role, and setting on the cluster\n")
	} else {
		fmt.Fprintf(&b, "This will DESTROY the current contents of database %q\n", req.Target)
	}
	fmt.Fprintf(&b, "and replace them from %s (created %s).\n",
		art.Path, art.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Type %q to continue: ", literal)
	return b.String()
}

// psqlArgs builds the shared psql invocation. ON_ERROR_STOP makes psql
// abort on the first failed statement instead of continuing past it.
func (o *Orchestrator) psqlArgs(database string) []string {
	args := []string{"-p", fmt.Sprintf("%d", o.conn.Port), "-U", o.conn.User,
		"--no-password", "-v", "ON_ERROR_STOP=1", "-d", database}
	if o.conn.Host != "" {
		args = append([]string{"-h", o.conn.Host}, args...)
	}
	return args
}

// replace performs the destructive part: drop and recreate for a database
// restore, direct replay for a cluster restore.
func (o *Orchestrator) replace(ctx context.Context, admin *sql.DB, req Request, art *artifact.Artifact) error {
	replayInto := o.conn.AdminDatabase

	if req.Scope == artifact.ScopeDatabase {
		if err := o.recreateDatabase(ctx, admin, req.Target); err != nil {
			return err
		}
		replayInto = req.Target
	}

	src, err := o.store.Open(art)
	if err != nil {
		return err
	}
	defer src.Close()

	return o.runner.StreamFrom(ctx, src, "psql", o.psqlArgs(replayInto)...)
}

// recreateDatabase drops the target and creates it empty, first evicting
// any session still attached to it.
func (o *Orchestrator) recreateDatabase(ctx context.Context, admin *sql.DB, name string) error {
	const terminate = `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`
	if _, err := admin.ExecContext(ctx, terminate, name); err != nil {
		return fmt.Errorf("failed to terminate sessions on %q: %w", name, err)
	}
	ident := quoteIdentifier(name)
	if _, err := admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to drop database %q: %w", name, err)
	}
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+ident); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	return nil
}

// measure reads the postcondition metric: user table count for a database
// restore, non-template databases plus non-system roles for a cluster
// restore.
func (o *Orchestrator) measure(ctx context.Context, admin *sql.DB, req Request) (int64, error) {
	if req.Scope == artifact.ScopeCluster {
		// The pre-restore admin connection may have died with the replayed
		// roles, so measure over a fresh one.
		db, _, err := o.prober.Session(ctx, probe.EndpointFromConfig(o.conn, o.conn.AdminDatabase))
		if err != nil {
			db = admin
		} else {
			defer db.Close()
		}
		const query = `SELECT
			(SELECT count(*) FROM pg_database WHERE datistemplate = false) +
			(SELECT count(*) FROM pg_roles WHERE rolname NOT LIKE 'pg\_%')`
		var count int64
		if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return 0, err
		}
		return count, nil
	}

	// Table counting needs a connection to the restored database itself.
	db, _, err := o.prober.Session(ctx, probe.EndpointFromConfig(o.conn, req.Target))
	if err != nil {
		return 0, err
	}
	defer db.Close()

	const query = `SELECT count(*) FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// refreshStatistics runs ANALYZE on the restored database so the planner
// has fresh statistics. Best effort; a failure only logs.
func (o *Orchestrator) refreshStatistics(ctx context.Context, req Request) {
	if req.Scope != artifact.ScopeDatabase {
		return
	}
	db, _, err := o.prober.Session(ctx, probe.EndpointFromConfig(o.conn, req.Target))
	if err != nil {
		o.logger.Debugf("Skipping post-restore ANALYZE: %v", err)
		return
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		o.logger.Warnf("Post-restore ANALYZE failed on %q: %v", req.Target, err)
	}
}

func databaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// quoteIdentifier double-quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
