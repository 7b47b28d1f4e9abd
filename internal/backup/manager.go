package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"pgsentry/internal/artifact"
	"pgsentry/internal/command"
	"pgsentry/internal/config"
	"pgsentry/internal/logging"
)

// Manager produces backup artifacts by streaming the dump tools directly
// into the artifact store. No intermediate plaintext file ever touches disk.
type Manager struct {
	store     *artifact.Store
	runner    command.Runner
	conn      config.ConnectionConfig
	retention config.ArtifactConfig
	logger    *logging.Logger
}

// NewManager creates a backup manager. A non-positive retention window
// disables the automatic post-backup pruning for that scope.
func NewManager(store *artifact.Store, runner command.Runner, conn config.ConnectionConfig, retention config.ArtifactConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{
		store:     store,
		runner:    runner,
		conn:      conn,
		retention: retention,
		logger:    logger,
	}
}

// connectionArgs returns the shared host, port, and user arguments for the
// dump tools. The host argument is omitted when no host is configured so
// the tools use the local socket.
func (m *Manager) connectionArgs() []string {
	args := []string{"-p", strconv.Itoa(m.conn.Port), "-U", m.conn.User}
	if m.conn.Host != "" {
		args = append([]string{"-h", m.conn.Host}, args...)
	}
	return args
}

// env returns the extra environment for the dump tools. Passwords go
// through PGPASSWORD, never through argv.
func (m *Manager) env() []string {
	if m.conn.Password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + m.conn.Password}
}

// dumpRunner returns the runner the dump tools execute under, with the
// password environment added. The combined slice is built fresh so the
// configured runner's environment is never mutated through a shared
// backing array.
func (m *Manager) dumpRunner() command.Runner {
	extra := m.env()
	if len(extra) == 0 {
		return m.runner
	}
	er, ok := m.runner.(*command.ExecRunner)
	if !ok {
		return m.runner
	}
	env := make([]string, 0, len(er.Env)+len(extra))
	env = append(env, er.Env...)
	env = append(env, extra...)
	return command.NewExecRunner(env...)
}

// BackupDatabase dumps a single database into a new artifact and validates
// it before reporting success.
func (m *Manager) BackupDatabase(ctx context.Context, database string) (*artifact.Artifact, error) {
	if database == "" {
		return nil, NewValidationError("database name is required")
	}
	args := append(m.connectionArgs(), "--no-password", database)
	return m.run(ctx, artifact.ScopeDatabase, database, "pg_dump", args)
}

// BackupCluster dumps every database plus roles and global settings into a
// new cluster artifact.
func (m *Manager) BackupCluster(ctx context.Context) (*artifact.Artifact, error) {
	args := append(m.connectionArgs(), "--no-password")
	return m.run(ctx, artifact.ScopeCluster, "", "pg_dumpall", args)
}

// run streams one dump tool into the store and self-checks the result.
func (m *Manager) run(ctx context.Context, scope artifact.Scope, target, tool string, args []string) (*artifact.Artifact, error) {
	start := time.Now()

	pr, pw := io.Pipe()
	runner := m.dumpRunner()

	dumpDone := make(chan error, 1)
	go func() {
		err := runner.StreamTo(ctx, pw, tool, args...)
		// CloseWithError propagates a dump failure to the store's reader
		// so the in-progress artifact write aborts.
		pw.CloseWithError(err)
		dumpDone <- err
	}()

	art, putErr := m.store.Put(scope, target, pr)
	// If Put stopped reading before the stream ended, the dump goroutine is
	// still blocked writing into the pipe; close the read side so it can
	// finish before we wait on it.
	pr.CloseWithError(putErr)
	dumpErr := <-dumpDone

	// A storage failure closes the pipe under the running dump, so the dump
	// error it provokes is just an echo of putErr. A genuine dump failure is
	// the other way around: putErr wraps the dump's own error.
	if putErr != nil && (dumpErr == nil || errors.Is(dumpErr, putErr)) {
		err := NewStorageError("failed to store backup artifact", putErr)
		m.logger.LogBackup(string(scope), target, "", 0, time.Since(start), err)
		return nil, err
	}
	if dumpErr != nil {
		if art != nil {
			os.Remove(art.Path)
		}
		err := NewDumpError(fmt.Sprintf("%s failed", tool), dumpErr)
		m.logger.LogBackup(string(scope), target, "", 0, time.Since(start), err)
		return nil, err
	}

	// A backup that cannot be restored is worse than no backup; verify the
	// container before claiming success.
	if state := m.store.Validate(art); state != artifact.IntegrityValid {
		os.Remove(art.Path)
		err := NewValidationError(fmt.Sprintf("artifact %s failed integrity check after write", art.Path))
		m.logger.LogBackup(string(scope), target, "", 0, time.Since(start), err)
		return nil, err
	}
	art.Integrity = artifact.IntegrityValid

	m.logger.LogBackup(string(scope), target, art.Path, art.SizeBytes, time.Since(start), nil)
	m.pruneAfterBackup(scope)
	return art, nil
}

// pruneAfterBackup applies the scope's retention after a successful write.
// Retention is best-effort; a pruning failure is logged, never escalated.
func (m *Manager) pruneAfterBackup(scope artifact.Scope) {
	days := m.retention.DatabaseRetentionDays
	if scope == artifact.ScopeCluster {
		days = m.retention.ClusterRetentionDays
	}
	if days <= 0 {
		return
	}
	deleted, err := m.store.Prune(scope, days, false)
	m.logger.LogPrune(string(scope), days, deleted, err)
}
