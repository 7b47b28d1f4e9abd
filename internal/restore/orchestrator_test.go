package restore

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgsentry/internal/artifact"
	"pgsentry/internal/config"
	"pgsentry/internal/probe"
)

// fakeBackupper returns canned safety backup results.
type fakeBackupper struct {
	artifact *artifact.Artifact
	err      error
	calls    int
}

func (f *fakeBackupper) BackupDatabase(ctx context.Context, database string) (*artifact.Artifact, error) {
	f.calls++
	return f.artifact, f.err
}

func (f *fakeBackupper) BackupCluster(ctx context.Context) (*artifact.Artifact, error) {
	f.calls++
	return f.artifact, f.err
}

// fakeOpener hands out queued connections, one per Session call.
type fakeOpener struct {
	dbs   []*sql.DB
	errs  []error
	calls int
}

func (f *fakeOpener) Session(ctx context.Context, ep probe.Endpoint) (*sql.DB, probe.Method, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, "", f.errs[i]
	}
	if i < len(f.dbs) {
		return f.dbs[i], probe.MethodSocket, nil
	}
	return nil, "", errors.New("no more connections queued")
}

// fakePauser records pause and resume calls.
type fakePauser struct {
	pauseErr error
	paused   int
	resumed  int
}

func (f *fakePauser) PauseAll(ctx context.Context, units []string) error {
	f.paused++
	return f.pauseErr
}

func (f *fakePauser) ResumeAll(ctx context.Context, units []string) {
	f.resumed++
}

// fakeStreamRunner records stream replays.
type fakeStreamRunner struct {
	calls     [][]string
	streamErr error
	replayed  string
}

func (f *fakeStreamRunner) Run(ctx context.Context, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	return nil
}

func (f *fakeStreamRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	return "", nil
}

func (f *fakeStreamRunner) StreamTo(ctx context.Context, w io.Writer, name string, args ...string) error {
	return nil
}

func (f *fakeStreamRunner) StreamFrom(ctx context.Context, r io.Reader, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.replayed = string(data)
	return f.streamErr
}

type fixture struct {
	store    *artifact.Store
	backups  *fakeBackupper
	opener   *fakeOpener
	pauser   *fakePauser
	runner   *fakeStreamRunner
	orch     *Orchestrator
	artifact *artifact.Artifact
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	art, err := store.Put(artifact.ScopeDatabase, "sales", strings.NewReader("CREATE TABLE orders (id int);"))
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		backups:  &fakeBackupper{artifact: &artifact.Artifact{Path: "/backups/safety.sql.gz"}},
		opener:   &fakeOpener{},
		pauser:   &fakePauser{},
		runner:   &fakeStreamRunner{},
		artifact: art,
	}
	f.orch = NewOrchestrator(f.store, f.backups, f.opener, f.pauser, f.runner, config.ConnectionConfig{
		Port:          5432,
		User:          "postgres",
		AdminDatabase: "postgres",
		SocketDir:     "/var/run/postgresql",
	}, nil)
	f.orch.SetConfirm(func(prompt string) (string, error) { return "yes", nil })
	return f
}

// mockDB builds a sqlmock connection; expectations are configured by the
// caller.
func mockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func expectTargetExists(mock sqlmock.Sqlmock, name string) {
	mock.ExpectQuery("SELECT 1 FROM pg_database").
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
}

func expectRecreate(mock sqlmock.Sqlmock) {
	mock.ExpectExec("pg_terminate_backend").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP DATABASE IF EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRestoreDatabaseSucceeds(t *testing.T) {
	f := newFixture(t)

	adminDB, adminMock := mockDB(t)
	expectTargetExists(adminMock, "sales")
	expectRecreate(adminMock)

	measureDB, measureMock := mockDB(t)
	measureMock.ExpectQuery("SELECT count\\(\\*\\) FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	analyzeDB, analyzeMock := mockDB(t)
	analyzeMock.ExpectExec("ANALYZE").WillReturnResult(sqlmock.NewResult(0, 0))

	f.opener.dbs = []*sql.DB{adminDB, measureDB, analyzeDB}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:    artifact.ScopeDatabase,
		Target:   "sales",
		Services: []string{"app.service"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, session.Outcome)
	assert.Equal(t, PhaseVerified, session.Phase)
	assert.Equal(t, int64(12), session.Metric)
	assert.Empty(t, session.Warnings)
	assert.NotNil(t, session.SafetyArtifact)
	assert.Equal(t, 1, f.backups.calls)
	assert.Equal(t, 1, f.pauser.paused)
	assert.Equal(t, 1, f.pauser.resumed)

	// The artifact content was replayed through psql with error stop set.
	require.NotEmpty(t, f.runner.calls)
	psql := f.runner.calls[len(f.runner.calls)-1]
	assert.Equal(t, "psql", psql[0])
	assert.Contains(t, psql, "ON_ERROR_STOP=1")
	assert.Contains(t, psql, "sales")
	assert.Equal(t, "CREATE TABLE orders (id int);", f.runner.replayed)

	assert.NoError(t, adminMock.ExpectationsWereMet())
	assert.NoError(t, measureMock.ExpectationsWereMet())
	assert.NoError(t, analyzeMock.ExpectationsWereMet())
}

func TestRestoreCorruptArtifactNeverTouchesServices(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.artifact.Path, []byte("not gzip"), 0640))

	session, err := f.orch.Run(context.Background(), Request{
		Scope:    artifact.ScopeDatabase,
		Target:   "sales",
		Services: []string{"app.service"},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindArtifactCorrupt))

	assert.Equal(t, OutcomeFailed, session.Outcome)
	assert.Zero(t, f.pauser.paused, "a corrupt artifact must be rejected before services are paused")
	assert.Zero(t, f.backups.calls)
	assert.Zero(t, f.opener.calls)
	assert.Empty(t, f.runner.calls)
}

func TestRestoreArtifactNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), Request{
		Scope:        artifact.ScopeDatabase,
		Target:       "sales",
		ArtifactPath: "/nonexistent/backup_sales_20240101_020000.sql.gz",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindArtifactNotFound))

	// No artifact in the store for the target either.
	_, err = f.orch.Run(context.Background(), Request{
		Scope:  artifact.ScopeDatabase,
		Target: "no_such_db",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindArtifactNotFound))
}

func TestRestoreTargetMissing(t *testing.T) {
	f := newFixture(t)

	adminDB, adminMock := mockDB(t)
	adminMock.ExpectQuery("SELECT 1 FROM pg_database").
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	f.opener.dbs = []*sql.DB{adminDB}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:  artifact.ScopeDatabase,
		Target: "sales",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindTargetMissing))
	assert.Equal(t, OutcomeFailed, session.Outcome)
	assert.Zero(t, f.backups.calls, "missing target must fail before the safety backup")
	assert.Zero(t, f.pauser.paused)
}

func TestRestoreWrongConfirmationCancels(t *testing.T) {
	f := newFixture(t)
	f.orch.SetConfirm(func(prompt string) (string, error) { return "YES", nil })

	adminDB, adminMock := mockDB(t)
	expectTargetExists(adminMock, "sales")
	f.opener.dbs = []*sql.DB{adminDB}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:    artifact.ScopeDatabase,
		Target:   "sales",
		Services: []string{"app.service"},
	})
	require.Error(t, err)
	assert.True(t, IsCancellation(err))

	assert.Equal(t, OutcomeCancelled, session.Outcome)
	assert.Zero(t, f.pauser.paused, "a cancelled restore must not pause services")
	assert.Empty(t, f.runner.calls, "a cancelled restore must not replay anything")
	assert.NoError(t, adminMock.ExpectationsWereMet())
}

func TestRestoreClusterWrongConfirmationCancels(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put(artifact.ScopeCluster, "", strings.NewReader("-- cluster dump"))
	require.NoError(t, err)

	// "yes" confirms a database restore, but a cluster restore demands the
	// full destructive phrase.
	f.orch.SetConfirm(func(prompt string) (string, error) { return "yes", nil })

	adminDB, adminMock := mockDB(t)
	f.opener.dbs = []*sql.DB{adminDB}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:    artifact.ScopeCluster,
		Services: []string{"app.service"},
	})
	require.Error(t, err)
	assert.True(t, IsCancellation(err))

	assert.Equal(t, OutcomeCancelled, session.Outcome)
	assert.Zero(t, f.pauser.paused, "a cancelled cluster restore must not pause services")
	assert.Empty(t, f.runner.calls, "a cancelled cluster restore must not replay anything")
	assert.NoError(t, adminMock.ExpectationsWereMet())
}

func TestRestoreSafetyBackupFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.backups.artifact = nil
	f.backups.err = errors.New("disk full")

	adminDB, adminMock := mockDB(t)
	expectTargetExists(adminMock, "sales")
	f.opener.dbs = []*sql.DB{adminDB}

	confirmed := false
	f.orch.SetConfirm(func(prompt string) (string, error) {
		confirmed = true
		return "yes", nil
	})

	session, err := f.orch.Run(context.Background(), Request{
		Scope:  artifact.ScopeDatabase,
		Target: "sales",
	})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, session.Outcome)
	assert.False(t, confirmed, "a failed safety backup must abort before confirmation")
	assert.Zero(t, f.pauser.paused)
	assert.Empty(t, f.runner.calls)
}

func TestRestoreSkipSafetyBackup(t *testing.T) {
	f := newFixture(t)

	adminDB, adminMock := mockDB(t)
	expectTargetExists(adminMock, "sales")
	expectRecreate(adminMock)

	measureDB, measureMock := mockDB(t)
	measureMock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	analyzeDB, _ := mockDB(t)

	f.opener.dbs = []*sql.DB{adminDB, measureDB, analyzeDB}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:            artifact.ScopeDatabase,
		Target:           "sales",
		SkipSafetyBackup: true,
	})
	require.NoError(t, err)
	assert.Zero(t, f.backups.calls)
	assert.Nil(t, session.SafetyArtifact)
	assert.Equal(t, OutcomeSucceeded, session.Outcome)
}

func TestRestoreReplaceFailureResumesServices(t *testing.T) {
	f := newFixture(t)
	f.runner.streamErr = errors.New("psql: syntax error")

	adminDB, adminMock := mockDB(t)
	expectTargetExists(adminMock, "sales")
	expectRecreate(adminMock)
	f.opener.dbs = []*sql.DB{adminDB}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:    artifact.ScopeDatabase,
		Target:   "sales",
		Services: []string{"app.service"},
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindReplaceFailed))

	assert.Equal(t, OutcomeFailed, session.Outcome)
	assert.Equal(t, PhaseServicesPaused, session.Phase)
	assert.Equal(t, 1, f.pauser.paused)
	assert.Equal(t, 1, f.pauser.resumed, "services must be resumed even when the replace fails")
}

func TestRestoreVerificationInconclusiveIsWarning(t *testing.T) {
	f := newFixture(t)

	adminDB, adminMock := mockDB(t)
	expectTargetExists(adminMock, "sales")
	expectRecreate(adminMock)

	f.opener.dbs = []*sql.DB{adminDB}
	f.opener.errs = []error{nil, errors.New("connection refused"), errors.New("connection refused")}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:    artifact.ScopeDatabase,
		Target:   "sales",
		Services: []string{"app.service"},
	})
	require.NoError(t, err, "an unmeasurable restore still succeeds")

	assert.Equal(t, OutcomeSucceeded, session.Outcome)
	assert.Equal(t, int64(-1), session.Metric)
	require.Len(t, session.Warnings, 1)
	assert.Contains(t, session.Warnings[0], "verification inconclusive")
	assert.Equal(t, 1, f.pauser.resumed)
}

func TestRestoreClusterAutoConfirm(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put(artifact.ScopeCluster, "", strings.NewReader("-- cluster dump"))
	require.NoError(t, err)

	prompted := false
	f.orch.SetConfirm(func(prompt string) (string, error) {
		prompted = true
		return "", nil
	})

	adminDB, adminMock := mockDB(t)
	measureDB, measureMock := mockDB(t)
	measureMock.ExpectQuery("FROM pg_database").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	f.opener.dbs = []*sql.DB{adminDB, measureDB}

	session, err := f.orch.Run(context.Background(), Request{
		Scope:       artifact.ScopeCluster,
		AutoConfirm: true,
	})
	require.NoError(t, err)

	assert.False(t, prompted, "auto-confirm must skip the prompt")
	assert.Equal(t, OutcomeSucceeded, session.Outcome)
	assert.Equal(t, int64(9), session.Metric)

	// Cluster replay goes through the admin database, with no drop or
	// create of individual databases.
	psql := f.runner.calls[len(f.runner.calls)-1]
	assert.Equal(t, "psql", psql[0])
	assert.Contains(t, psql, "postgres")
	assert.NoError(t, adminMock.ExpectationsWereMet())
}

func TestConfirmationLiterals(t *testing.T) {
	assert.Equal(t, "yes", ConfirmationLiteral(artifact.ScopeDatabase))
	assert.Equal(t, "DESTROY AND RESTORE", ConfirmationLiteral(artifact.ScopeCluster))
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(NewUserCancelledError("declined")))
	assert.False(t, IsCancellation(NewReplaceFailedError("boom", nil)))
	assert.False(t, IsCancellation(errors.New("plain")))
	assert.False(t, IsCancellation(nil))
}
