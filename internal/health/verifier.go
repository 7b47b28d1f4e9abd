package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pgsentry/internal/config"
	"pgsentry/internal/credentials"
	"pgsentry/internal/logging"
	"pgsentry/internal/probe"
	"pgsentry/internal/services"
)

// State classifies a service's health.
type State string

const (
	StateUnknown     State = "unknown"
	StateReachable   State = "reachable"
	StateUnreachable State = "unreachable"
	StateDegraded    State = "degraded"
)

// Remediation actions, applied in escalating order within a cycle.
const (
	ActionStartService      = "start-service"
	ActionRewriteConnection = "rewrite-connection"
	ActionRotateCredentials = "rotate-credentials"
)

// Report summarizes one verification run for one service.
type Report struct {
	Service      string
	State        State
	Cycles       int
	Remediations []string
	Err          error
}

// Healthy reports whether the service ended up reachable.
func (r *Report) Healthy() bool {
	return r.State == StateReachable
}

// ServiceController is the subset of service control the verifier needs.
type ServiceController interface {
	Start(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	IsActive(ctx context.Context, unit string) bool
	WaitActive(ctx context.Context, unit string, polls int, delay time.Duration) error
}

// CredentialRotator is the subset of credential management the verifier
// needs.
type CredentialRotator interface {
	Read(service string) (user, password string, err error)
	WriteSettings(service string, s credentials.Settings) error
	Rotate(ctx context.Context, admin *sql.DB, service, user string) (string, error)
}

// ProbeFunc checks whether a service can reach the database with its
// current credentials. Injectable for tests; the default probes through
// the connection strategies.
type ProbeFunc func(ctx context.Context, svc config.MonitoredService, password string) error

// StrategyFunc finds a connection strategy that works for a service right
// now, checking each one directly. Injectable for tests; the default walks
// the prober's strategies in order.
type StrategyFunc func(ctx context.Context, svc config.MonitoredService, password string) (probe.Method, error)

// Verifier checks that dependent services can reach the database and
// remediates when they cannot. Remediation escalates within a bounded
// number of cycles; running out of cycles leaves the service degraded but
// never fails the caller, because a restore that completed is still a
// completed restore.
type Verifier struct {
	controller ServiceController
	creds      CredentialRotator
	conn       config.ConnectionConfig
	cfg        config.VerifyConfig
	probeFn    ProbeFunc
	strategyFn StrategyFunc
	admin      func(ctx context.Context) (*sql.DB, error)
	logger     *logging.Logger
}

// NewVerifier creates a health verifier.
func NewVerifier(
	controller *services.Controller,
	creds *credentials.Manager,
	prober *probe.Prober,
	conn config.ConnectionConfig,
	cfg config.VerifyConfig,
	logger *logging.Logger,
) *Verifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	v := &Verifier{
		controller: controller,
		creds:      creds,
		conn:       conn,
		cfg:        cfg,
		logger:     logger,
	}
	v.probeFn = func(ctx context.Context, svc config.MonitoredService, password string) error {
		ep := probe.EndpointFromConfig(conn, conn.AdminDatabase)
		ep.User = svc.User
		ep.Password = password
		_, err := prober.Probe(ctx, ep)
		return err
	}
	v.strategyFn = func(ctx context.Context, svc config.MonitoredService, password string) (probe.Method, error) {
		ep := probe.EndpointFromConfig(conn, conn.AdminDatabase)
		ep.User = svc.User
		ep.Password = password
		var lastErr error
		for _, method := range []probe.Method{probe.MethodSocket, probe.MethodLoopback, probe.MethodDomain} {
			if err := prober.ProbeMethod(ctx, ep, method); err != nil {
				lastErr = err
				continue
			}
			return method, nil
		}
		return "", fmt.Errorf("no connection strategy works for %s: %w", svc.Name, lastErr)
	}
	v.admin = func(ctx context.Context) (*sql.DB, error) {
		db, _, err := prober.Session(ctx, probe.EndpointFromConfig(conn, conn.AdminDatabase))
		return db, err
	}
	return v
}

// SetProbe replaces the connectivity check, used by tests.
func (v *Verifier) SetProbe(fn ProbeFunc) {
	v.probeFn = fn
}

// SetStrategy replaces the working-strategy finder, used by tests.
func (v *Verifier) SetStrategy(fn StrategyFunc) {
	v.strategyFn = fn
}

// SetAdminOpener replaces the admin connection factory, used by tests.
func (v *Verifier) SetAdminOpener(fn func(ctx context.Context) (*sql.DB, error)) {
	v.admin = fn
}

// VerifyAll runs verification for every monitored service and returns one
// report per service. It never returns an error; unhealthy services are
// reported, not raised.
func (v *Verifier) VerifyAll(ctx context.Context, svcs []config.MonitoredService) []Report {
	reports := make([]Report, 0, len(svcs))
	for _, svc := range svcs {
		reports = append(reports, v.Verify(ctx, svc))
	}
	return reports
}

// Verify checks one service and remediates up to the configured cycle
// budget. Each cycle escalates one step further: cycle 1 ensures the unit
// is running, cycle 2 rewrites its connection settings to a strategy that
// verifiably works and restarts it, cycle 3 rotates the database
// credentials. Exhausting the budget is a warning on the report, never an
// error.
func (v *Verifier) Verify(ctx context.Context, svc config.MonitoredService) Report {
	report := Report{Service: svc.Name, State: StateUnknown}

	for cycle := 1; cycle <= v.cfg.MaxRemediationCycles; cycle++ {
		report.Cycles = cycle

		_, password, err := v.creds.Read(svc.Name)
		if err != nil {
			v.logger.Debugf("No stored credentials for %s: %v", svc.Name, err)
			password = ""
		}

		if err := v.probeFn(ctx, svc, password); err == nil {
			report.State = StateReachable
			report.Err = nil
			v.logger.Infof("Service %s verified healthy after %d cycle(s)", svc.Name, cycle)
			return report
		} else {
			report.Err = err
			report.State = StateUnreachable
		}

		action := v.actionForCycle(cycle)
		report.Remediations = append(report.Remediations, action)
		remErr := v.remediate(ctx, svc, action)
		v.logger.LogRemediation(svc.Name, cycle, action, remErr)

		if remErr == nil && v.cfg.RemediationDelay > 0 {
			select {
			case <-ctx.Done():
				report.State = StateDegraded
				report.Err = ctx.Err()
				return report
			case <-time.After(v.cfg.RemediationDelay):
			}
		}
	}

	// Final check after the last remediation.
	_, password, _ := v.creds.Read(svc.Name)
	if err := v.probeFn(ctx, svc, password); err == nil {
		report.State = StateReachable
		report.Err = nil
		return report
	} else {
		report.Err = err
	}

	report.State = StateDegraded
	v.logger.Warnf("Service %s still unreachable after %d remediation cycle(s), leaving degraded",
		svc.Name, v.cfg.MaxRemediationCycles)
	return report
}

// actionForCycle returns the escalation step for a cycle number.
func (v *Verifier) actionForCycle(cycle int) string {
	switch cycle {
	case 1:
		return ActionStartService
	case 2:
		return ActionRewriteConnection
	default:
		return ActionRotateCredentials
	}
}

// remediate applies one remediation action.
func (v *Verifier) remediate(ctx context.Context, svc config.MonitoredService, action string) error {
	switch action {
	case ActionStartService:
		if v.controller.IsActive(ctx, svc.Unit) {
			return nil
		}
		if err := v.controller.Start(ctx, svc.Unit); err != nil {
			return err
		}
		return v.controller.WaitActive(ctx, svc.Unit, v.cfg.ReadinessPolls, v.cfg.ReadinessDelay)

	case ActionRewriteConnection:
		// Find a connection path that demonstrably works right now, rewrite
		// the service's env file to use it, then bounce the unit so it
		// re-reads its settings. A service pointed at a dead socket or a
		// stale host recovers here without touching its credentials.
		user, password, err := v.creds.Read(svc.Name)
		if err != nil {
			user = svc.User
			password = ""
		}
		method, err := v.strategyFn(ctx, svc, password)
		if err != nil {
			return err
		}
		if err := v.creds.WriteSettings(svc.Name, v.settingsFor(method, user, password)); err != nil {
			return err
		}
		if err := v.controller.Restart(ctx, svc.Unit); err != nil {
			return err
		}
		return v.controller.WaitActive(ctx, svc.Unit, v.cfg.ReadinessPolls, v.cfg.ReadinessDelay)

	case ActionRotateCredentials:
		admin, err := v.admin(ctx)
		if err != nil {
			return fmt.Errorf("no admin connection for credential rotation: %w", err)
		}
		defer admin.Close()
		if _, err := v.creds.Rotate(ctx, admin, svc.Name, svc.User); err != nil {
			return err
		}
		if err := v.controller.Restart(ctx, svc.Unit); err != nil {
			return err
		}
		return v.controller.WaitActive(ctx, svc.Unit, v.cfg.ReadinessPolls, v.cfg.ReadinessDelay)

	default:
		return fmt.Errorf("unknown remediation action %q", action)
	}
}

// settingsFor maps a verified strategy to the connection environment a
// service needs to use it.
func (v *Verifier) settingsFor(method probe.Method, user, password string) credentials.Settings {
	s := credentials.Settings{User: user, Password: password, Port: v.conn.Port}
	switch method {
	case probe.MethodSocket:
		s.Host = v.conn.SocketDir
		s.SSLMode = "disable"
	case probe.MethodLoopback:
		s.Host = "127.0.0.1"
		s.SSLMode = "disable"
	case probe.MethodDomain:
		s.Host = v.conn.Domain
		s.SSLMode = "verify-full"
	}
	return s
}
