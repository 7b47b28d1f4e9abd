package probe

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pgsentry/internal/config"
	"pgsentry/internal/logging"
)

// Method identifies one connection strategy.
type Method string

const (
	// MethodSocket connects through the local unix domain socket.
	MethodSocket Method = "socket"
	// MethodLoopback connects to 127.0.0.1 without a password, relying on
	// local trust authentication.
	MethodLoopback Method = "loopback"
	// MethodDomain connects to the configured domain name over TLS with
	// password authentication.
	MethodDomain Method = "domain"
)

// ErrUnreachable is returned when every configured strategy has failed.
type ErrUnreachable struct {
	Endpoint string
	Attempts []Attempt
}

// Error implements the error interface.
func (e *ErrUnreachable) Error() string {
	methods := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		methods[i] = string(a.Method)
	}
	return fmt.Sprintf("endpoint %s unreachable after trying %s", e.Endpoint, strings.Join(methods, ", "))
}

// Attempt records one strategy attempt.
type Attempt struct {
	Method Method
	Err    error
}

// Endpoint describes the server to probe.
type Endpoint struct {
	Name      string
	SocketDir string
	Port      int
	User      string
	Password  string
	Database  string
	Domain    string
}

// EndpointFromConfig builds an Endpoint for the configured cluster and the
// given database.
func EndpointFromConfig(conn config.ConnectionConfig, database string) Endpoint {
	return Endpoint{
		Name:      fmt.Sprintf("%s:%d/%s", conn.User, conn.Port, database),
		SocketDir: conn.SocketDir,
		Port:      conn.Port,
		User:      conn.User,
		Password:  conn.Password,
		Database:  database,
		Domain:    conn.Domain,
	}
}

// ConnectFunc opens and pings a database connection for a DSN. Injectable
// for tests.
type ConnectFunc func(ctx context.Context, dsn string) (*sql.DB, error)

// Prober tries connection strategies in a fixed order and reports the
// first that works. Each strategy is attempted exactly once per probe; a
// strategy that fails once will fail again, so there is no retry.
type Prober struct {
	connect ConnectFunc
	timeout time.Duration
	logger  *logging.Logger
}

// NewProber creates a prober with the default pgx-backed connector.
func NewProber(logger *logging.Logger) *Prober {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Prober{
		connect: defaultConnect,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// NewProberWithConnect creates a prober with a custom connector.
func NewProberWithConnect(connect ConnectFunc, logger *logging.Logger) *Prober {
	p := NewProber(logger)
	p.connect = connect
	return p
}

func defaultConnect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// dsn builds the key=value connection string for a strategy. Returns ok
// false when the strategy is not applicable to the endpoint.
func (p *Prober) dsn(ep Endpoint, method Method) (string, bool) {
	switch method {
	case MethodSocket:
		if ep.SocketDir == "" {
			return "", false
		}
		return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable",
			ep.SocketDir, ep.Port, ep.User, ep.Database), true
	case MethodLoopback:
		return fmt.Sprintf("host=127.0.0.1 port=%d user=%s dbname=%s sslmode=disable",
			ep.Port, ep.User, ep.Database), true
	case MethodDomain:
		if ep.Domain == "" || ep.Password == "" {
			return "", false
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=verify-full",
			ep.Domain, ep.Port, ep.User, ep.Password, ep.Database), true
	default:
		return "", false
	}
}

// order is the fixed strategy order: cheapest and most local first.
func order() []Method {
	return []Method{MethodSocket, MethodLoopback, MethodDomain}
}

// Result is the outcome of a successful probe.
type Result struct {
	Method   Method
	Attempts []Attempt
}

// Probe tries each applicable strategy once, in order, and returns the
// first that reaches the server. The connection used for probing is closed
// before returning.
func (p *Prober) Probe(ctx context.Context, ep Endpoint) (*Result, error) {
	var attempts []Attempt
	for _, method := range order() {
		dsn, ok := p.dsn(ep, method)
		if !ok {
			p.logger.Debugf("Skipping %s strategy for %s: not applicable", method, ep.Name)
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		db, err := p.connect(attemptCtx, dsn)
		cancel()
		if err != nil {
			p.logger.LogProbeAttempt(ep.Name, string(method), false, err)
			attempts = append(attempts, Attempt{Method: method, Err: err})
			continue
		}
		db.Close()
		p.logger.LogProbeAttempt(ep.Name, string(method), true, nil)
		attempts = append(attempts, Attempt{Method: method})
		return &Result{Method: method, Attempts: attempts}, nil
	}
	return nil, &ErrUnreachable{Endpoint: ep.Name, Attempts: attempts}
}

// ProbeMethod tries a single strategy once.
func (p *Prober) ProbeMethod(ctx context.Context, ep Endpoint, method Method) error {
	dsn, ok := p.dsn(ep, method)
	if !ok {
		return fmt.Errorf("strategy %s is not applicable to endpoint %s", method, ep.Name)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	db, err := p.connect(attemptCtx, dsn)
	if err != nil {
		p.logger.LogProbeAttempt(ep.Name, string(method), false, err)
		return err
	}
	db.Close()
	p.logger.LogProbeAttempt(ep.Name, string(method), true, nil)
	return nil
}

// Session opens a working connection using the first strategy that
// succeeds and returns it. The caller owns the connection.
func (p *Prober) Session(ctx context.Context, ep Endpoint) (*sql.DB, Method, error) {
	var attempts []Attempt
	for _, method := range order() {
		dsn, ok := p.dsn(ep, method)
		if !ok {
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		db, err := p.connect(attemptCtx, dsn)
		cancel()
		if err != nil {
			p.logger.LogProbeAttempt(ep.Name, string(method), false, err)
			attempts = append(attempts, Attempt{Method: method, Err: err})
			continue
		}
		p.logger.LogProbeAttempt(ep.Name, string(method), true, nil)
		return db, method, nil
	}
	return nil, "", &ErrUnreachable{Endpoint: ep.Name, Attempts: attempts}
}
