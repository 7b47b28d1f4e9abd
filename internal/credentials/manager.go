package credentials

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"pgsentry/internal/logging"
)

const (
	// passwordLength is the length of generated passwords.
	passwordLength = 32
	// passwordAlphabet avoids shell and URL metacharacters so generated
	// passwords survive env files and connection strings unquoted.
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	fingerprintIterations = 4096
	fingerprintKeyLen     = 16
)

// Manager generates, persists, and rotates service credentials. Passwords
// are stored in per-service env files readable only by root; the audit log
// records a derived fingerprint, never the password itself.
type Manager struct {
	dir    string
	logger *logging.Logger
}

// NewManager creates a credential manager rooted at dir.
func NewManager(dir string, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory %s: %w", dir, err)
	}
	return &Manager{dir: dir, logger: logger}, nil
}

// Generate returns a new random password.
func Generate() (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, passwordLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		b[i] = passwordAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Fingerprint derives a short stable identifier for a password, safe to
// log and compare without revealing the secret.
func Fingerprint(password, service string) string {
	key := pbkdf2.Key([]byte(password), []byte("pgsentry:"+service), fingerprintIterations, fingerprintKeyLen, sha256.New)
	return hex.EncodeToString(key)
}

// Path returns the env file path for a service.
func (m *Manager) Path(service string) string {
	return filepath.Join(m.dir, service+".env")
}

// Settings is the connection environment persisted for a service: the
// credentials plus, optionally, the connection path the service should use.
type Settings struct {
	User     string
	Password string
	// Host is a host name or a unix socket directory; libpq treats a
	// PGHOST starting with / as a socket directory.
	Host    string
	Port    int
	SSLMode string
}

// Write persists a service's credentials atomically with mode 0600.
func (m *Manager) Write(service, user, password string) error {
	return m.WriteSettings(service, Settings{User: user, Password: password})
}

// WriteSettings persists a service's full connection environment atomically
// with mode 0600. Connection-path fields are only written when set, so a
// credentials-only rewrite leaves the service on its default path.
func (m *Manager) WriteSettings(service string, s Settings) error {
	path := m.Path(service)
	tmp := path + ".tmp"

	var content strings.Builder
	fmt.Fprintf(&content, "PGUSER=%s\nPGPASSWORD=%s\n", s.User, s.Password)
	if s.Host != "" {
		fmt.Fprintf(&content, "PGHOST=%s\n", s.Host)
	}
	if s.Port > 0 {
		fmt.Fprintf(&content, "PGPORT=%d\n", s.Port)
	}
	if s.SSLMode != "" {
		fmt.Fprintf(&content, "PGSSLMODE=%s\n", s.SSLMode)
	}
	if err := os.WriteFile(tmp, []byte(content.String()), 0600); err != nil {
		return fmt.Errorf("failed to write credential file for %s: %w", service, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish credential file for %s: %w", service, err)
	}
	fields := map[string]interface{}{
		"service":     service,
		"user":        s.User,
		"fingerprint": Fingerprint(s.Password, service),
	}
	if s.Host != "" {
		fields["host"] = s.Host
	}
	m.logger.WithFields(fields).Info("Credential file written")
	return nil
}

// Read loads a service's credentials from its env file.
func (m *Manager) Read(service string) (user, password string, err error) {
	file, err := os.Open(m.Path(service))
	if err != nil {
		return "", "", fmt.Errorf("failed to read credential file for %s: %w", service, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "PGUSER":
			user = value
		case "PGPASSWORD":
			password = value
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("failed to parse credential file for %s: %w", service, err)
	}
	if user == "" {
		return "", "", fmt.Errorf("credential file for %s has no PGUSER entry", service)
	}
	return user, password, nil
}

// Rotate generates a fresh password for a service's database role, applies
// it on the server through the admin connection, and rewrites the env file.
// The database change happens first; a crash between the two steps leaves a
// stale file that the next verification cycle rewrites again.
func (m *Manager) Rotate(ctx context.Context, admin *sql.DB, service, user string) (string, error) {
	password, err := Generate()
	if err != nil {
		return "", err
	}

	// Identifiers cannot be bound as parameters; quote the role name and
	// escape the literal inline.
	query := fmt.Sprintf("ALTER USER %s WITH PASSWORD '%s'",
		quoteIdentifier(user), strings.ReplaceAll(password, "'", "''"))
	if _, err := admin.ExecContext(ctx, query); err != nil {
		return "", fmt.Errorf("failed to rotate password for role %s: %w", user, err)
	}

	if err := m.Write(service, user, password); err != nil {
		return "", err
	}
	m.logger.WithFields(map[string]interface{}{
		"service":     service,
		"user":        user,
		"fingerprint": Fingerprint(password, service),
	}).Info("Credentials rotated")
	return password, nil
}

// quoteIdentifier double-quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
