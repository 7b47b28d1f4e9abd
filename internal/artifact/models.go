package artifact

import (
	"fmt"
	"strings"
	"time"
)

// Scope distinguishes a single-database artifact from a whole-cluster one.
type Scope string

const (
	// ScopeDatabase covers one logical database.
	ScopeDatabase Scope = "database"
	// ScopeCluster covers all databases, roles, and global settings of a
	// server instance.
	ScopeCluster Scope = "cluster"
)

// Prefix returns the file name prefix for the scope. The naming convention
// is a compatibility contract and must not change.
func (s Scope) Prefix() string {
	if s == ScopeCluster {
		return "cluster_backup"
	}
	return "backup"
}

// Subdir returns the repository subdirectory for the scope.
func (s Scope) Subdir() string {
	if s == ScopeCluster {
		return "cluster"
	}
	return "dumps"
}

// Valid reports whether the scope is a known value.
func (s Scope) Valid() bool {
	return s == ScopeDatabase || s == ScopeCluster
}

// IntegrityState classifies the result of the structural self-check of an
// artifact's compressed container.
type IntegrityState string

const (
	IntegrityUnverified IntegrityState = "unverified"
	IntegrityValid      IntegrityState = "valid"
	IntegrityCorrupt    IntegrityState = "corrupt"
)

// Artifact is one stored backup file plus its metadata. Artifacts are
// immutable once written; only retention pruning removes them.
type Artifact struct {
	Scope      Scope          `json:"scope"`
	TargetName string         `json:"target_name,omitempty"`
	Path       string         `json:"path"`
	CreatedAt  time.Time      `json:"created_at"`
	SizeBytes  int64          `json:"size_bytes"`
	Integrity  IntegrityState `json:"integrity"`
}

const (
	fileSuffix = ".sql.gz"
	timeLayout = "20060102_150405"
)

// FileName builds the artifact file name for a scope, target, and creation
// time: {scope-prefix}_{targetName?}_{YYYYMMDD}_{HHMMSS}.sql.gz. The target
// segment is omitted for cluster scope.
func FileName(scope Scope, target string, at time.Time) string {
	stamp := at.Format(timeLayout)
	if scope == ScopeCluster {
		return fmt.Sprintf("%s_%s%s", scope.Prefix(), stamp, fileSuffix)
	}
	return fmt.Sprintf("%s_%s_%s%s", scope.Prefix(), target, stamp, fileSuffix)
}

// ParseFileName parses an artifact file name back into scope, target, and
// creation time. It reports ok=false for names outside the convention,
// including in-progress temp files.
func ParseFileName(name string) (scope Scope, target string, createdAt time.Time, ok bool) {
	if !strings.HasSuffix(name, fileSuffix) {
		return "", "", time.Time{}, false
	}
	base := strings.TrimSuffix(name, fileSuffix)

	if rest, found := strings.CutPrefix(base, ScopeCluster.Prefix()+"_"); found {
		at, err := time.ParseInLocation(timeLayout, rest, time.Local)
		if err != nil {
			return "", "", time.Time{}, false
		}
		return ScopeCluster, "", at, true
	}

	rest, found := strings.CutPrefix(base, ScopeDatabase.Prefix()+"_")
	if !found {
		return "", "", time.Time{}, false
	}
	// Target names may contain underscores, so the timestamp is anchored
	// at the end: {target}_{YYYYMMDD}_{HHMMSS}.
	if len(rest) < len(timeLayout)+2 {
		return "", "", time.Time{}, false
	}
	stamp := rest[len(rest)-len(timeLayout):]
	target = rest[:len(rest)-len(timeLayout)-1]
	if target == "" || rest[len(rest)-len(timeLayout)-1] != '_' {
		return "", "", time.Time{}, false
	}
	at, err := time.ParseInLocation(timeLayout, stamp, time.Local)
	if err != nil {
		return "", "", time.Time{}, false
	}
	return ScopeDatabase, target, at, true
}

// Age returns how old the artifact is relative to now.
func (a *Artifact) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}
