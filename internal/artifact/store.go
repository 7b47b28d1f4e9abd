package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"pgsentry/internal/logging"
)

// Store is the filesystem artifact repository. Artifacts live under
// baseDir in one subdirectory per scope; file names carry scope, target,
// and creation time, so the files themselves are the catalog.
type Store struct {
	baseDir string
	logger  *logging.Logger
	now     func() time.Time
}

// NewStore creates a store rooted at baseDir, creating the per-scope
// subdirectories if needed.
func NewStore(baseDir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	for _, scope := range []Scope{ScopeDatabase, ScopeCluster} {
		dir := filepath.Join(baseDir, scope.Subdir())
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, NewStorageError(fmt.Sprintf("failed to create artifact directory %s", dir), err)
		}
	}
	return &Store{
		baseDir: baseDir,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// BaseDir returns the repository root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// dir returns the directory holding artifacts of the given scope.
func (s *Store) dir(scope Scope) string {
	return filepath.Join(s.baseDir, scope.Subdir())
}

// List returns the artifacts of a scope, newest first. For database scope a
// non-empty target restricts the result to that database. Files that do not
// follow the naming convention are skipped, so partially written temp files
// never surface.
func (s *Store) List(scope Scope, target string) ([]Artifact, error) {
	if !scope.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown artifact scope %q", scope))
	}

	entries, err := os.ReadDir(s.dir(scope))
	if err != nil {
		return nil, NewStorageError("failed to read artifact directory", err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileScope, fileTarget, createdAt, ok := ParseFileName(entry.Name())
		if !ok || fileScope != scope {
			continue
		}
		if scope == ScopeDatabase && target != "" && fileTarget != target {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Debugf("Skipping unreadable artifact %s: %v", entry.Name(), err)
			continue
		}
		artifacts = append(artifacts, Artifact{
			Scope:      fileScope,
			TargetName: fileTarget,
			Path:       filepath.Join(s.dir(scope), entry.Name()),
			CreatedAt:  createdAt,
			SizeBytes:  info.Size(),
			Integrity:  IntegrityUnverified,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// Latest returns the newest artifact of a scope, optionally restricted to a
// target database.
func (s *Store) Latest(scope Scope, target string) (*Artifact, error) {
	artifacts, err := s.List(scope, target)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		if target != "" {
			return nil, NewNotFoundError(fmt.Sprintf("no %s artifact found for %q", scope, target))
		}
		return nil, NewNotFoundError(fmt.Sprintf("no %s artifact found", scope))
	}
	return &artifacts[0], nil
}

// Put streams src through gzip into a new artifact file. The write is
// atomic: data goes to a temp file in the same directory and the final name
// appears only after a successful sync and rename, so List never observes a
// half-written artifact. On any failure the temp file is removed.
func (s *Store) Put(scope Scope, target string, src io.Reader) (*Artifact, error) {
	if !scope.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown artifact scope %q", scope))
	}
	if scope == ScopeDatabase && target == "" {
		return nil, NewValidationError("database artifact requires a target name")
	}

	createdAt := s.now()
	finalPath := filepath.Join(s.dir(scope), FileName(scope, target, createdAt))
	tmpPath := finalPath + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0640)
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to create artifact file %s", tmpPath), err)
	}

	fail := func(msg string, cause error) (*Artifact, error) {
		file.Close()
		os.Remove(tmpPath)
		return nil, NewStorageError(msg, cause)
	}

	gz := gzip.NewWriter(file)
	if _, err := io.Copy(gz, src); err != nil {
		return fail("failed to write artifact data", err)
	}
	if err := gz.Close(); err != nil {
		return fail("failed to finalize compressed stream", err)
	}
	if err := file.Sync(); err != nil {
		return fail("failed to sync artifact file", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, NewStorageError("failed to close artifact file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, NewStorageError(fmt.Sprintf("failed to publish artifact %s", finalPath), err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, NewStorageError("failed to stat published artifact", err)
	}

	return &Artifact{
		Scope:      scope,
		TargetName: target,
		Path:       finalPath,
		CreatedAt:  createdAt,
		SizeBytes:  info.Size(),
		Integrity:  IntegrityUnverified,
	}, nil
}

// Open returns a reader over the decompressed content of an artifact. The
// caller must close the returned reader.
func (s *Store) Open(a *Artifact) (io.ReadCloser, error) {
	file, err := os.Open(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s does not exist", a.Path))
		}
		return nil, NewStorageError(fmt.Sprintf("failed to open artifact %s", a.Path), err)
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, NewCorruptError(fmt.Sprintf("artifact %s is not a valid gzip stream", a.Path), err)
	}
	return &artifactReader{gz: gz, file: file}, nil
}

type artifactReader struct {
	gz   *gzip.Reader
	file *os.File
}

func (r *artifactReader) Read(p []byte) (int, error) {
	return r.gz.Read(p)
}

func (r *artifactReader) Close() error {
	gzErr := r.gz.Close()
	fileErr := r.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

// Validate performs the structural self-check of an artifact: the whole
// compressed stream is decoded and the trailing checksum verified. The
// result is a classification, not an error; an unreadable or truncated file
// is simply corrupt.
func (s *Store) Validate(a *Artifact) IntegrityState {
	file, err := os.Open(a.Path)
	if err != nil {
		s.logger.Debugf("Artifact %s unreadable during validation: %v", a.Path, err)
		return IntegrityCorrupt
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return IntegrityCorrupt
	}
	defer gz.Close()

	if _, err := io.Copy(io.Discard, gz); err != nil {
		return IntegrityCorrupt
	}
	return IntegrityValid
}

// Prune removes artifacts of a scope older than maxAgeDays. The newest
// artifact of the scope is always retained regardless of age, so a recovery
// point survives even when backups have been failing for longer than the
// retention window. Returns the number of artifacts deleted.
func (s *Store) Prune(scope Scope, maxAgeDays int, dryRun bool) (int, error) {
	if maxAgeDays < 0 {
		return 0, NewValidationError("retention age must not be negative")
	}

	artifacts, err := s.List(scope, "")
	if err != nil {
		return 0, err
	}
	if len(artifacts) <= 1 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -maxAgeDays)
	deleted := 0
	// Index 0 is the newest and never a candidate.
	for _, a := range artifacts[1:] {
		if !a.CreatedAt.Before(cutoff) {
			continue
		}
		if dryRun {
			s.logger.Infof("Would delete artifact %s (age %s)", a.Path, a.Age(s.now()).Round(time.Hour))
			deleted++
			continue
		}
		if err := os.Remove(a.Path); err != nil {
			return deleted, NewStorageError(fmt.Sprintf("failed to delete artifact %s", a.Path), err)
		}
		s.logger.Debugf("Deleted expired artifact %s", a.Path)
		deleted++
	}
	return deleted, nil
}

// Resolve turns an explicit file path into an Artifact, checking existence
// and deriving metadata from the file name. Used when the operator selects
// a specific artifact instead of the newest one.
func (s *Store) Resolve(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s does not exist", path))
		}
		return nil, NewStorageError(fmt.Sprintf("failed to stat artifact %s", path), err)
	}
	if info.IsDir() {
		return nil, NewValidationError(fmt.Sprintf("%s is a directory, not an artifact", path))
	}

	scope, target, createdAt, ok := ParseFileName(filepath.Base(path))
	if !ok {
		// An out-of-convention file can still be restored; fall back to
		// file metadata and let the caller supply scope and target.
		return &Artifact{
			Path:      path,
			CreatedAt: info.ModTime(),
			SizeBytes: info.Size(),
			Integrity: IntegrityUnverified,
		}, nil
	}
	return &Artifact{
		Scope:      scope,
		TargetName: target,
		Path:       path,
		CreatedAt:  createdAt,
		SizeBytes:  info.Size(),
		Integrity:  IntegrityUnverified,
	}, nil
}
