package replication

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"pgsentry/internal/artifact"
	"pgsentry/internal/logging"
)

// ObjectStore is an offsite destination for artifact copies.
type ObjectStore interface {
	// Upload stores the content of r under key.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error

	// Exists reports whether an object with the key is already stored.
	Exists(ctx context.Context, key string) (bool, error)

	// Name identifies the destination for logs.
	Name() string
}

// Replicator mirrors local artifacts to an offsite object store. Offsite
// copies are redundancy, not the source of truth: any failure here is a
// warning and the local artifact remains authoritative.
type Replicator struct {
	store  *artifact.Store
	dest   ObjectStore
	logger *logging.Logger
}

// NewReplicator creates a replicator.
func NewReplicator(store *artifact.Store, dest ObjectStore, logger *logging.Logger) *Replicator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Replicator{store: store, dest: dest, logger: logger}
}

// key derives the object key for an artifact, preserving the per-scope
// subdirectory so the offsite layout mirrors the local one.
func key(a *artifact.Artifact) string {
	return path.Join(a.Scope.Subdir(), path.Base(a.Path))
}

// MirrorResult summarizes one mirroring pass.
type MirrorResult struct {
	Uploaded int
	Skipped  int
	Failed   int
}

// Mirror uploads every local artifact of a scope that the destination does
// not already hold. Individual failures are logged and counted, never
// raised.
func (r *Replicator) Mirror(ctx context.Context, scope artifact.Scope) (MirrorResult, error) {
	var result MirrorResult

	artifacts, err := r.store.List(scope, "")
	if err != nil {
		return result, fmt.Errorf("failed to list local artifacts: %w", err)
	}

	for i := range artifacts {
		a := &artifacts[i]
		objectKey := key(a)

		exists, err := r.dest.Exists(ctx, objectKey)
		if err != nil {
			r.logger.Warnf("Failed to check %s on %s: %v", objectKey, r.dest.Name(), err)
			result.Failed++
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		if err := r.upload(ctx, a, objectKey); err != nil {
			r.logger.Warnf("Failed to upload %s to %s: %v", objectKey, r.dest.Name(), err)
			result.Failed++
			continue
		}
		r.logger.Infof("Uploaded %s to %s", objectKey, r.dest.Name())
		result.Uploaded++
	}
	return result, nil
}

// upload streams one artifact file, compressed as stored, to the
// destination.
func (r *Replicator) upload(ctx context.Context, a *artifact.Artifact, objectKey string) error {
	file, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer file.Close()
	return r.dest.Upload(ctx, objectKey, file, a.SizeBytes)
}
