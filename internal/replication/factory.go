package replication

import (
	"context"
	"fmt"
	"strings"

	"pgsentry/internal/config"
)

// NewObjectStore creates the configured offsite destination. An empty
// provider means replication is disabled and returns nil without error.
func NewObjectStore(ctx context.Context, cfg config.ReplicationConfig) (ObjectStore, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, nil

	case "s3":
		return NewS3Store(cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Prefix)

	case "gcs":
		return NewGCSStore(ctx, cfg.GCS.Bucket, cfg.GCS.Prefix, cfg.GCS.CredentialsFile)

	case "azure":
		return NewAzureStore(cfg.Azure.AccountName, cfg.Azure.AccountKey, cfg.Azure.Container, cfg.Azure.Prefix)

	default:
		return nil, fmt.Errorf("unsupported replication provider: %s", cfg.Provider)
	}
}
