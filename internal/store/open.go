package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/statement-analyzer/internal/config"
)

// Opened holds the analyses store and upload bucket for one backend.
type Opened struct {
	Analyses Store
	Uploads  Bucket
	closers  []io.Closer
}

// Close releases the backend clients.
func (o *Opened) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Open builds the analyses store selected by cfg.Backend. Uploads share the
// GCS bucket on the gcs backend and live in cfg.UploadDir otherwise.
func Open(ctx context.Context, cfg config.StoreConfig) (*Opened, error) {
	switch cfg.Backend {
	case config.BackendGCS:
		bucket, err := NewCloudBucket(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("opening bucket %s: %w", cfg.Bucket, err)
		}
		return &Opened{
			Analyses: NewGCSStore(bucket, cfg.Prefix),
			Uploads:  bucket,
			closers:  []io.Closer{bucket},
		}, nil

	case config.BackendPostgres:
		db, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &Opened{
			Analyses: NewPostgresStore(db),
			Uploads:  NewDirBucket(cfg.UploadDir),
			closers:  []io.Closer{db},
		}, nil

	case config.BackendFile, "":
		return &Opened{
			Analyses: NewFileStore(cfg.Dir),
			Uploads:  NewDirBucket(cfg.UploadDir),
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
