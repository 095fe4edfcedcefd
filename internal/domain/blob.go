package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects. Paths are relative to the configured bucket
// prefix.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart streams large objects in partSize chunks.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader fetches objects. Get wraps ErrNotFound for missing paths.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports ledger history older than a cutoff to cold storage and
// returns the number of rows written. Nothing is removed from the store.
type Archiver interface {
	ArchiveRetirements(ctx context.Context, before time.Time) (int64, error)
	ArchiveSales(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
