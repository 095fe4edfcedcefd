package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

const (
	// archivePageSize bounds how many rows are read from the store per query.
	archivePageSize = 500
	// Archives at or above multipartThreshold go through the multipart
	// uploader in multipartPartSize chunks.
	multipartThreshold = 16 << 20
	multipartPartSize  = 8 << 20
)

// ArchiveImpl implements domain.Archiver by paging ledger history out of
// the store, serialising it to JSONL and uploading the result.
//
// Archived rows are never deleted from the store: the retirement ledger and
// sale history are append-only.
type ArchiveImpl struct {
	writer domain.BlobWriter
	store  domain.Tx
	nowFn  func() time.Time
}

// NewArchiver creates a new ArchiveImpl reading from store.
func NewArchiver(writer domain.BlobWriter, store domain.Tx) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, store: store, nowFn: time.Now}
}

// ArchiveRetirements exports every retirement record before the cutoff to
// archive/retirements/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveRetirements(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "retirements", before, func(opts domain.ListOpts) ([]domain.RetirementRecord, error) {
		return a.store.Retirements().List(ctx, opts)
	})
}

// ArchiveSales exports every completed sale before the cutoff to
// archive/sales/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveSales(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "sales", before, func(opts domain.ListOpts) ([]domain.Sale, error) {
		return a.store.Sales().List(ctx, nil, opts)
	})
}

// ArchiveAudit exports every audit entry before the cutoff to
// archive/audit/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "audit", before, func(opts domain.ListOpts) ([]domain.AuditEntry, error) {
		return a.store.Audit().List(ctx, opts)
	})
}

// archive pages through list until it returns a short page, uploads the
// collected rows and records the export in the audit log.
func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, list func(domain.ListOpts) ([]T, error)) (int64, error) {
	var records []T
	for offset := 0; ; offset += archivePageSize {
		page, err := list(domain.ListOpts{Until: &before, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		records = append(records, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.store.Audit().Log(ctx, "archive."+kind, map[string]any{
		"path":        path,
		"count":       count,
		"before":      before.UTC().Format(time.RFC3339),
		"archived_at": a.nowFn().UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by
// the year-month of the cutoff.
//
//	archive/retirements/2026-01.jsonl
//	archive/sales/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
