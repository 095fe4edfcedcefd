package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/store/memory"
)

type recordingWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *recordingWriter) Put(_ context.Context, path string, data io.Reader, ct string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = raw
	w.types[path] = ct
	return nil
}

func (w *recordingWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "application/x-ndjson")
}

func lines(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestArchiveRetirements(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	for i, at := range []time.Time{cutoff.Add(-48 * time.Hour), cutoff.Add(-time.Hour), cutoff.Add(time.Hour)} {
		rec := domain.RetirementRecord{
			AssetID:        fmt.Sprintf("asset-%d", i),
			Owner:          owner,
			Beneficiary:    "Acme",
			Reason:         domain.DefaultRetirementReason,
			RetirementDate: at,
		}
		if err := store.Retirements().Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	w := newRecordingWriter()
	n, err := NewArchiver(w, store).ArchiveRetirements(ctx, cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived = %d, want 2", n)
	}
	path := "archive/retirements/2026-03.jsonl"
	if w.types[path] != "application/x-ndjson" {
		t.Fatalf("objects = %v", w.types)
	}
	got := lines(t, w.objects[path])
	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2", len(got))
	}
	for _, l := range got {
		if l["asset_id"] == "asset-2" {
			t.Fatalf("record after cutoff archived: %v", l)
		}
	}

	audit, err := store.Audit().List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(audit) != 1 || audit[0].Event != "archive.retirements" {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestArchiveSalesPages(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seller := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buyer := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	total := archivePageSize + 7
	for i := 0; i < total; i++ {
		sale := domain.Sale{
			ID:          fmt.Sprintf("sale-%d", i),
			AssetID:     fmt.Sprintf("asset-%d", i),
			Seller:      seller,
			Buyer:       buyer,
			Price:       100,
			CompletedAt: cutoff.Add(-time.Duration(i+1) * time.Minute),
		}
		if err := store.Sales().Insert(ctx, sale); err != nil {
			t.Fatalf("insert sale: %v", err)
		}
	}

	w := newRecordingWriter()
	n, err := NewArchiver(w, store).ArchiveSales(ctx, cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != int64(total) {
		t.Fatalf("archived = %d, want %d", n, total)
	}
	seen := map[any]bool{}
	for _, l := range lines(t, w.objects["archive/sales/2026-03.jsonl"]) {
		seen[l["id"]] = true
	}
	if len(seen) != total {
		t.Fatalf("distinct sales = %d, want %d", len(seen), total)
	}
}

func TestArchiveNothing(t *testing.T) {
	w := newRecordingWriter()
	n, err := NewArchiver(w, memory.New()).ArchiveAudit(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("archive = %d, %v", n, err)
	}
	if len(w.objects) != 0 {
		t.Fatalf("uploaded %v for empty archive", w.objects)
	}
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/carbonex/")}
	if got := c.Key("/certificates/a.json"); got != "carbonex/certificates/a.json" {
		t.Fatalf("key = %q", got)
	}
	if got := (&Client{}).Key("x"); got != "x" {
		t.Fatalf("unprefixed key = %q", got)
	}
	if got := normaliseEndpoint("minio:9000", false); got != "http://minio:9000" {
		t.Fatalf("endpoint = %q", got)
	}
}
