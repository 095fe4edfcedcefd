package certificate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

type blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newBlobs() *blobs {
	return &blobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *blobs) Put(_ context.Context, path string, data io.Reader, ct string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	b.types[path] = ct
	return nil
}

func (b *blobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *blobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}


func (b *blobs) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func newIssuer(t *testing.T, store *blobs) *Issuer {
	t.Helper()
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 31337)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	iss := NewIssuer(signer, store, store)
	iss.nowFn = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return iss
}

func sampleRetirement() (domain.RetirementRecord, domain.Credit) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	rec := domain.RetirementRecord{
		AssetID:        "credit/1",
		Owner:          owner,
		Beneficiary:    "Acme Corp",
		Reason:         domain.DefaultRetirementReason,
		RetirementDate: time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC),
	}
	credit := domain.Credit{
		AssetID: "credit/1",
		Owner:   owner,
		Metadata: domain.CreditMetadata{
			ProjectName: "Mangrove Restoration",
			ProjectID:   "VCS-1234",
			VintageYear: 2024,
			MetricTons:  1,
		},
	}
	return rec, credit
}

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	store := newBlobs()
	iss := newIssuer(t, store)
	rec, credit := sampleRetirement()

	cert, err := iss.Issue(ctx, rec, credit)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cert.Path != "certificates/credit%2F1.json" {
		t.Fatalf("path = %q", cert.Path)
	}
	if store.types[cert.Path] != "application/json" {
		t.Fatalf("content type = %q", store.types[cert.Path])
	}
	if !strings.HasPrefix(cert.CID, "bafkrei") {
		t.Fatalf("cid = %q, want raw sha2-256 CIDv1", cert.CID)
	}

	data, err := iss.Fetch(ctx, rec.AssetID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	id, err := CID(data)
	if err != nil || id.String() != cert.CID {
		t.Fatalf("stored cid = %v, %v, want %s", id, err, cert.CID)
	}
	doc, err := Verify(data)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if doc.Beneficiary != "Acme Corp" || doc.Credit.ProjectID != "VCS-1234" || doc.Issuer != iss.signer.Address() {
		t.Fatalf("document = %+v", doc)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	ctx := context.Background()
	store := newBlobs()
	iss := newIssuer(t, store)
	rec, credit := sampleRetirement()
	if _, err := iss.Issue(ctx, rec, credit); err != nil {
		t.Fatalf("issue: %v", err)
	}
	data := store.objects[Path(rec.AssetID)]
	tampered := bytes.Replace(data, []byte("Acme Corp"), []byte("Evil Corp"), 1)

	if _, err := Verify(tampered); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("verify tampered error = %v, want %v", err, domain.ErrInvalidSignature)
	}
	if _, err := Verify([]byte("{}")); err == nil {
		t.Fatal("empty certificate verified")
	}
}

func TestFetchMissing(t *testing.T) {
	iss := newIssuer(t, newBlobs())
	if _, err := iss.Fetch(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("fetch error = %v, want %v", err, domain.ErrNotFound)
	}
}
