package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/config"
	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/ledger"
	"github.com/alanyoungcy/carbonex/internal/service"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Exchange.PrivateKey = testKey
	cfg.Notify.Events = nil
	return &cfg
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWireInProcess(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.Custody.(*ledger.Custody); !ok {
		t.Fatalf("custody = %T, want in-process ledger", deps.Custody)
	}
	if deps.Minter == nil {
		t.Fatal("in-process custody should double as minter")
	}
	if deps.Archiver != nil || deps.Certificates != nil {
		t.Fatal("blob-backed features should be off without s3")
	}
	if deps.ListingCache != nil {
		t.Fatal("listing cache needs redis")
	}

	svcs, err := BuildServices(ctx, deps, service.ExchangeConfig{}, discardLogger())
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	reg, err := svcs.Registry.Get(ctx)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if reg.Authority != deps.Signer.Address() {
		t.Fatalf("authority = %s, want %s", reg.Authority.Hex(), deps.Signer.Address().Hex())
	}

	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	if _, err := svcs.Registry.RecordMint(ctx, "GS-7-2022", owner, domain.CreditMetadata{ProjectName: "Cookstoves"}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := svcs.Exchange.List(ctx, owner, "GS-7-2022", 40); err != nil {
		t.Fatalf("list: %v", err)
	}

	// The publisher appends every committed event to the stream.
	msgs, err := deps.SignalBus.StreamRead(ctx, service.EventStream, "0", 10)
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stream entries = %d, want 2", len(msgs))
	}
}

func TestWireRejectsMissingKey(t *testing.T) {
	cfg := testConfig()
	cfg.Exchange.PrivateKey = ""
	if _, _, err := Wire(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected authority key error")
	}
}

func TestArchiveModeNeedsBlobStorage(t *testing.T) {
	cfg := testConfig()
	a := New(cfg, discardLogger())
	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer cleanup()

	err = a.ArchiveMode(context.Background(), deps)
	if err == nil || !strings.Contains(err.Error(), "s3") {
		t.Fatalf("err = %v, want s3 requirement", err)
	}
}
