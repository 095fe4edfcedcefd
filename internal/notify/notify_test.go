package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"sale_completed", " "}, discardLogger())

	if err := n.Notify(context.Background(), "listing_created", "ignored", ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := n.Notify(context.Background(), "sale_completed", "sold", ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := n.NotifyAll(context.Background(), "all", ""); err != nil {
		t.Fatalf("notify all: %v", err)
	}
	if strings.Join(s.titles, ",") != "sold,all" {
		t.Fatalf("titles = %v, want [sold all]", s.titles)
	}
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "credit_retired", "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if len(good.titles) != 1 {
		t.Fatal("second sender skipped after first failed")
	}
}

func TestDescribe(t *testing.T) {
	seller := common.HexToAddress("0x01")
	buyer := common.HexToAddress("0x02")
	title, msg := Describe(domain.SaleCompleted{AssetID: "a", Seller: seller, Buyer: buyer, Price: 100, Timestamp: time.Now()})
	if title != "Sale completed" || !strings.Contains(msg, "for 100") || !strings.Contains(msg, buyer.Hex()) {
		t.Fatalf("Describe = %q, %q", title, msg)
	}
	title, msg = Describe(domain.CreditRetired{AssetID: "a", Owner: seller, Beneficiary: "Acme"})
	if title != "Credit retired" || !strings.HasSuffix(msg, "for Acme") {
		t.Fatalf("Describe = %q, %q", title, msg)
	}
}

func TestDiscordSender(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.nowFn = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	if err := d.Send(context.Background(), "Sale completed", "a sold"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "Sale completed" || e.Description != "a sold" || e.Color != 0xf9a825 || e.Timestamp != "2025-03-01T12:00:00Z" {
		t.Fatalf("embed = %+v", e)
	}
}

func TestDiscordRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "x", "y")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.ChatID == "bad" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Listing created", "VCS_1 <batch>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/bottok/sendMessage" || got.ChatID != "42" || got.ParseMode != "HTML" {
		t.Fatalf("request path=%q body=%+v", path, got)
	}
	if got.Text != "<b>Listing created</b>\nVCS_1 &lt;batch&gt;" {
		t.Fatalf("text = %q", got.Text)
	}

	s.chatID = "bad"
	if err := s.Send(context.Background(), "x", "y"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("error = %v, want status 403", err)
	}
}
