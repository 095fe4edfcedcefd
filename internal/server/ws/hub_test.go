package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	memcache "github.com/alanyoungcy/carbonex/internal/cache/memory"
	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/service"
)

type frame struct {
	Type    string          `json:"type"`
	AssetID string          `json:"asset_id"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T) (*memcache.Bus, *service.Publisher, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memcache.NewBus(100)
	hub := NewHub(bus, logger, Config{Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return bus, service.NewPublisher(bus, nil, logger), srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if f := read(t, conn); f.Type != "hub_status" {
		t.Fatalf("first frame type = %q, want hub_status", f.Type)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

var seller = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestHubFiltersByChannelAndAsset(t *testing.T) {
	_, pub, srv := startHub(t)
	sales := dial(t, srv, "?channel="+service.EventChannelPrefix+"sale_completed&asset=A2")

	ctx := context.Background()
	now := time.Now().UTC()
	for _, ev := range []domain.Event{
		domain.ListingCreated{AssetID: "A2", Owner: seller, Price: 5, Timestamp: now},
		domain.SaleCompleted{AssetID: "A1", Seller: seller, Price: 5, Timestamp: now},
		domain.SaleCompleted{AssetID: "A2", Seller: seller, Price: 7, Timestamp: now},
	} {
		if err := pub.Emit(ctx, ev); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	f := read(t, sales)
	if f.Type != string(domain.EventSaleCompleted) || f.AssetID != "A2" {
		t.Fatalf("frame = %+v, want sale_completed for A2", f)
	}
}

func TestHubReplaysSince(t *testing.T) {
	_, pub, srv := startHub(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := pub.Emit(ctx, domain.ListingCreated{AssetID: "A1", Owner: seller, Price: 5, Timestamp: now}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := pub.Emit(ctx, domain.ListingCancelled{AssetID: "A1", Owner: seller, Timestamp: now}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	conn := dial(t, srv, "?since=0")
	if f := read(t, conn); f.Type != string(domain.EventListingCreated) {
		t.Fatalf("first replayed = %q", f.Type)
	}
	if f := read(t, conn); f.Type != string(domain.EventListingCancelled) {
		t.Fatalf("second replayed = %q", f.Type)
	}
}

func TestWants(t *testing.T) {
	c := &client{subs: map[string]bool{service.EventChannelAll: true}, assets: map[string]bool{}}
	env := domain.EventEnvelope{Type: domain.EventCreditRetired, AssetID: "A1"}
	if !c.wants(env) {
		t.Fatal("wildcard subscription should match")
	}
	c.apply(subscribeMsg{Action: "subscribe", Assets: []string{"A2"}})
	if c.wants(env) {
		t.Fatal("asset filter should exclude A1")
	}
	c.apply(subscribeMsg{Action: "unsubscribe", Assets: []string{"A2"}, Channels: []string{service.EventChannelAll}})
	if c.wants(env) {
		t.Fatal("no channel subscriptions should match nothing")
	}
}

func TestHubStopsAcceptingAfterShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(memcache.NewBus(10), logger, Config{Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	handled := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r)
		handled <- struct{}{}
	}))
	defer srv.Close()

	live := dial(t, srv, "")
	<-handled

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// The live client is closed by the hub and its read loop must exit.
	live.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := live.ReadMessage(); err != nil {
			break
		}
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial after shutdown: %v", err)
	}
	defer late.Close()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler blocked registering with a stopped hub")
	}
}
