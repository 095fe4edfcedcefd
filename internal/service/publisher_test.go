package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	memcache "github.com/alanyoungcy/carbonex/internal/cache/memory"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

type recordingNotifier struct {
	events []string
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return n.err
}

func TestPublisherFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memcache.NewBus(0)
	sub, err := bus.Subscribe(ctx, EventChannelAll)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	notifier := &recordingNotifier{}
	p := NewPublisher(bus, notifier, discardLogger())

	ev := domain.SaleCompleted{AssetID: "A", Seller: alice, Buyer: bob, Price: 100, Timestamp: time.Now().UTC(), ListingClosed: true}
	if err := p.Emit(ctx, ev); err != nil {
		t.Fatalf("emit: %v", err)
	}

	var env domain.EventEnvelope
	select {
	case msg := <-sub:
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
	if env.Type != domain.EventSaleCompleted || env.AssetID != "A" || env.ID == "" {
		t.Fatalf("envelope = %+v", env)
	}
	var payload domain.SaleCompleted
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !payload.ListingClosed || payload.Buyer != bob {
		t.Fatalf("payload = %+v", payload)
	}

	msgs, err := bus.StreamRead(ctx, EventStream, "0", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("stream = %v, %v, want 1 entry", msgs, err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "sale_completed" {
		t.Fatalf("notified = %v", notifier.events)
	}
}

func TestPublisherJoinsFailures(t *testing.T) {
	boom := errors.New("webhook down")
	bus := memcache.NewBus(0)
	p := NewPublisher(bus, &recordingNotifier{err: boom}, discardLogger())

	err := p.Emit(context.Background(), domain.ListingCancelled{AssetID: "A", Owner: alice})
	if !errors.Is(err, boom) {
		t.Fatalf("emit error = %v, want %v", err, boom)
	}
	msgs, _ := bus.StreamRead(context.Background(), EventStream, "0", 10)
	if len(msgs) != 1 {
		t.Fatal("stream append skipped after notifier failure")
	}
}
