package telemetry

import (
	"context"
	"testing"
)

func TestSetupNoopWhenDisabled(t *testing.T) {
	for _, opts := range []Options{
		{Endpoint: "http://localhost:4318"},
		{Enabled: true},
	} {
		shutdown, err := Setup(context.Background(), opts)
		if err != nil {
			t.Fatalf("Setup(%+v): %v", opts, err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := shutdown(ctx); err != nil {
			t.Fatalf("noop shutdown: %v", err)
		}
	}
}

func TestSetupCreatesProvider(t *testing.T) {
	// Non-routable address: nothing is exported.
	shutdown, err := Setup(context.Background(), Options{
		Enabled:     true,
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "carbonex-test",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
