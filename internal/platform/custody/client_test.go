package custody

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	auth  = &crypto.HMACAuth{Key: "custody-key", Secret: "custody-secret"}
)

type call struct {
	method string
	path   string
	body   map[string]any
}

func newServer(t *testing.T, handle func(w http.ResponseWriter, c call)) (*Client, *[]call) {
	t.Helper()
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !auth.Verify(r.Header, r.Method, r.URL.Path, body, time.Now(), time.Minute) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		c := call{method: r.Method, path: r.URL.Path}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &c.body); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		calls = append(calls, c)
		handle(w, c)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", auth, time.Second), &calls
}

func addr(v any) common.Address {
	s, _ := v.(string)
	return common.HexToAddress(s)
}

func TestHolding(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, c call) {
		if c.path == "/v1/assets/credit/1/holders/"+alice.Hex() {
			_, _ = w.Write([]byte(`{"balance":1,"frozen":true}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	ctx := context.Background()

	bal, err := c.Balance(ctx, "credit/1", alice)
	if err != nil || bal != 1 {
		t.Fatalf("balance = %d, %v", bal, err)
	}
	frozen, err := c.IsFrozen(ctx, "credit/1", alice)
	if err != nil || !frozen {
		t.Fatalf("frozen = %v, %v", frozen, err)
	}
	bal, err = c.Balance(ctx, "credit/1", bob)
	if err != nil || bal != 0 {
		t.Fatalf("unknown holder balance = %d, %v", bal, err)
	}
	if len(*calls) != 3 {
		t.Fatalf("calls = %d", len(*calls))
	}
}

func TestMutations(t *testing.T) {
	c, calls := newServer(t, func(w http.ResponseWriter, _ call) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	if err := c.Transfer(ctx, "a1", alice, bob, 1); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := c.Freeze(ctx, "a1", bob); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := c.Unfreeze(ctx, "a1", bob); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if err := c.Burn(ctx, "a1", bob, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}

	want := []string{"/v1/assets/a1/transfer", "/v1/assets/a1/freeze", "/v1/assets/a1/unfreeze", "/v1/assets/a1/burn"}
	if len(*calls) != len(want) {
		t.Fatalf("calls = %+v", *calls)
	}
	for i, p := range want {
		if got := (*calls)[i]; got.method != http.MethodPost || got.path != p {
			t.Fatalf("call %d = %s %s, want POST %s", i, got.method, got.path, p)
		}
	}
	transfer := (*calls)[0].body
	if addr(transfer["from"]) != alice || addr(transfer["to"]) != bob || transfer["quantity"] != float64(1) {
		t.Fatalf("transfer body = %v", transfer)
	}
	if addr((*calls)[1].body["holder"]) != bob {
		t.Fatalf("freeze body = %v", (*calls)[1].body)
	}
	if (*calls)[3].body["quantity"] != float64(1) {
		t.Fatalf("burn body = %v", (*calls)[3].body)
	}
}

func TestErrorMapping(t *testing.T) {
	status := http.StatusForbidden
	c, _ := newServer(t, func(w http.ResponseWriter, _ call) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	})
	ctx := context.Background()

	if err := c.Freeze(ctx, "a1", alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("403 error = %v", err)
	}
	status = http.StatusTooManyRequests
	if err := c.Transfer(ctx, "a1", alice, bob, 1); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("429 error = %v", err)
	}
	status = http.StatusInternalServerError
	if _, err := c.Balance(ctx, "a1", alice); err == nil {
		t.Fatal("500 did not fail")
	}
}

func TestRejectsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !auth.Verify(r.Header, r.Method, r.URL.Path, body, time.Now(), time.Minute) {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &crypto.HMACAuth{Key: "custody-key", Secret: "wrong"}, time.Second)
	if err := c.Freeze(context.Background(), "a1", alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("error = %v, want %v", err, domain.ErrUnauthorized)
	}
}
