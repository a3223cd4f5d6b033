package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"boxmint/internal/account"
	"boxmint/internal/observability"
)

// Prometheus collectors register once per process.
var clientMetrics = observability.NewMetrics()

func TestHTTPClientTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfer" {
			t.Errorf("path = %s, want /v1/transfer", r.URL.Path)
		}
		var req struct {
			ToOwner string `json:"to_owner"`
			Amount  uint64 `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.ToOwner != "bob" || req.Amount != 1_000 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]uint64{"receipt": 42})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "stablecoin", time.Second, clientMetrics, zerolog.Nop())
	okBefore := promtestutil.ToFloat64(clientMetrics.LedgerTransfers.WithLabelValues("stablecoin", "ok"))

	receipt, err := c.Transfer(context.Background(), TransferArgs{
		To:     account.Account{Owner: "bob"},
		Amount: 1_000,
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if receipt != 42 {
		t.Errorf("receipt = %d, want 42", receipt)
	}
	if got := promtestutil.ToFloat64(clientMetrics.LedgerTransfers.WithLabelValues("stablecoin", "ok")) - okBefore; got != 1 {
		t.Errorf("ok transfers delta = %v, want 1", got)
	}
}

func TestHTTPClientTransferRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 2, "message": "insufficient funds"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "stablecoin", time.Second, clientMetrics, zerolog.Nop())
	rejBefore := promtestutil.ToFloat64(clientMetrics.LedgerTransfers.WithLabelValues("stablecoin", "rejected"))

	_, err := c.Transfer(context.Background(), TransferArgs{To: account.Account{Owner: "bob"}, Amount: 1})
	var te *TransferError
	if !errors.As(err, &te) || te.Code != 2 {
		t.Fatalf("err = %v, want TransferError code 2", err)
	}
	if got := promtestutil.ToFloat64(clientMetrics.LedgerTransfers.WithLabelValues("stablecoin", "rejected")) - rejBefore; got != 1 {
		t.Errorf("rejected transfers delta = %v, want 1", got)
	}
}

func TestHTTPClientBalanceOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/balance" {
			t.Errorf("path = %s, want /v1/balance", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]uint64{"balance": 7_500})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "collateral", time.Second, nil, zerolog.Nop())
	got, err := c.BalanceOf(context.Background(), account.Account{Owner: "alice"})
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if got != 7_500 {
		t.Errorf("balance = %d, want 7500", got)
	}
}
