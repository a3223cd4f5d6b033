package rate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPOracleBTCRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("quote"); got != "USD" {
			t.Errorf("quote = %q, want USD", got)
		}
		w.Write([]byte(`{"rate": "60123.456789", "timestamp": 1700000000}`))
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second, zerolog.Nop())
	got, err := o.BTCRate(context.Background(), "USD")
	if err != nil {
		t.Fatalf("BTCRate: %v", err)
	}
	want := uint64(60_123_456_789_000)
	if got.Rate != want {
		t.Errorf("rate = %d, want %d", got.Rate, want)
	}
	if got.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v, want 1700000000", got.Timestamp.Unix())
	}
}

func TestHTTPOracleRejectsBadRates(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero", `{"rate": "0", "timestamp": 1}`},
		{"negative", `{"rate": "-1.5", "timestamp": 1}`},
		{"garbage", `{"rate": "sixty thousand", "timestamp": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			o := NewHTTPOracle(srv.URL, time.Second, zerolog.Nop())
			if _, err := o.BTCRate(context.Background(), "USD"); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestHTTPOracleStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second, zerolog.Nop())
	if _, err := o.BTCRate(context.Background(), "USD"); err == nil {
		t.Error("expected error on non-200 status")
	}
}
