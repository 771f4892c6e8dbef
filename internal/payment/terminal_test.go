package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCharge_Approved(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/charge" {
			t.Fatalf("path = %s, want /api/charge", r.URL.Path)
		}

		var req chargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Amount != 125.5 || req.Currency != "RUB" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(chargeResponse{Status: "APPROVED"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewTerminalClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	approved, err := client.Charge(ctx, mustMoney(t, 125.50))
	if err != nil {
		t.Fatalf("Charge error: %v", err)
	}
	if !approved {
		t.Fatalf("expected approval")
	}
}

func TestCharge_Declined(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer ts.Close()

	client := NewTerminalClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	approved, err := client.Charge(ctx, mustMoney(t, 10))
	if err != nil {
		t.Fatalf("Charge error: %v", err)
	}
	if approved {
		t.Fatalf("402 must mean decline")
	}
}

func TestCharge_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewTerminalClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Charge(ctx, mustMoney(t, 10)); err == nil {
		t.Fatalf("expected error for 500")
	}
}

func TestCharge_NotConfigured(t *testing.T) {
	client := NewTerminalClient("")

	if _, err := client.Charge(context.Background(), mustMoney(t, 10)); err == nil {
		t.Fatalf("expected error for unconfigured terminal")
	}
}
