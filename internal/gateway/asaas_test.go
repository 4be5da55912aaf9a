package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newAsaasTestServer(t *testing.T, handler http.HandlerFunc) (*AsaasClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAsaasClient(srv.URL, "key-123", srv.Client()), srv
}

func TestAsaasClient_CreateCustomer(t *testing.T) {
	var gotToken, gotPath string
	var gotBody Customer
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("access_token")
		gotPath = r.Method + " " + r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "cus_000123"})
	})

	id, err := client.CreateCustomer(context.Background(), Customer{
		Name:  "Maria Souza",
		TaxID: "52998224725",
		Email: "maria@example.com",
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if id != "cus_000123" {
		t.Errorf("id = %q", id)
	}
	if gotToken != "key-123" {
		t.Errorf("access_token = %q", gotToken)
	}
	if gotPath != "POST /customers" {
		t.Errorf("request = %q", gotPath)
	}
	if gotBody.TaxID != "52998224725" {
		t.Errorf("cpfCnpj = %q", gotBody.TaxID)
	}
}

func TestAsaasClient_CreateCustomerConflict(t *testing.T) {
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{
				{"code": "invalid_cpfCnpj", "description": "customer already exists for this cpfCnpj"},
			},
		})
	})

	_, err := client.CreateCustomer(context.Background(), Customer{TaxID: "52998224725"})
	if !errors.Is(err, ErrCustomerExists) {
		t.Fatalf("err = %v, want ErrCustomerExists", err)
	}
}

func TestAsaasClient_FindCustomerByTaxID(t *testing.T) {
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cpfCnpj"); got != "52998224725" {
			t.Errorf("cpfCnpj query = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "cus_000042"}},
		})
	})

	id, err := client.FindCustomerByTaxID(context.Background(), "52998224725")
	if err != nil {
		t.Fatalf("FindCustomerByTaxID: %v", err)
	}
	if id != "cus_000042" {
		t.Errorf("id = %q", id)
	}
}

func TestAsaasClient_FindCustomerMiss(t *testing.T) {
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	_, err := client.FindCustomerByTaxID(context.Background(), "52998224725")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
}

func TestAsaasClient_CreateCharge(t *testing.T) {
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req ChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.CustomerID != "cus_000123" || req.Value != 25.00 {
			t.Errorf("charge request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "pay_0001",
			"status":      "PENDING",
			"value":       25.00,
			"billingType": "PIX",
			"dueDate":     "2026-09-01",
		})
	})

	charge, err := client.CreateCharge(context.Background(), ChargeRequest{
		CustomerID:  "cus_000123",
		BillingType: "PIX",
		Value:       25.00,
		DueDate:     "2026-09-01",
	})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if charge.ID != "pay_0001" || charge.Status != StatusPending {
		t.Errorf("charge = %+v", charge)
	}
}

func TestAsaasClient_ReceivedMapsToConfirmed(t *testing.T) {
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay_0001" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "pay_0001",
			"status": "RECEIVED",
			"value":  25.00,
		})
	})

	charge, err := client.GetChargeStatus(context.Background(), "pay_0001")
	if err != nil {
		t.Fatalf("GetChargeStatus: %v", err)
	}
	if charge.Status != StatusConfirmed {
		t.Errorf("Status = %s, want %s", charge.Status, StatusConfirmed)
	}
}

func TestAsaasClient_UnknownChargeIs404(t *testing.T) {
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetChargeStatus(context.Background(), "pay_missing")
	if !errors.Is(err, ErrChargeNotFound) {
		t.Fatalf("err = %v, want ErrChargeNotFound", err)
	}
}

func TestAsaasClient_ConfigureSplit(t *testing.T) {
	var got struct {
		Split []SplitEntry `json:"split"`
	}
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay_0001/splits" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	entries := []SplitEntry{
		{WalletID: "wallet-renum", Percentage: 40},
		{WalletID: "wallet-aff", Percentage: 20},
	}
	if err := client.ConfigureSplit(context.Background(), "pay_0001", entries); err != nil {
		t.Fatalf("ConfigureSplit: %v", err)
	}
	if len(got.Split) != 2 || got.Split[0].WalletID != "wallet-renum" {
		t.Errorf("split payload = %+v", got.Split)
	}
}

func TestAsaasClient_ErrorEnvelopeSurfaces(t *testing.T) {
	client, _ := newAsaasTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{
				{"code": "invalid_value", "description": "value must be positive"},
			},
		})
	})

	_, err := client.CreateCharge(context.Background(), ChargeRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "value must be positive"; !strings.Contains(err.Error(), want) {
		t.Errorf("err = %q, want it to mention %q", err, want)
	}
}
