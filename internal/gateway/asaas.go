package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AsaasClient talks to an Asaas-compatible REST API. It implements Client.
type AsaasClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAsaasClient constructs a client for the given API base URL and key.
func NewAsaasClient(baseURL, apiKey string, httpClient *http.Client) *AsaasClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AsaasClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// apiError is the gateway's error envelope.
type apiError struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (e apiError) message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	parts := make([]string, len(e.Errors))
	for i, item := range e.Errors {
		parts[i] = item.Description
	}
	return strings.Join(parts, "; ")
}

type customerResponse struct {
	ID string `json:"id"`
}

type customerListResponse struct {
	Data []customerResponse `json:"data"`
}

type chargeResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
	ExternalRef string  `json:"externalReference"`
	BillingType string  `json:"billingType"`
	DueDate     string  `json:"dueDate"`
	DateCreated string  `json:"dateCreated"`
}

func (c *AsaasClient) CreateCustomer(ctx context.Context, cust Customer) (string, error) {
	var resp customerResponse
	err := c.do(ctx, http.MethodPost, "/customers", cust, &resp)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already") {
			return "", ErrCustomerExists
		}
		return "", err
	}
	return resp.ID, nil
}

func (c *AsaasClient) FindCustomerByTaxID(ctx context.Context, taxID string) (string, error) {
	var resp customerListResponse
	path := "/customers?cpfCnpj=" + url.QueryEscape(taxID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", ErrCustomerNotFound
	}
	return resp.Data[0].ID, nil
}

func (c *AsaasClient) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	var resp chargeResponse
	if err := c.do(ctx, http.MethodPost, "/payments", req, &resp); err != nil {
		return Charge{}, err
	}
	return resp.toCharge(), nil
}

func (c *AsaasClient) GetChargeStatus(ctx context.Context, chargeID string) (Charge, error) {
	var resp chargeResponse
	err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(chargeID), nil, &resp)
	if err != nil {
		return Charge{}, err
	}
	return resp.toCharge(), nil
}

func (c *AsaasClient) Refund(ctx context.Context, chargeID string, amount float64) error {
	body := map[string]any{}
	if amount > 0 {
		body["value"] = amount
	}
	return c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(chargeID)+"/refund", body, nil)
}

func (c *AsaasClient) DeleteCharge(ctx context.Context, chargeID string) error {
	return c.do(ctx, http.MethodDelete, "/payments/"+url.PathEscape(chargeID), nil, nil)
}

func (c *AsaasClient) ConfigureSplit(ctx context.Context, chargeID string, entries []SplitEntry) error {
	body := map[string]any{"split": entries}
	return c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(chargeID)+"/splits", body, nil)
}

func (c *AsaasClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access_token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway response %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrChargeNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope apiError
		if jsonErr := json.Unmarshal(data, &envelope); jsonErr == nil && envelope.message() != "" {
			return fmt.Errorf("gateway %s %s: HTTP %d: %s", method, path, resp.StatusCode, envelope.message())
		}
		return fmt.Errorf("gateway %s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

func (r chargeResponse) toCharge() Charge {
	status := ChargeStatus(r.Status)
	// The gateway reports RECEIVED once funds settle; the flow treats both
	// as confirmation.
	if r.Status == "RECEIVED" || r.Status == "RECEIVED_IN_CASH" {
		status = StatusConfirmed
	}
	updated := time.Now()
	if t, err := time.Parse("2006-01-02", r.DateCreated); err == nil {
		updated = t
	}
	return Charge{
		ID:          r.ID,
		Status:      status,
		Value:       r.Value,
		Description: r.Description,
		ExternalRef: r.ExternalRef,
		BillingType: r.BillingType,
		DueDate:     r.DueDate,
		UpdatedAt:   updated,
	}
}
