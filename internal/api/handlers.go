// Package api exposes the registration flow, payment polling and webhook
// intake over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"memberflow/internal/flow"
	"memberflow/internal/gateway"
	"memberflow/internal/membership"
	"memberflow/internal/polling"
	"memberflow/internal/webhook"
)

// maxBodyBytes bounds request bodies; payloads are small JSON documents.
const maxBodyBytes = 1 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	orchestrator *flow.Orchestrator
	poller       *polling.Poller
	statuses     polling.StatusClient
	validator    *webhook.Validator
	consumer     *webhook.Consumer
	logf         func(format string, args ...any)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// --- registration flow ---

type registrationResponse struct {
	flow.Result
	Error  string                  `json:"error,omitempty"`
	Fields []membership.FieldError `json:"fields,omitempty"`
}

// ProcessRegistration runs the full payment-first flow synchronously and
// maps the outcome to a status code the frontend can branch on.
func (h *Handlers) ProcessRegistration(w http.ResponseWriter, r *http.Request) {
	var req membership.RegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := h.orchestrator.ProcessRegistration(r.Context(), req)
	resp := registrationResponse{Result: result, Error: result.ErrorMessage()}

	var validationErr *flow.ValidationError
	if errors.As(result.Err, &validationErr) {
		resp.Fields = validationErr.Fields
	}

	writeJSON(w, registrationStatus(result), resp)
}

// registrationStatus picks the HTTP status for a flow result.
func registrationStatus(result flow.Result) int {
	if result.Success {
		return http.StatusCreated
	}
	if result.StillPending {
		return http.StatusAccepted
	}

	var validationErr *flow.ValidationError
	var gatewayErr *flow.GatewayError
	switch {
	case errors.As(result.Err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(result.Err, polling.ErrPaymentRefused):
		return http.StatusPaymentRequired
	case errors.Is(result.Err, flow.ErrEmailTaken),
		errors.Is(result.Err, flow.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.As(result.Err, &gatewayErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetFlow returns the live state of a flow.
func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	fc, ok := h.orchestrator.Flow(flowID)
	if !ok {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}

	writeJSON(w, http.StatusOK, fc)
}

// --- payment polling ---

type pollRequest struct {
	TimeoutSeconds  int `json:"timeout_seconds,omitempty"`
	IntervalSeconds int `json:"interval_seconds,omitempty"`
}

// StartPoll blocks until the charge resolves or the bounded poll gives up.
func (h *Handlers) StartPoll(w http.ResponseWriter, r *http.Request) {
	chargeID := chi.URLParam(r, "chargeID")

	var req pollRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	opts := polling.Options{
		Timeout:  time.Duration(req.TimeoutSeconds) * time.Second,
		Interval: time.Duration(req.IntervalSeconds) * time.Second,
	}

	result, err := h.poller.Poll(r.Context(), chargeID, opts)
	if err != nil {
		h.writePollError(w, chargeID, result, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) writePollError(w http.ResponseWriter, chargeID string, result polling.Result, err error) {
	var unexpected *polling.UnexpectedStatusError
	switch {
	case errors.Is(err, polling.ErrPaymentRefused):
		writeJSON(w, http.StatusPaymentRequired, result)
	case errors.Is(err, polling.ErrPollTimeout):
		writeJSON(w, http.StatusRequestTimeout, result)
	case errors.Is(err, polling.ErrPollCancelled):
		writeError(w, http.StatusConflict, "poll cancelled")
	case errors.As(err, &unexpected):
		writeError(w, http.StatusBadGateway, unexpected.Error())
	case errors.Is(err, gateway.ErrChargeNotFound):
		writeError(w, http.StatusNotFound, "charge not found")
	default:
		h.logf("api: poll %s: %v", chargeID, err)
		writeError(w, http.StatusInternalServerError, "poll failed")
	}
}

// CancelPoll stops an active poll for the charge, if any.
func (h *Handlers) CancelPoll(w http.ResponseWriter, r *http.Request) {
	chargeID := chi.URLParam(r, "chargeID")
	cancelled := h.poller.Cancel(chargeID)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// GetChargeStatus does a single status lookup without polling.
func (h *Handlers) GetChargeStatus(w http.ResponseWriter, r *http.Request) {
	chargeID := chi.URLParam(r, "chargeID")

	charge, err := h.statuses.GetChargeStatus(r.Context(), chargeID)
	if err != nil {
		if errors.Is(err, gateway.ErrChargeNotFound) {
			writeError(w, http.StatusNotFound, "charge not found")
			return
		}
		h.logf("api: charge status %s: %v", chargeID, err)
		writeError(w, http.StatusBadGateway, "gateway unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"charge_id": charge.ID,
		"status":    charge.Status,
		"polling":   h.poller.IsPolling(chargeID),
	})
}

// --- webhook intake ---

// ReceiveWebhook authenticates, deduplicates and applies one gateway
// delivery. Processing failures return 500 so the gateway redelivers.
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.validator.Validate(r.Header, body); err != nil {
		h.logf("api: webhook rejected: %v", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	event, err := webhook.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.consumer.Process(r.Context(), event)
	if err != nil {
		h.logf("api: webhook %s: %v", event.ID, err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
