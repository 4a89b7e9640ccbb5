package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"accessgate/internal/billing"
	"accessgate/internal/entitlements"
	"accessgate/internal/plans"
)

const (
	signatureHeader = "x-paystack-signature"
	maxBodyBytes    = 1 << 20
	liveText        = "accessgate backend is live"
)

//go:embed schemas/initiate_payment.json
var initiatePaymentSchema string

var checkoutSchema = jsonschema.MustCompileString("initiate_payment.json", initiatePaymentSchema)

type PaymentProcessor interface {
	InitiateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (billing.WebhookResult, error)
}

type AccessChecker interface {
	Check(ctx context.Context, email, deviceID string) (entitlements.Access, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Catalog  *plans.Catalog
	Billing  PaymentProcessor
	Verifier AccessChecker
	Ready    Pinger
	Metrics  http.Handler
	Logger   zerolog.Logger
}

func NewHandler(catalog *plans.Catalog, billingSvc PaymentProcessor, verifier AccessChecker, ready Pinger, metrics http.Handler, logger zerolog.Logger) *Handler {
	return &Handler{
		Catalog:  catalog,
		Billing:  billingSvc,
		Verifier: verifier,
		Ready:    ready,
		Metrics:  metrics,
		Logger:   logger.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/initiate-payment", h.handleInitiatePayment)
	mux.HandleFunc("/paystack-webhook", h.handlePaystackWebhook)
	mux.HandleFunc("/verify-access", h.handleVerifyAccess)
	mux.HandleFunc("/plans", h.handlePlans)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("/metrics", h.Metrics)
	}
	mux.HandleFunc("/", h.handleRoot)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(liveText))
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := ioReadAll(w, r, maxBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// An unknown plan is reported as such even when other fields are invalid.
	if obj, ok := doc.(map[string]any); ok {
		if planID, ok := obj["plan_id"].(string); ok {
			if _, err := h.Catalog.Lookup(planID); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid plan selected")
				return
			}
		}
	}
	if err := checkoutSchema.Validate(doc); err != nil {
		writeError(w, http.StatusBadRequest, "Missing email, device_id or plan_id")
		return
	}

	var req billing.CheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.Billing.InitiateCheckout(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		switch {
		case errors.Is(err, billing.ErrInvalidPlan):
			writeError(w, status, "Invalid plan selected")
		case status == http.StatusBadRequest:
			writeError(w, status, "Missing email, device_id or plan_id")
		default:
			http.Error(w, "Failed to initiate payment", status)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_url": res.PaymentURL})
}

func (h *Handler) handlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payload, err := ioReadAll(w, r, maxBodyBytes)
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	res, err := h.Billing.ProcessWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		status := statusFor(err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	if res.Err != nil {
		h.Logger.Warn().Err(res.Err).Str("reference", res.Reference).Msg("webhook acknowledged without grant")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleVerifyAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	access, err := h.Verifier.Check(r.Context(), q.Get("email"), q.Get("device_id"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeError(w, status, "Missing email or device_id")
			return
		}
		writeError(w, status, "Failed to verify access")
		return
	}
	if !access.Found {
		writeJSON(w, http.StatusOK, map[string]any{"access": false})
		return
	}
	writeJSON(w, http.StatusOK, access)
}

func (h *Handler) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.Catalog.Listing())
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrInvalidPlan),
		errors.Is(err, billing.ErrMalformedPayload),
		errors.Is(err, billing.ErrIncompleteMetadata),
		errors.Is(err, entitlements.ErrMissingIdentity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func ioReadAll(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
