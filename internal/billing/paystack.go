package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"accessgate/internal/config"
	"accessgate/internal/observability"
	"accessgate/internal/plans"
	"accessgate/internal/store"
)

var (
	ErrInvalidPlan             = errors.New("invalid plan")
	ErrSignatureInvalid        = errors.New("invalid webhook signature")
	ErrMalformedPayload        = errors.New("malformed webhook payload")
	ErrIncompleteMetadata      = errors.New("missing or incomplete metadata")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrStoreWriteFailed        = errors.New("grant not persisted")
)

// GrantQueue receives grants whose store write failed.
type GrantQueue interface {
	PushGrant(ctx context.Context, ent store.Entitlement) error
}

type PaystackService struct {
	Config     config.Config
	Catalog    *plans.Catalog
	Store      store.Store
	Queue      GrantQueue
	Observer   *observability.Observer
	Logger     zerolog.Logger
	HTTPClient *http.Client
	Now        func() time.Time

	breakerOnce sync.Once
	breaker     *gobreaker.CircuitBreaker[*initializeData]
}

func NewPaystackService(cfg config.Config, catalog *plans.Catalog, st store.Store, observer *observability.Observer, logger zerolog.Logger) *PaystackService {
	return &PaystackService{
		Config:     cfg,
		Catalog:    catalog,
		Store:      st,
		Observer:   observer,
		Logger:     logger.With().Str("component", "paystack").Logger(),
		HTTPClient: &http.Client{Timeout: cfg.Paystack.Timeout},
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// rejectedError is a definitive answer from Paystack about the request itself,
// such as an invalid email. It does not count against the circuit breaker.
type rejectedError struct {
	status  int
	message string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("paystack initialize: rejected (status %d): %s", e.status, e.message)
}

func isRejected(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnprocessableEntity
}

func (s *PaystackService) initBreaker() *gobreaker.CircuitBreaker[*initializeData] {
	s.breakerOnce.Do(func() {
		logger := s.Logger
		s.breaker = gobreaker.NewCircuitBreaker[*initializeData](gobreaker.Settings{
			Name:        "paystack",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var rej *rejectedError
				return err == nil || errors.As(err, &rej)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		})
	})
	return s.breaker
}

func (s *PaystackService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *PaystackService) httpClient() *http.Client {
	if s.HTTPClient == nil {
		return http.DefaultClient
	}
	return s.HTTPClient
}

// checkoutMetadata is attached to the transaction and echoed back verbatim on
// the charge.success event.
type checkoutMetadata struct {
	Email    string `json:"email"`
	DeviceID string `json:"device_id"`
	PlanID   string `json:"plan_id"`
}

type initializeRequest struct {
	Email     string           `json:"email"`
	Amount    int64            `json:"amount"`
	Reference string           `json:"reference"`
	Metadata  checkoutMetadata `json:"metadata"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type initializeResponse struct {
	Status  bool           `json:"status"`
	Message string         `json:"message"`
	Data    initializeData `json:"data"`
}

type CheckoutRequest struct {
	Email    string `json:"email"`
	DeviceID string `json:"device_id"`
	PlanID   string `json:"plan_id"`
}

type CheckoutResult struct {
	PaymentURL string `json:"payment_url"`
	Reference  string `json:"reference"`
}

// InitiateCheckout opens a Paystack transaction for the plan and returns the
// hosted payment page. It changes no local state.
func (s *PaystackService) InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	plan, err := s.Catalog.Lookup(req.PlanID)
	if err != nil {
		s.Observer.RecordCheckout("invalid_plan")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if req.Email == "" || req.DeviceID == "" {
		s.Observer.RecordCheckout("invalid_identity")
		return nil, fmt.Errorf("%w: email and device_id are required", ErrIncompleteMetadata)
	}

	body := initializeRequest{
		Email:     req.Email,
		Amount:    plan.AmountMinor(),
		Reference: uuid.NewString(),
		Metadata: checkoutMetadata{
			Email:    req.Email,
			DeviceID: req.DeviceID,
			PlanID:   plan.ID,
		},
	}
	log := s.Logger.With().
		Str("reference", body.Reference).
		Str("email", req.Email).
		Str("device_id", req.DeviceID).
		Str("plan_id", plan.ID).
		Logger()
	log.Info().Int64("amount", body.Amount).Msg("initiating payment")

	ctx, cancel := context.WithTimeout(ctx, s.Config.Paystack.Timeout)
	defer cancel()

	data, err := s.initBreaker().Execute(func() (*initializeData, error) {
		return s.initialize(ctx, body)
	})
	if err != nil {
		log.Error().Err(err).Msg("initiate payment failed")
		s.Observer.RecordCheckout("failed")
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
	}

	s.Observer.RecordCheckout("ok")
	reference := data.Reference
	if reference == "" {
		reference = body.Reference
	}
	return &CheckoutResult{PaymentURL: data.AuthorizationURL, Reference: reference}, nil
}

func (s *PaystackService) initialize(ctx context.Context, body initializeRequest) (*initializeData, error) {
	sk := strings.TrimSpace(s.Config.Paystack.SecretKey)
	if sk == "" {
		return nil, errors.New("paystack secret key not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(s.Config.Paystack.BaseURL, "/") + "/transaction/initialize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sk)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if isRejected(resp.StatusCode) {
		var parsed initializeResponse
		_ = json.Unmarshal(respBody, &parsed)
		msg := parsed.Message
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return nil, &rejectedError{status: resp.StatusCode, message: msg}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paystack initialize: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed initializeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("paystack initialize: decode response: %w", err)
	}
	if !parsed.Status {
		return nil, &rejectedError{status: resp.StatusCode, message: parsed.Message}
	}
	if parsed.Data.AuthorizationURL == "" {
		return nil, errors.New("paystack initialize: missing authorization_url")
	}
	return &parsed.Data, nil
}
