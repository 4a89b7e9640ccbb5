package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"accessgate/internal/config"
	"accessgate/internal/observability"
	"accessgate/internal/plans"
	"accessgate/internal/store"
)

const testSecret = "sk_test_webhook_secret"

var testNow = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, st store.Store, baseURL string) *PaystackService {
	t.Helper()
	cfg := config.Default()
	cfg.Paystack.SecretKey = testSecret
	cfg.Paystack.Timeout = 2 * time.Second
	if baseURL != "" {
		cfg.Paystack.BaseURL = baseURL
	}
	svc := NewPaystackService(cfg, plans.Default(), st, observability.NewObserver(prometheus.NewRegistry(), zerolog.Nop()), zerolog.Nop())
	svc.Now = func() time.Time { return testNow }
	return svc
}

type initializeCapture struct {
	calls atomic.Int64
	auth  atomic.Value
	body  atomic.Value
}

func paystackStub(t *testing.T, capture *initializeCapture, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			http.NotFound(w, r)
			return
		}
		capture.calls.Add(1)
		capture.auth.Store(r.Header.Get("Authorization"))
		var body initializeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		capture.body.Store(body)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func okInitialize(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc123","access_code":"abc123","reference":"ref-from-paystack"}}`))
}

func TestInitiateCheckoutSendsAmountAndMetadata(t *testing.T) {
	capture := &initializeCapture{}
	srv := paystackStub(t, capture, okInitialize)
	svc := newTestService(t, store.NewMemoryStore(), srv.URL)

	res, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "a@x.com", DeviceID: "d1", PlanID: "6hrs"})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.paystack.com/abc123", res.PaymentURL)
	require.Equal(t, "ref-from-paystack", res.Reference)

	require.Equal(t, int64(1), capture.calls.Load())
	require.Equal(t, "Bearer "+testSecret, capture.auth.Load())
	body := capture.body.Load().(initializeRequest)
	require.Equal(t, "a@x.com", body.Email)
	require.Equal(t, int64(2000), body.Amount)
	require.NotEmpty(t, body.Reference)
	require.Equal(t, checkoutMetadata{Email: "a@x.com", DeviceID: "d1", PlanID: "6hrs"}, body.Metadata)
}

func TestInitiateCheckoutRejectsUnknownPlanWithoutCallingProcessor(t *testing.T) {
	capture := &initializeCapture{}
	srv := paystackStub(t, capture, okInitialize)
	svc := newTestService(t, store.NewMemoryStore(), srv.URL)

	_, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "a@x.com", DeviceID: "d1", PlanID: "forever"})
	require.ErrorIs(t, err, ErrInvalidPlan)
	require.Equal(t, int64(0), capture.calls.Load())
}

func TestInitiateCheckoutRequiresIdentity(t *testing.T) {
	capture := &initializeCapture{}
	srv := paystackStub(t, capture, okInitialize)
	svc := newTestService(t, store.NewMemoryStore(), srv.URL)

	_, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "a@x.com", PlanID: "6hrs"})
	require.ErrorIs(t, err, ErrIncompleteMetadata)
	require.Equal(t, int64(0), capture.calls.Load())
}

func TestInitiateCheckoutProcessorFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"status":false,"message":"Invalid key"}`, http.StatusUnauthorized)
			},
		},
		{
			name: "status false",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
			},
		},
		{
			name: "missing url",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":true,"data":{}}`))
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`<html>bad gateway</html>`))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			srv := paystackStub(t, &initializeCapture{}, tc.handler)
			svc := newTestService(t, st, srv.URL)

			res, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "a@x.com", DeviceID: "d1", PlanID: "1week"})
			require.ErrorIs(t, err, ErrPaymentInitiationFailed)
			require.Nil(t, res)
			require.Equal(t, 0, st.Len())
		})
	}
}

func TestInitiateCheckoutTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := paystackStub(t, &initializeCapture{}, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	svc := newTestService(t, store.NewMemoryStore(), srv.URL)
	svc.Config.Paystack.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "a@x.com", DeviceID: "d1", PlanID: "6hrs"})
	require.ErrorIs(t, err, ErrPaymentInitiationFailed)
	require.Less(t, time.Since(start), time.Second)
}

func TestInitiateCheckoutBreakerOpensAfterRepeatedFailures(t *testing.T) {
	capture := &initializeCapture{}
	srv := paystackStub(t, capture, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	svc := newTestService(t, store.NewMemoryStore(), srv.URL)

	for i := 0; i < 7; i++ {
		_, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "a@x.com", DeviceID: "d1", PlanID: "6hrs"})
		require.ErrorIs(t, err, ErrPaymentInitiationFailed)
	}
	require.Equal(t, int64(5), capture.calls.Load())
}

func TestInitiateCheckoutBreakerIgnoresRejectedRequests(t *testing.T) {
	capture := &initializeCapture{}
	srv := paystackStub(t, capture, func(w http.ResponseWriter, _ *http.Request) {
		body := capture.body.Load().(initializeRequest)
		switch body.Email {
		case "not-an-email":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":false,"message":"Invalid Email Address Passed"}`))
		case "dup@x.com":
			_, _ = w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
		default:
			okInitialize(w, nil)
		}
	})
	svc := newTestService(t, store.NewMemoryStore(), srv.URL)

	for i := 0; i < 7; i++ {
		_, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "not-an-email", DeviceID: "d1", PlanID: "6hrs"})
		require.ErrorIs(t, err, ErrPaymentInitiationFailed)
		require.ErrorContains(t, err, "Invalid Email Address Passed")
	}
	for i := 0; i < 5; i++ {
		_, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "dup@x.com", DeviceID: "d1", PlanID: "6hrs"})
		require.ErrorIs(t, err, ErrPaymentInitiationFailed)
	}
	require.Equal(t, int64(12), capture.calls.Load())

	res, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "good@x.com", DeviceID: "d2", PlanID: "6hrs"})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.paystack.com/abc123", res.PaymentURL)
	require.Equal(t, int64(13), capture.calls.Load())
}

func TestInitiateCheckoutWithoutConstructor(t *testing.T) {
	srv := paystackStub(t, &initializeCapture{}, okInitialize)
	cfg := config.Default()
	cfg.Paystack.SecretKey = testSecret
	cfg.Paystack.BaseURL = srv.URL
	cfg.Paystack.Timeout = 2 * time.Second
	st := store.NewMemoryStore()
	svc := &PaystackService{Config: cfg, Catalog: plans.Default(), Store: st}

	res, err := svc.InitiateCheckout(context.Background(), CheckoutRequest{Email: "a@x.com", DeviceID: "d1", PlanID: "6hrs"})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.paystack.com/abc123", res.PaymentURL)

	payload := chargeSuccess("a@x.com", "d1", "6hrs")
	wr, err := svc.ProcessWebhook(context.Background(), payload, Sign(testSecret, payload))
	require.NoError(t, err)
	require.NoError(t, wr.Err)
	require.Equal(t, 1, st.Len())
}
