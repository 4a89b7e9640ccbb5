package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"accessgate/internal/config"
	"accessgate/internal/store"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Paystack.SecretKey = "sk_test_app"
	return cfg
}

func TestNewWithMemoryStore(t *testing.T) {
	a, err := New(context.Background(), testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.Nil(t, a.Queue)
	require.Nil(t, a.Billing.Queue)
	require.NoError(t, a.Store.Ping(context.Background()))

	rec := httptest.NewRecorder()
	a.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHTTPHandlerAnswersPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.AllowOrigins = []string{"https://app.example.com"}
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodOptions, "/initiate-payment", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type,x-paystack-signature")
	rec := httptest.NewRecorder()
	a.HTTPHandler().ServeHTTP(rec, req)

	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	a.HTTPHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "dynamo"
	_, err := OpenStore(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown store driver")
}

func TestOpenStoreMemory(t *testing.T) {
	st, err := OpenStore(context.Background(), testConfig())
	require.NoError(t, err)
	require.IsType(t, &store.MemoryStore{}, st)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  trial:\n    price: 5\n    duration: 1h\n"), 0o600))

	cfg := testConfig()
	cfg.Plans.Path = path
	catalog, err := LoadCatalog(cfg)
	require.NoError(t, err)
	plan, err := catalog.Lookup("trial")
	require.NoError(t, err)
	require.Equal(t, int64(500), plan.AmountMinor())

	cfg.Plans.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = LoadCatalog(cfg)
	require.Error(t, err)
}
