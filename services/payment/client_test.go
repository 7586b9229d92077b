package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"flowmarket/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Payment.BaseURL = baseURL
	cfg.Payment.SecretKey = "sk_test"
	cfg.Payment.Timeout = 2 * time.Second
	cfg.Payment.RetryCount = 2
	return cfg
}

func TestCreateCheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.Equal(t, "p1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "1999", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		require.Equal(t, "w1", r.PostForm.Get("metadata[workflowId]"))
		require.Equal(t, "u1", r.PostForm.Get("metadata[userId]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://pay.example/cs_1"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	s, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		IdempotencyKey: "p1",
		WorkflowID:     "w1",
		BuyerID:        "u1",
		ProductName:    "Lead router",
		AmountMinor:    1999,
		Currency:       "usd",
	})
	require.NoError(t, err)
	require.Equal(t, "cs_1", s.ID)
	require.Equal(t, "https://pay.example/cs_1", s.URL)
}

func TestCreateCheckoutSessionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_2","url":"https://pay.example/cs_2"}`))
	}))
	defer srv.Close()

	s, err := NewClient(testConfig(srv.URL)).CreateCheckoutSession(context.Background(), CheckoutParams{IdempotencyKey: "p2"})
	require.NoError(t, err)
	require.Equal(t, "cs_2", s.ID)
	require.Equal(t, int32(2), calls.Load())
}

func TestCreateCheckoutSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad currency"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).CreateCheckoutSession(context.Background(), CheckoutParams{IdempotencyKey: "p3"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad currency")
}
